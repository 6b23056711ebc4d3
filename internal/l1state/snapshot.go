package l1state

import "github.com/sickwell/osmocom-bb-raw/internal/protocol"

// Snapshot is a JSON view of the control state for status reporting
type Snapshot struct {
	Dedicated   DedicatedView  `json:"dedicated"`
	Tasks       []string       `json:"tasks"`
	TCHSync     bool           `json:"tch_sync"`
	TCHMode     uint8          `json:"tch_mode"`
	CCCHMode    uint8          `json:"ccch_mode"`
	Params      Params         `json:"params"`
	CipherAlgo  uint8          `json:"cipher_algo"`
	CipherKeyed bool           `json:"cipher_keyed"`
	TxQueues    map[string]int `json:"tx_queues"`
	MeasReport  bool           `json:"meas_report_pending"`
	PowerScan   PowerScan      `json:"power_scan"`
}

// DedicatedView is the dedicated configuration with a readable type name
type DedicatedView struct {
	Dedicated
	TypeName string `json:"type_name"`
}

// Snapshot captures the current state. Fields are read individually, so
// the snapshot is only as consistent as the frame path would see it.
func (s *State) Snapshot() Snapshot {
	d := s.Dedicated()
	c := s.Cipher()

	tasks := s.Tasks().Tasks()
	names := make([]string, 0, len(tasks))
	for _, t := range tasks {
		names = append(names, t.String())
	}

	queues := make(map[string]int, NumChannels)
	for ch := Channel(0); ch < NumChannels; ch++ {
		queues[ch.String()] = s.queues[ch].Len()
	}

	s.measMu.Lock()
	meas := s.measMsg != nil
	s.measMu.Unlock()

	return Snapshot{
		Dedicated:   DedicatedView{Dedicated: d, TypeName: d.Type.String()},
		Tasks:       names,
		TCHSync:     s.TCHSync(),
		TCHMode:     s.TCHMode(),
		CCCHMode:    s.CCCHMode(),
		Params:      s.Params(),
		CipherAlgo:  c.Algo,
		CipherKeyed: len(c.Key) == protocol.CipherKeySize,
		TxQueues:    queues,
		MeasReport:  meas,
		PowerScan:   s.PowerScan(),
	}
}
