package l1state

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/sickwell/osmocom-bb-raw/internal/channr"
	"github.com/sickwell/osmocom-bb-raw/internal/msgb"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPool(t *testing.T) *msgb.Pool {
	t.Helper()
	pool, err := msgb.NewPool(16, 64)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	return pool
}

func TestNewStateIsIdle(t *testing.T) {
	s := New(testLogger())

	if s.Dedicated().Active() {
		t.Error("New state must have no dedicated channel")
	}
	if s.Tasks() != 0 {
		t.Errorf("Expected no tasks, got %s", s.Tasks())
	}
	if s.PowerScan().Mode != ScanIdle {
		t.Error("Expected idle power scan")
	}
}

func TestSetDedicatedIsolatesCaller(t *testing.T) {
	s := New(testLogger())
	ma := []uint16{1, 2, 3}
	s.SetDedicated(Dedicated{
		Type:     channr.TypeSDCCH8,
		Timeslot: 1,
		Primary:  FreqSet{TSC: 7, Hopping: true, MA: ma},
	})

	ma[0] = 99
	if got := s.Dedicated().Primary.MA[0]; got != 1 {
		t.Errorf("Published configuration changed through caller slice: MA[0]=%d", got)
	}
}

func TestUpdateSecondaryKeepsPrimary(t *testing.T) {
	s := New(testLogger())
	s.SetDedicated(Dedicated{
		Type:    channr.TypeTCHF,
		Primary: FreqSet{TSC: 3, ARFCN: 10},
	})
	before := s.Dedicated()

	s.UpdateSecondary(FreqSet{TSC: 4, ARFCN: 20}, 1234)

	after := s.Dedicated()
	if after.Type != channr.TypeTCHF || after.Primary.ARFCN != 10 || after.Primary.TSC != 3 {
		t.Errorf("Primary set changed: %+v", after)
	}
	if !after.HasSecondary || after.Secondary.ARFCN != 20 || after.StartingTime != 1234 {
		t.Errorf("Secondary set not applied: %+v", after)
	}
	if before.HasSecondary {
		t.Error("Earlier snapshot was mutated")
	}
}

func TestTaskMaskUpdates(t *testing.T) {
	s := New(testLogger())
	s.EnableTask(channr.TaskCCCH)
	s.EnableTask(channr.TaskTCHFOdd)
	s.DisableTask(channr.TaskCCCH)

	if s.Tasks() != channr.MaskOf(channr.TaskTCHFOdd) {
		t.Errorf("Unexpected tasks %s", s.Tasks())
	}

	var wg sync.WaitGroup
	for task := channr.Task(0); task < channr.NumTasks; task++ {
		wg.Add(1)
		go func(task channr.Task) {
			defer wg.Done()
			s.EnableTask(task)
		}(task)
	}
	wg.Wait()

	if s.Tasks().Count() != int(channr.NumTasks) {
		t.Errorf("Lost concurrent task updates: %s", s.Tasks())
	}
}

func TestTxQueueFIFOAndFlush(t *testing.T) {
	pool := newPool(t)
	s := New(testLogger())
	q := s.Queue(ChanMain)

	first, _ := pool.FromBytes([]byte{1}, "first")
	second, _ := pool.FromBytes([]byte{2}, "second")
	q.Enqueue(first)
	q.Enqueue(second)

	if got := q.Dequeue(); got != first {
		t.Fatalf("Expected first message out first")
	}
	got := q.Dequeue()
	if got != second {
		t.Fatalf("Expected second message")
	}
	if q.Dequeue() != nil {
		t.Error("Expected empty queue")
	}
	first.Free()
	second.Free()

	for i := 0; i < 3; i++ {
		m, _ := pool.FromBytes([]byte{byte(i)}, "queued")
		s.Queue(ChanSACCH).Enqueue(m)
	}
	if n := s.FlushQueues(); n != 3 {
		t.Errorf("Expected 3 flushed, got %d", n)
	}
	if pool.InUse() != 0 {
		t.Errorf("Flush leaked %d buffers", pool.InUse())
	}
}

func TestMeasReportSlotReplacesAndFrees(t *testing.T) {
	pool := newPool(t)
	s := New(testLogger())

	first, _ := pool.FromBytes([]byte{0xaa, 0x01}, "meas1")
	second, _ := pool.FromBytes([]byte{0xaa, 0x02}, "meas2")
	first.L3H, second.L3H = 1, 1

	s.SetMeasReport(first)
	if got := s.MeasReport(); len(got) != 1 || got[0] != 0x01 {
		t.Fatalf("Unexpected report % x", got)
	}

	s.SetMeasReport(second)
	if !first.Freed() {
		t.Error("Replaced report must be freed")
	}
	if second.Freed() {
		t.Error("Installed report must not be freed")
	}

	s.SetMeasReport(nil)
	if !second.Freed() || s.MeasReport() != nil {
		t.Error("Clearing the slot must free the report")
	}
	if pool.InUse() != 0 {
		t.Errorf("Leaked %d buffers", pool.InUse())
	}
}

func TestPowerScanAdvance(t *testing.T) {
	s := New(testLogger())
	s.StartScan(10, 12)

	var measured []uint16
	for {
		arfcn, last, ok := s.AdvanceScan()
		if !ok {
			t.Fatal("Scan stopped before reporting the last ARFCN")
		}
		measured = append(measured, arfcn)
		if last {
			break
		}
	}

	if len(measured) != 3 || measured[0] != 10 || measured[2] != 12 {
		t.Errorf("Unexpected sweep %v", measured)
	}
	if s.PowerScan().Mode != ScanIdle {
		t.Error("Scan must be idle after the last ARFCN")
	}
	if _, _, ok := s.AdvanceScan(); ok {
		t.Error("Advance on idle scan must report not ok")
	}
}

func TestSnapshot(t *testing.T) {
	s := New(testLogger())
	s.SetDedicated(Dedicated{Type: channr.TypeSDCCH4, Timeslot: 0})
	s.EnableTask(channr.TaskSDCCH4_2)
	s.SetCipher(1, make([]byte, 8))
	s.SetParams(Params{TA: 5, TxPower: 7})

	snap := s.Snapshot()
	if snap.Dedicated.TypeName != "SDCCH/4" {
		t.Errorf("Unexpected type name %s", snap.Dedicated.TypeName)
	}
	if len(snap.Tasks) != 1 || snap.Tasks[0] != "SDCCH4_2" {
		t.Errorf("Unexpected tasks %v", snap.Tasks)
	}
	if !snap.CipherKeyed || snap.CipherAlgo != 1 {
		t.Errorf("Unexpected cipher view %+v", snap)
	}
	if snap.Params.TA != 5 || snap.TxQueues["main"] != 0 {
		t.Errorf("Unexpected snapshot %+v", snap)
	}
}

func TestReleaseFailuresAreLogged(t *testing.T) {
	var buf bytes.Buffer
	pool := newPool(t)
	s := New(slog.New(slog.NewTextHandler(&buf, nil)))

	queued, _ := pool.FromBytes([]byte{1}, "queued")
	s.Queue(ChanMain).Enqueue(queued)
	queued.Free()
	if n := s.FlushQueues(); n != 1 {
		t.Errorf("Expected 1 flushed, got %d", n)
	}

	report, _ := pool.FromBytes([]byte{0xaa, 0x01}, "meas")
	s.SetMeasReport(report)
	report.Free()
	s.SetMeasReport(nil)

	out := buf.String()
	for _, where := range []string{"where=tx_queue", "where=meas_report"} {
		if !strings.Contains(out, where) {
			t.Errorf("Expected a release failure logged for %s, got %s", where, out)
		}
	}
	if got := pool.Stats().DoubleFrees; got != 2 {
		t.Errorf("Expected 2 double frees, got %d", got)
	}
}
