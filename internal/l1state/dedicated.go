package l1state

import (
	"slices"

	"github.com/sickwell/osmocom-bb-raw/internal/channr"
)

// FreqSet is the frequency configuration of a dedicated channel: either a
// single ARFCN or a hopping sequence over a mobile allocation.
type FreqSet struct {
	TSC     uint8    `json:"tsc"`
	Hopping bool     `json:"hopping"`
	ARFCN   uint16   `json:"arfcn,omitempty"`
	HSN     uint8    `json:"hsn,omitempty"`
	MAIO    uint8    `json:"maio,omitempty"`
	MA      []uint16 `json:"ma,omitempty"`
}

func (f FreqSet) clone() FreqSet {
	f.MA = slices.Clone(f.MA)
	return f
}

// Dedicated is the configuration of the established dedicated channel.
// Values are published whole and never modified after publication.
type Dedicated struct {
	Type     channr.Type `json:"type"`
	Timeslot uint8       `json:"timeslot"`
	Primary  FreqSet     `json:"primary"`

	// Secondary holds the parameters announced by a frequency redefinition,
	// taking effect at StartingTime.
	HasSecondary bool    `json:"has_secondary"`
	Secondary    FreqSet `json:"secondary"`
	StartingTime uint16  `json:"starting_time"`
}

// Active reports whether a dedicated channel is configured
func (d Dedicated) Active() bool {
	return d.Type != channr.TypeNone
}

func (d Dedicated) clone() *Dedicated {
	d.Primary = d.Primary.clone()
	d.Secondary = d.Secondary.clone()
	return &d
}

var noDedicated = &Dedicated{Type: channr.TypeNone}
