package channr

import "testing"

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		chanNr   uint8
		expected Channel
	}{
		{"TCH/F ts2", 0x0a, Channel{Type: TypeTCHF, Timeslot: 2}},
		{"TCH/H(0) ts3", 0x13, Channel{Type: TypeTCHH, Subchannel: 0, Timeslot: 3}},
		{"TCH/H(1) ts3", 0x1b, Channel{Type: TypeTCHH, Subchannel: 1, Timeslot: 3}},
		{"SDCCH/4(2) ts0", 0x30, Channel{Type: TypeSDCCH4, Subchannel: 2, Timeslot: 0}},
		{"SDCCH/8(7) ts1", 0x79, Channel{Type: TypeSDCCH8, Subchannel: 7, Timeslot: 1}},
		{"BCCH is not dedicated", 0x80, Channel{Type: TypeUnknown, Timeslot: 0}},
		{"cbits zero", 0x05, Channel{Type: TypeUnknown, Timeslot: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decode(tt.chanNr); got != tt.expected {
				t.Errorf("Decode(0x%02x) = %s, expected %s", tt.chanNr, got, tt.expected)
			}
		})
	}
}

func TestDecodeTotalAndConsistent(t *testing.T) {
	for i := 0; i < 256; i++ {
		chanNr := uint8(i)
		typ := DecodeType(chanNr)

		switch typ {
		case TypeTCHF, TypeTCHH, TypeSDCCH4, TypeSDCCH8, TypeUnknown:
		default:
			t.Fatalf("chan_nr 0x%02x decoded to undefined type %d", chanNr, typ)
		}

		if IsTraffic(chanNr) != typ.IsTraffic() {
			t.Errorf("chan_nr 0x%02x: IsTraffic=%v but type %s", chanNr, IsTraffic(chanNr), typ)
		}
	}
}

func TestDecodeTask(t *testing.T) {
	tests := []struct {
		chanNr   uint8
		expected Task
	}{
		{0x08, TaskTCHFEven},
		{0x0a, TaskTCHFEven},
		{0x09, TaskTCHFOdd},
		{0x0f, TaskTCHFOdd},
		{0x10, TaskTCHH0},
		{0x18, TaskTCHH1},
		{0x20, TaskSDCCH4_0},
		{0x38, TaskSDCCH4_3},
		{0x40, TaskSDCCH8_0},
		{0x78, TaskSDCCH8_7},
		{0x80, TaskNone},
		{0x00, TaskNone},
	}

	for _, tt := range tests {
		if got := DecodeTask(tt.chanNr); got != tt.expected {
			t.Errorf("DecodeTask(0x%02x) = %s, expected %s", tt.chanNr, got, tt.expected)
		}
	}
}

func TestDecodeTaskBounds(t *testing.T) {
	for i := 0; i < 256; i++ {
		chanNr := uint8(i)
		ch := Decode(chanNr)
		task := DecodeTask(chanNr)

		var base Task
		var count uint8
		switch ch.Type {
		case TypeTCHF:
			if task != TaskTCHFEven && task != TaskTCHFOdd {
				t.Errorf("chan_nr 0x%02x: TCH/F mapped to %s", chanNr, task)
			}
			continue
		case TypeTCHH:
			base, count = TaskTCHH0, TCHHSubchannels
		case TypeSDCCH4:
			base, count = TaskSDCCH4_0, SDCCH4Subchannels
		case TypeSDCCH8:
			base, count = TaskSDCCH8_0, SDCCH8Subchannels
		default:
			if task != TaskNone {
				t.Errorf("chan_nr 0x%02x: unknown channel mapped to %s", chanNr, task)
			}
			continue
		}

		if task < base || task >= base+Task(count) {
			t.Errorf("chan_nr 0x%02x: task %s outside [%s, +%d)", chanNr, task, base, count)
		}
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	for i := 0; i < 256; i++ {
		ch := Decode(uint8(i))
		if ch.Type == TypeUnknown {
			if _, err := Encode(ch); err == nil {
				t.Errorf("Expected error encoding unknown channel 0x%02x", i)
			}
			continue
		}
		got, err := Encode(ch)
		if err != nil {
			t.Fatalf("Encode(%s): unexpected error %v", ch, err)
		}
		if Decode(got) != ch {
			t.Errorf("Encode(%s) = 0x%02x which decodes to %s", ch, got, Decode(got))
		}
	}
}

func TestTaskMask(t *testing.T) {
	m := MaskOf(TaskCCCH, TaskTCHFOdd, TaskNone)
	if !m.Has(TaskCCCH) || !m.Has(TaskTCHFOdd) {
		t.Fatalf("Expected CCCH and TCH_F_ODD in %s", m)
	}
	if m.Count() != 2 {
		t.Errorf("Expected 2 tasks, got %d", m.Count())
	}

	m = m.Without(TaskCCCH).With(TaskCCCHComb)
	if m.Has(TaskCCCH) || !m.Has(TaskCCCHComb) {
		t.Errorf("Unexpected mask %s", m)
	}
	if m.String() != "[CCCH_COMB,TCH_F_ODD]" {
		t.Errorf("Unexpected mask string %s", m)
	}
	if m.Has(TaskNone) {
		t.Error("TaskNone must never be in a mask")
	}
}
