package channr

import (
	"fmt"
	"math/bits"
	"strings"
)

// Task identifies a multiframe scheduler task. The numbering follows the
// layer 1 scheduler task list; TaskNone is used for channel numbers that
// map to no dedicated task.
type Task uint8

const (
	TaskBCCHNorm Task = iota
	TaskBCCHExt
	TaskCCCH
	TaskCCCHComb
	TaskSDCCH4_0
	TaskSDCCH4_1
	TaskSDCCH4_2
	TaskSDCCH4_3
	TaskSDCCH8_0
	TaskSDCCH8_1
	TaskSDCCH8_2
	TaskSDCCH8_3
	TaskSDCCH8_4
	TaskSDCCH8_5
	TaskSDCCH8_6
	TaskSDCCH8_7
	TaskTCHFEven
	TaskTCHFOdd
	TaskTCHH0
	TaskTCHH1
	TaskNeighPM51
	TaskULAllNB

	NumTasks

	TaskNone Task = 0xff
)

var taskNames = [NumTasks]string{
	TaskBCCHNorm:  "BCCH_NORM",
	TaskBCCHExt:   "BCCH_EXT",
	TaskCCCH:      "CCCH",
	TaskCCCHComb:  "CCCH_COMB",
	TaskSDCCH4_0:  "SDCCH4_0",
	TaskSDCCH4_1:  "SDCCH4_1",
	TaskSDCCH4_2:  "SDCCH4_2",
	TaskSDCCH4_3:  "SDCCH4_3",
	TaskSDCCH8_0:  "SDCCH8_0",
	TaskSDCCH8_1:  "SDCCH8_1",
	TaskSDCCH8_2:  "SDCCH8_2",
	TaskSDCCH8_3:  "SDCCH8_3",
	TaskSDCCH8_4:  "SDCCH8_4",
	TaskSDCCH8_5:  "SDCCH8_5",
	TaskSDCCH8_6:  "SDCCH8_6",
	TaskSDCCH8_7:  "SDCCH8_7",
	TaskTCHFEven:  "TCH_F_EVEN",
	TaskTCHFOdd:   "TCH_F_ODD",
	TaskTCHH0:     "TCH_H_0",
	TaskTCHH1:     "TCH_H_1",
	TaskNeighPM51: "NEIGH_PM51",
	TaskULAllNB:   "UL_ALL_NB",
}

func (t Task) String() string {
	if t < NumTasks {
		return taskNames[t]
	}
	if t == TaskNone {
		return "NONE"
	}
	return fmt.Sprintf("Task(%d)", uint8(t))
}

// DecodeTask maps a channel number to the scheduler task serving it.
// TCH/F is split by timeslot parity; the other types are offset by
// their subchannel index.
func DecodeTask(chanNr uint8) Task {
	ch := Decode(chanNr)

	switch ch.Type {
	case TypeTCHF:
		if ch.Timeslot&1 != 0 {
			return TaskTCHFOdd
		}
		return TaskTCHFEven
	case TypeTCHH:
		return TaskTCHH0 + Task(ch.Subchannel)
	case TypeSDCCH4:
		return TaskSDCCH4_0 + Task(ch.Subchannel)
	case TypeSDCCH8:
		return TaskSDCCH8_0 + Task(ch.Subchannel)
	}
	return TaskNone
}

// TaskMask is a set of enabled scheduler tasks
type TaskMask uint32

// MaskOf returns a mask with the given tasks set. TaskNone is ignored.
func MaskOf(tasks ...Task) TaskMask {
	var m TaskMask
	for _, t := range tasks {
		m = m.With(t)
	}
	return m
}

// Has reports whether task t is in the mask
func (m TaskMask) Has(t Task) bool {
	return t < NumTasks && m&(1<<t) != 0
}

// With returns the mask with task t added
func (m TaskMask) With(t Task) TaskMask {
	if t >= NumTasks {
		return m
	}
	return m | 1<<t
}

// Without returns the mask with task t removed
func (m TaskMask) Without(t Task) TaskMask {
	if t >= NumTasks {
		return m
	}
	return m &^ (1 << t)
}

// Count returns the number of enabled tasks
func (m TaskMask) Count() int {
	return bits.OnesCount32(uint32(m))
}

// Tasks lists the enabled tasks in ascending order
func (m TaskMask) Tasks() []Task {
	tasks := make([]Task, 0, m.Count())
	for t := Task(0); t < NumTasks; t++ {
		if m.Has(t) {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

func (m TaskMask) String() string {
	names := make([]string, 0, m.Count())
	for _, t := range m.Tasks() {
		names = append(names, t.String())
	}
	return "[" + strings.Join(names, ",") + "]"
}
