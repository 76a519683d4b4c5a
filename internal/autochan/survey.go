package autochan

import (
	"sort"

	"waveguide/internal/model"
)

// IncrementalActiveMs separates short off-channel samples, which are added
// to what we already have, from full on-channel readings, which replace it.
const IncrementalActiveMs = 250

// Reading is one raw survey dump entry.
type Reading struct {
	Freq     uint16
	NoiseDBM int8
	ActiveMs uint32
	BusyMs   uint32
}

// SurveyTable accumulates survey readings per frequency.
type SurveyTable struct {
	last  map[uint16]Reading
	chans map[uint16]model.Channel
}

func NewSurveyTable() *SurveyTable {
	return &SurveyTable{
		last:  map[uint16]Reading{},
		chans: map[uint16]model.Channel{},
	}
}

// Update folds r into the table. It returns false when r repeats the
// previous reading for its frequency and was dropped.
func (t *SurveyTable) Update(r Reading) bool {
	if prev, ok := t.last[r.Freq]; ok && prev == r {
		return false
	}
	t.last[r.Freq] = r

	c := t.chans[r.Freq]
	c.Freq = r.Freq
	c.NoiseDBM = r.NoiseDBM
	if r.ActiveMs < IncrementalActiveMs {
		c.ObservedMs += r.ActiveMs
		c.BusyMs += r.BusyMs
	} else {
		c.ObservedMs = r.ActiveMs
		c.BusyMs = r.BusyMs
	}
	t.chans[r.Freq] = c
	return true
}

// Channels returns the accumulated table ordered by frequency.
func (t *SurveyTable) Channels() []model.Channel {
	out := make([]model.Channel, 0, len(t.chans))
	for _, c := range t.chans {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Freq < out[j].Freq })
	return out
}
