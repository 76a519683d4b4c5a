// Package autochan ranks candidate channels for a radio from observed
// neighbor APs and channel survey data.
package autochan

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"waveguide/internal/channels"
	"waveguide/internal/model"
)

// MinObservedMs is the least survey airtime for which a busy fraction is
// trusted. Briefly scanned channels count as idle.
const MinObservedMs = 1000

var ErrNoCandidates = errors.New("autochan: no legal channel candidates")

// Input is the local view the algorithm scores against.
type Input struct {
	State   model.State
	Allowed []int
}

// Score is the evaluation of one (grouping, primary) pair.
type Score struct {
	Combo   channels.Group
	Primary int

	Busy80, Busy40, Busy20 float64
	Count80, Count40, Count20 int

	tiebreak float64
}

func (s Score) String() string {
	return fmt.Sprintf("%s/%d busy=%.3f,%.3f,%.3f count=%d,%d,%d",
		s.Combo, s.Primary, s.Busy80, s.Busy40, s.Busy20, s.Count80, s.Count40, s.Count20)
}

// less orders by width (wider first) then each width's busy fraction and
// neighbor count, 80 MHz first. The random tiebreak is not consulted.
func (s Score) less(o Score) (bool, bool) {
	if s.Combo.Width() != o.Combo.Width() {
		return s.Combo.Width() > o.Combo.Width(), true
	}
	fs := [...]float64{s.Busy80, float64(s.Count80), s.Busy40, float64(s.Count40), s.Busy20, float64(s.Count20)}
	fo := [...]float64{o.Busy80, float64(o.Count80), o.Busy40, float64(o.Count40), o.Busy20, float64(o.Count20)}
	for i := range fs {
		if fs[i] != fo[i] {
			return fs[i] < fo[i], true
		}
	}
	return false, false
}

// Rank scores every legal (grouping, primary) pair and returns them best
// first. Exact ties are broken by a uniform random draw from rnd (or the
// global source when rnd is nil).
func Rank(in Input, groups []channels.Group, rnd *rand.Rand) ([]Score, error) {
	combos := channels.LegalCombos(channels.AllowedSet(in.Allowed), groups)
	if len(combos) == 0 {
		return nil, ErrNoCandidates
	}

	var neighbors []int
	for _, b := range in.State.FreshBSS() {
		if b.MAC == in.State.Me.MAC {
			continue
		}
		neighbors = append(neighbors, int(b.Freq))
	}
	busy := busyFractions(in.State.Channels)

	float := rand.Float64
	if rnd != nil {
		float = rnd.Float64
	}

	// Neighbors are assumed to run as wide as they can, so every candidate
	// is scored at all three widths whatever its own width.
	var scores []Score
	for _, combo := range combos {
		for _, p := range combo {
			s := Score{Combo: combo, Primary: p, tiebreak: float()}
			for _, f := range neighbors {
				s.Count20 += channels.Overlaps20(f, p)
				s.Count40 += channels.Overlaps40(f, p)
				s.Count80 += channels.Overlaps80(f, p)
			}
			// Summing overlapping channels can exceed 1.0. It still
			// penalizes wide and partially overlapped candidates most.
			for _, c := range busy {
				s.Busy20 += c.frac * float64(channels.Overlaps20(c.freq, p))
				s.Busy40 += c.frac * float64(channels.Overlaps40(c.freq, p))
				s.Busy80 += c.frac * float64(channels.Overlaps80(c.freq, p))
			}
			scores = append(scores, s)
		}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if l, decided := scores[i].less(scores[j]); decided {
			return l
		}
		return scores[i].tiebreak < scores[j].tiebreak
	})
	return scores, nil
}

// ChooseChannel returns the recommended primary frequency.
func ChooseChannel(in Input, groups []channels.Group, hysteresis int, spreading bool, rnd *rand.Rand) (int, error) {
	s, err := Choose(in, groups, hysteresis, spreading, rnd)
	if err != nil {
		return 0, err
	}
	return s.Primary, nil
}

// Choose returns the score of the recommended (grouping, primary) pair.
//
// With spreading disabled the primary inside the winning grouping is the
// one with the most co-channel neighbors. A hysteresis frequency that is
// still among the equally best candidates is kept.
func Choose(in Input, groups []channels.Group, hysteresis int, spreading bool, rnd *rand.Rand) (Score, error) {
	ranked, err := Rank(in, groups, rnd)
	if err != nil {
		return Score{}, err
	}
	best := ranked[0]

	if hysteresis != 0 {
		for _, s := range ranked {
			if _, decided := best.less(s); decided {
				break
			}
			if s.Primary == hysteresis {
				return s, nil
			}
		}
	}

	if spreading {
		return best, nil
	}

	choice := best
	for _, s := range ranked {
		if s.Combo.String() != best.Combo.String() {
			continue
		}
		if s.Count20 > choice.Count20 || (s.Count20 == choice.Count20 && s.tiebreak < choice.tiebreak) {
			choice = s
		}
	}
	return choice, nil
}

type busyChannel struct {
	freq int
	frac float64
}

func busyFractions(survey []model.Channel) []busyChannel {
	out := make([]busyChannel, 0, len(survey))
	for _, c := range survey {
		if c.ObservedMs < MinObservedMs {
			continue
		}
		out = append(out, busyChannel{freq: int(c.Freq), frac: float64(c.BusyMs) / float64(c.ObservedMs)})
	}
	return out
}
