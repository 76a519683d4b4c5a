// Package channels models which Wi-Fi channels interfere with each other at
// 20, 40 and 80 MHz widths, and which channel groupings a radio may use.
//
// All frequencies are 20 MHz channel center frequencies in MHz.
package channels

import (
	"sort"
	"strconv"
	"strings"
)

// Group is a channel grouping: one frequency for 20 MHz, two for 40 MHz,
// four for 80 MHz. Members are listed in ascending order.
type Group []int

// Width returns the grouping's bandwidth in MHz.
func (g Group) Width() int {
	return 20 * len(g)
}

// Contains reports whether f is a member of g.
func (g Group) Contains(f int) bool {
	for _, m := range g {
		if m == f {
			return true
		}
	}
	return false
}

func (g Group) key() string {
	parts := make([]string, len(g))
	for i, f := range g {
		parts[i] = strconv.Itoa(f)
	}
	return strings.Join(parts, ",")
}

func (g Group) String() string {
	return "(" + g.key() + ")"
}

// Candidate grouping sets (US channel plan).
var (
	// C24Main is the strictly non-overlapping 2.4 GHz set: channels 1+5
	// and 11.
	C24Main = []Group{{2412, 2432}, {2462}}

	// C24Any is every 40 MHz pairing on 2.4 GHz, most of them partially
	// overlapping each other.
	C24Any = []Group{
		{2412, 2432}, {2417, 2437}, {2422, 2442}, {2427, 2447},
		{2432, 2452}, {2437, 2457}, {2442, 2462},
	}

	// C5Low are the low-power channels 36-48.
	C5Low = []Group{{5180, 5200, 5220, 5240}}

	// C5High are the high-power channels 149-161 and 165.
	C5High = []Group{{5745, 5765, 5785, 5805}, {5825}}

	// C5DFS share spectrum with radar and need detection support. Some of
	// them have no 40 or 80 MHz partner.
	C5DFS = []Group{
		{5260, 5280, 5300, 5320},
		{5500, 5520, 5540, 5560},
		{5580},
		{5660, 5680},
		{5700},
	}

	C5NonDFS = concat(C5Low, C5High)
	C5Any    = concat(C5NonDFS, C5DFS)

	// CAll is the table the overlap functions search.
	CAll = concat(C24Any, C5Any)
)

// PartialOverlap is the weight of two distinct channels less than 20 MHz
// apart. Partial overlap costs much more throughput than sharing a channel.
const PartialOverlap = 10

// Overlaps20 returns 0 for independent channels, 1 for the same channel
// and PartialOverlap for channels that partly overlap.
func Overlaps20(f1, f2 int) int {
	if f1 == f2 {
		return 1
	}
	d := f1 - f2
	if d < 0 {
		d = -d
	}
	if d < 20 {
		return PartialOverlap
	}
	return 0
}

// Overlaps40 reports whether f2 falls in a 40 MHz channel that has f1 as
// one of its members. f1 must be an exact table frequency; f2 is compared
// at 20 MHz against each member.
//
// On 2.4 GHz most frequencies belong to two pairings (HT40+ and HT40-). The
// first pairing that overlaps wins, so the answer is pessimistic and not
// symmetric.
func Overlaps40(f1, f2 int) int {
	for _, g := range CAll {
		for i := 0; i < len(g); i += 2 {
			if v := overlapsInGroup(f1, f2, g[i:min(i+2, len(g))]); v != 0 {
				return v
			}
		}
	}
	return 0
}

// Overlaps80 is Overlaps40 against whole groupings. There are no 80 MHz
// groupings on 2.4 GHz, so there it matches Overlaps40.
func Overlaps80(f1, f2 int) int {
	for _, g := range CAll {
		if v := overlapsInGroup(f1, f2, g); v != 0 {
			return v
		}
	}
	return 0
}

// LegalCombos returns every grouping derivable from groups whose members
// are all in allowed: each whole group, each 40 MHz half of an 80 MHz
// group, and each single channel. No grouping is returned twice.
func LegalCombos(allowed map[int]bool, groups []Group) []Group {
	var out []Group
	seen := map[string]bool{}
	add := func(g Group) {
		for _, f := range g {
			if !allowed[f] {
				return
			}
		}
		k := g.key()
		if seen[k] {
			return
		}
		seen[k] = true
		out = append(out, append(Group(nil), g...))
	}
	for _, g := range groups {
		add(g)
		for i := 0; i < len(g); i += 2 {
			add(g[i:min(i+2, len(g))])
		}
		for _, f := range g {
			add(Group{f})
		}
	}
	return out
}

// Singles narrows groups to their member channels as 20 MHz groupings, in
// first-seen order.
func Singles(groups []Group) []Group {
	var out []Group
	seen := map[int]bool{}
	for _, g := range groups {
		for _, f := range g {
			if !seen[f] {
				seen[f] = true
				out = append(out, Group{f})
			}
		}
	}
	return out
}

// AllowedSet builds the lookup LegalCombos expects.
func AllowedSet(freqs []int) map[int]bool {
	m := make(map[int]bool, len(freqs))
	for _, f := range freqs {
		m[f] = true
	}
	return m
}

// CandidatesFor picks the candidate set for a radio by the band of its
// allowed frequencies. 5 GHz radios only get DFS groupings when they can
// detect radar. 2.4 GHz radios get every pairing when wide40 is set and
// 20 MHz channels otherwise.
func CandidatesFor(allowed []int, wide40, radar bool) []Group {
	has5 := false
	for _, f := range allowed {
		if Is5GHz(f) {
			has5 = true
			break
		}
	}
	if has5 {
		if radar {
			return C5Any
		}
		return C5NonDFS
	}
	if wide40 {
		return C24Any
	}
	return Singles(C24Any)
}

// Is2GHz reports whether f is in the 2.4 GHz band.
func Is2GHz(f int) bool {
	return f >= 2400 && f < 2500
}

// Is5GHz reports whether f is in the 5 GHz band.
func Is5GHz(f int) bool {
	return f >= 4900 && f < 5900
}

// Sorted returns a sorted copy of freqs.
func Sorted(freqs []int) []int {
	out := append([]int(nil), freqs...)
	sort.Ints(out)
	return out
}

func overlapsInGroup(f1, f2 int, g Group) int {
	if !g.Contains(f1) {
		return 0
	}
	best := 0
	for _, m := range g {
		if o := Overlaps20(f2, m); o > best {
			best = o
		}
	}
	return best
}

func concat(sets ...[]Group) []Group {
	var out []Group
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}
