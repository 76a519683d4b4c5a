package channels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOverlaps20(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, Overlaps20(2412, 2412))
	assert.GreaterOrEqual(t, Overlaps20(2412, 2411), 2)
	assert.Equal(t, PartialOverlap, Overlaps20(2417, 2412))
	for _, f := range []int{2393, 2417, 2422, 2427, 2431} {
		assert.NotZero(t, Overlaps20(2412, f), "freq %d", f)
	}
	assert.Zero(t, Overlaps20(2412, 2392))
	assert.Zero(t, Overlaps20(2412, 2432))
}

func TestOverlaps40(t *testing.T) {
	t.Parallel()

	tests := []struct {
		f1, f2 int
		want   bool
	}{
		{2412, 2432, true},
		{2412, 2451, true},
		// 2412 only pairs with 2432; 2452 is a full channel away from both.
		{2412, 2452, false},
		{5745, 5725, false},
		{5745, 5765, true},
		{5745, 5784, true},
		{5745, 5785, false},
		// 2437 and 2432 each sit in a pairing with the first frequency.
		{2457, 2437, true},
		{2452, 2432, true},
	}
	for _, tt := range tests {
		got := Overlaps40(tt.f1, tt.f2)
		if tt.want {
			assert.NotZero(t, got, "Overlaps40(%d, %d)", tt.f1, tt.f2)
		} else {
			assert.Zero(t, got, "Overlaps40(%d, %d)", tt.f1, tt.f2)
		}
	}
}

func TestOverlaps40_Asymmetric(t *testing.T) {
	t.Parallel()

	// The first frequency must be a table channel; the second is only
	// compared against its pairing.
	assert.Equal(t, PartialOverlap, Overlaps40(2412, 2451))
	assert.Zero(t, Overlaps40(2451, 2412))
}

func TestOverlaps40_FirstOverlappingPairingWins(t *testing.T) {
	t.Parallel()

	// 2437 is in (2417, 2437) and (2437, 2457). Only the second reaches 2462.
	assert.Equal(t, PartialOverlap, Overlaps40(2437, 2462))
	// (2412, 2432) matches 2412 exactly before any partial pairing is seen.
	assert.Equal(t, 1, Overlaps40(2432, 2412))
}

func TestOverlaps80(t *testing.T) {
	t.Parallel()

	assert.NotZero(t, Overlaps80(2412, 2432))
	assert.Zero(t, Overlaps80(2412, 2452))
	assert.Zero(t, Overlaps80(2412, 2462))

	assert.Zero(t, Overlaps80(5745, 5725))
	assert.NotZero(t, Overlaps80(5745, 5765))
	assert.NotZero(t, Overlaps80(5745, 5784))
	assert.Equal(t, 1, Overlaps80(5745, 5785))
	assert.Equal(t, 1, Overlaps80(5240, 5180))
	assert.Zero(t, Overlaps80(5745, 5180))
	assert.Zero(t, Overlaps80(5825, 5805))
}

func TestLegalCombos(t *testing.T) {
	t.Parallel()

	assert.Empty(t, LegalCombos(AllowedSet(nil), CAll))
	assert.Equal(t, []Group{{2432}}, LegalCombos(AllowedSet([]int{2432}), CAll))
	assert.Equal(t,
		[]Group{{2412, 2432}, {2412}, {2432}, {2432, 2452}, {2452}},
		LegalCombos(AllowedSet([]int{2412, 2432, 2452}), CAll))
	assert.Equal(t,
		[]Group{{2412, 2432}, {2412}, {2432}},
		LegalCombos(AllowedSet([]int{2412, 2432, 2452}), C24Main))
}

func TestLegalCombos_HighBand(t *testing.T) {
	t.Parallel()

	allowed := AllowedSet([]int{5745, 5765, 5785, 5805, 5825})
	want := []Group{
		{5745, 5765, 5785, 5805},
		{5745, 5765},
		{5785, 5805},
		{5745}, {5765}, {5785}, {5805},
		{5825},
	}
	assert.Equal(t, want, LegalCombos(allowed, CAll))
	assert.Equal(t, []Group{{5825}}, LegalCombos(AllowedSet([]int{5825}), C5NonDFS))
}

func TestLegalCombos_NoDuplicates(t *testing.T) {
	t.Parallel()

	allowed := AllowedSet([]int{2412, 2417, 2422, 2427, 2432, 2437, 2442, 2447, 2452, 2457, 2462})
	got := LegalCombos(allowed, C24Any)
	seen := map[string]bool{}
	for _, g := range got {
		assert.False(t, seen[g.key()], "duplicate %s", g)
		seen[g.key()] = true
	}
	assert.Len(t, got, 7+11)
}

func TestSingles(t *testing.T) {
	t.Parallel()

	got := Singles(C24Any)
	assert.Len(t, got, 11)
	assert.Equal(t, Group{2412}, got[0])
	for _, g := range got {
		assert.Equal(t, 20, g.Width())
	}
}

func TestCandidatesFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, C5Any, CandidatesFor([]int{2412, 5180}, false, true))
	assert.Equal(t, C5NonDFS, CandidatesFor([]int{5180, 5260}, true, false))
	assert.Equal(t, C24Any, CandidatesFor([]int{2412, 2437}, true, false))
	assert.Equal(t, Singles(C24Any), CandidatesFor([]int{2412, 2437}, false, false))
}

func TestCandidatesFor_NoRadarSkipsDFS(t *testing.T) {
	t.Parallel()

	allowed := []int{5180, 5260, 5280, 5580}
	combos := LegalCombos(AllowedSet(allowed), CandidatesFor(allowed, true, false))
	assert.Equal(t, []Group{{5180}}, combos)

	combos = LegalCombos(AllowedSet(allowed), CandidatesFor(allowed, true, true))
	assert.Contains(t, combos, Group{5260, 5280})
	assert.Contains(t, combos, Group{5580})
}
