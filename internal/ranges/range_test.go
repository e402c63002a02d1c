package ranges

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hidden(start, end int) Range {
	return Range{Start: start, End: end, Hidden: Bool(true)}
}

// randomRanges produces unnormalized ranges, including invalid ones.
func randomRanges(r *rand.Rand, n, length int) []Range {
	out := make([]Range, 0, n)
	for i := 0; i < n; i++ {
		start := r.Intn(length+4) - 2
		end := start + r.Intn(6) - 1
		rg := Range{Start: start, End: end, IgnoreCollapse: r.Intn(4) == 0}
		switch r.Intn(3) {
		case 0:
			rg.Hidden = Bool(true)
		case 1:
			rg.Hidden = Bool(false)
		}
		if r.Intn(3) == 0 {
			rg.IgnoreNames = []string{"Alice", " bob "}
		}
		out = append(out, rg)
	}
	return out
}

// hiddenAt expands rs into a per-index hidden map.
func hiddenAt(rs []Range, length int) []bool {
	out := make([]bool, length)
	for _, r := range rs {
		for i := r.Start; i <= r.End && i < length; i++ {
			if i >= 0 {
				out[i] = r.EffectiveHidden(true)
			}
		}
	}
	return out
}

func assertNormalized(t *testing.T, rs []Range, length int) {
	t.Helper()
	for i, r := range rs {
		require.GreaterOrEqual(t, r.Start, 0, "range %d", i)
		require.LessOrEqual(t, r.Start, r.End, "range %d", i)
		require.Less(t, r.End, length, "range %d", i)
	}
	require.False(t, Overlaps(rs), "ranges overlap or touch: %+v", rs)
}

func TestNormalize_AdjacentMerge(t *testing.T) {
	got := Normalize([]Range{hidden(0, 4), hidden(5, 5)}, 10)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Start)
	assert.Equal(t, 5, got[0].End)
	require.NotNil(t, got[0].Hidden)
	assert.True(t, *got[0].Hidden)
}

func TestNormalize_DropsAndClamps(t *testing.T) {
	got := Normalize([]Range{
		{Start: -1, End: 3},
		{Start: 5, End: 4},
		{Start: 10, End: 12},
		{Start: 8, End: 20},
	}, 10)
	require.Len(t, got, 1)
	assert.Equal(t, Range{Start: 8, End: 9}, got[0])
}

func TestNormalize_MergeOnlyStrengthens(t *testing.T) {
	got := Normalize([]Range{
		{Start: 0, End: 3, Hidden: Bool(true), IgnoreNames: []string{"Alice"}},
		{Start: 2, End: 6, Hidden: Bool(false), IgnoreCollapse: true, IgnoreNames: []string{" alice", "Bob "}},
	}, 10)
	require.Len(t, got, 1)
	assert.Equal(t, 6, got[0].End)
	assert.True(t, *got[0].Hidden)
	assert.True(t, got[0].IgnoreCollapse)
	assert.Equal(t, []string{"Alice", "Bob"}, got[0].IgnoreNames)
}

func TestNormalize_UnsetHiddenDoesNotOverride(t *testing.T) {
	got := Normalize([]Range{{Start: 0, End: 1, Hidden: Bool(false)}, {Start: 2, End: 3}}, 10)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Hidden)
	assert.False(t, *got[0].Hidden)

	got = Normalize([]Range{{Start: 0, End: 1}, {Start: 1, End: 3}}, 10)
	assert.Nil(t, got[0].Hidden)
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	in := []Range{hidden(5, 8), hidden(0, 20)}
	_ = Normalize(in, 10)
	assert.Equal(t, hidden(5, 8), in[0])
	assert.Equal(t, 20, in[1].End)
}

func TestNormalize_Idempotent(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		length := 1 + r.Intn(30)
		in := randomRanges(r, r.Intn(8), length)
		once := Normalize(in, length)
		assert.Equal(t, once, Normalize(once, length), "input %+v", in)
		assertNormalized(t, once, length)
	}
}

func TestAdd_Normalizes(t *testing.T) {
	rs := Add([]Range{hidden(0, 2)}, 3, 5, Options{Hidden: Bool(true)}, 10)
	require.Len(t, rs, 1)
	assert.Equal(t, 5, rs[0].End)

	rs = Add(rs, 8, 30, Options{IgnoreNames: []string{"a", "A"}}, 10)
	require.Len(t, rs, 2)
	assert.Equal(t, Range{Start: 8, End: 9, IgnoreNames: []string{"a"}}, rs[1])
}

func TestSubtract_FiveCases(t *testing.T) {
	tests := []struct {
		name       string
		r          Range
		start, end int
		want       []Range
	}{
		{"disjoint", hidden(0, 2), 5, 7, []Range{hidden(0, 2)}},
		{"covered", hidden(5, 6), 4, 7, []Range{}},
		{"head", hidden(5, 10), 3, 6, []Range{hidden(7, 10)}},
		{"tail", hidden(5, 10), 8, 12, []Range{hidden(5, 7)}},
		{"interior", hidden(0, 10), 4, 6, []Range{hidden(0, 3), hidden(7, 10)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Subtract([]Range{tt.r}, tt.start, tt.end))
		})
	}
}

func TestSubtract_SplitKeepsFlags(t *testing.T) {
	r := Range{Start: 0, End: 10, Hidden: Bool(true), IgnoreCollapse: true, IgnoreNames: []string{"x"}}
	got := Subtract([]Range{r}, 3, 3)
	require.Len(t, got, 2)
	for _, g := range got {
		assert.True(t, g.IgnoreCollapse)
		assert.Equal(t, []string{"x"}, g.IgnoreNames)
	}
	got[0].IgnoreNames[0] = "changed"
	assert.Equal(t, "x", got[1].IgnoreNames[0], "remainders share no backing arrays")
}

func TestSubtractAdd_Inverse(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 300; i++ {
		length := 5 + r.Intn(25)
		raw := randomRanges(r, r.Intn(6), length)
		for k := range raw {
			raw[k].Hidden = Bool(true)
		}
		base := Normalize(raw, length)
		s := r.Intn(length)
		e := s + r.Intn(length-s)

		before := hiddenAt(base, length)
		covered := make([]bool, length)
		for _, rg := range base {
			for k := rg.Start; k <= rg.End; k++ {
				covered[k] = true
			}
		}

		got := Normalize(Subtract(Add(base, s, e, Options{Hidden: Bool(true)}, length), s, e), length)
		assertNormalized(t, got, length)
		after := hiddenAt(got, length)
		for k := 0; k < length; k++ {
			if k >= s && k <= e {
				assert.False(t, Covers(got, k), "index %d inside the window stays covered", k)
				continue
			}
			assert.Equal(t, covered[k], Covers(got, k), "coverage changed at %d", k)
			if covered[k] {
				assert.Equal(t, before[k], after[k], "hidden state changed at %d", k)
			}
		}
	}
}

func TestSubtractAdd_HiddenOutsideWindowSurvivesFlagMerge(t *testing.T) {
	// Adding over a false range ORs it to true; indices outside the window
	// keep the merged flags, which only ever strengthen.
	base := []Range{{Start: 0, End: 9, Hidden: Bool(true)}}
	got := Subtract(Add(base, 3, 4, Options{Hidden: Bool(true)}, 20), 3, 4)
	assert.Equal(t, []Range{hidden(0, 2), hidden(5, 9)}, got)
}

func TestCovers(t *testing.T) {
	rs := []Range{hidden(2, 4)}
	assert.False(t, Covers(rs, 1))
	assert.True(t, Covers(rs, 2))
	assert.True(t, Covers(rs, 4))
	assert.False(t, Covers(rs, 5))
}
