package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crystaldolphin/memshard/internal/schema"
)

func elements(ids ...int) []schema.Element {
	out := make([]schema.Element, len(ids))
	for i, id := range ids {
		out[i] = schema.Element{Key: string(rune('a' + i)), DisplayID: id}
	}
	return out
}

func displayIDs(els []schema.Element) []int {
	out := make([]int, len(els))
	for i, e := range els {
		out[i] = e.DisplayID
	}
	return out
}

func TestOriginalPositions(t *testing.T) {
	assert.Equal(t, []int{5, 5, 7}, originalPositions([]int{9, 5, 5}))
	assert.Equal(t, []int{2, 4}, originalPositions([]int{2, 5}))
	assert.Empty(t, originalPositions(nil))
}

func TestReconcile_FixedPoint(t *testing.T) {
	in := elements(4, 5, 6, 9, 10)
	out, passes := ReconcileDisplayIDs(in, []int{5, 5, 9})

	assert.LessOrEqual(t, passes, MaxReconcilePasses)
	assert.False(t, HasDuplicateIDs(out))
	assert.Equal(t, 4, out[0].DisplayID, "ids below the first insertion are unchanged")
	assert.Equal(t, []int{4, 7, 8, 12, 13}, displayIDs(out))
	assert.Equal(t, []int{4, 5, 6, 9, 10}, displayIDs(in), "input is not modified")
}

func TestReconcile_InsertedStayFixed(t *testing.T) {
	els := []schema.Element{
		{Key: "x", DisplayID: 2},
		{Key: "shard", DisplayID: 3, Inserted: true},
		{Key: "y", DisplayID: 3},
	}
	out, passes := ReconcileDisplayIDs(els, []int{2})

	// x bumps onto the shard and moves past it, which pushes y up.
	assert.Equal(t, 3, out[1].DisplayID)
	assert.False(t, HasDuplicateIDs(out))
	assert.Equal(t, 4, out[0].DisplayID)
	assert.Equal(t, 5, out[2].DisplayID)
	assert.Equal(t, 2, passes)
}

func TestReconcile_BoundedPasses(t *testing.T) {
	// Every bump lands on another inserted element, forcing one pass per step.
	var els []schema.Element
	els = append(els, schema.Element{Key: "moving", DisplayID: 0})
	for i := 1; i <= 10; i++ {
		els = append(els, schema.Element{Key: string(rune('A' + i)), DisplayID: i, Inserted: true})
	}
	out, passes := ReconcileDisplayIDs(els, []int{0})

	assert.Equal(t, MaxReconcilePasses, passes)
	assert.True(t, HasDuplicateIDs(out))
}

func TestReconcile_NoInsertions(t *testing.T) {
	in := elements(0, 1, 2)
	out, passes := ReconcileDisplayIDs(in, nil)
	assert.Zero(t, passes)
	assert.Equal(t, in, out)
}
