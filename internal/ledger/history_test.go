package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xtding233/gratonite-lab/internal/catalog"
)

func pull(n int) PullResult {
	return PullResult{Entry: catalog.Entry{ElementNumber: n}}
}

func numbers(rs []PullResult) []int {
	out := make([]int, len(rs))
	for i, r := range rs {
		out[i] = r.Entry.ElementNumber
	}
	return out
}

func TestHistoryNewestFirst(t *testing.T) {
	h := NewHistory(3)
	_, ok := h.Latest()
	assert.False(t, ok)

	h.Push(pull(1))
	h.Push(pull(2))
	assert.Equal(t, []int{2, 1}, numbers(h.Snapshot()))

	latest, ok := h.Latest()
	assert.True(t, ok)
	assert.Equal(t, 2, latest.Entry.ElementNumber)
}

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory(3)
	for n := 1; n <= 5; n++ {
		h.Push(pull(n))
	}
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, []int{5, 4, 3}, numbers(h.Snapshot()))
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory(2)
	h.Push(pull(1))
	h.Clear()
	assert.Equal(t, 0, h.Len())
	assert.Empty(t, h.Snapshot())
	h.Push(pull(9))
	assert.Equal(t, []int{9}, numbers(h.Snapshot()))
}

func TestHistoryDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultHistoryCapacity, NewHistory(0).Cap())
}
