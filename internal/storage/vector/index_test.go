package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSearchReturnsClosestFirst(t *testing.T) {
	idx := New(3)
	idx.Upsert("a", []float64{1, 0, 0})
	idx.Upsert("b", []float64{0, 1, 0})
	idx.Upsert("c", []float64{0.9, 0.1, 0})

	matches := idx.Search([]float64{1, 0, 0}, 2)
	assert.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].Key)
	assert.Equal(t, "c", matches[1].Key)
}

func TestDeleteRemovesFromResults(t *testing.T) {
	idx := New(2)
	idx.Upsert("a", []float64{1, 0})
	idx.Upsert("b", []float64{0, 1})
	idx.Delete("a")

	matches := idx.Search([]float64{1, 0}, 5)
	for _, m := range matches {
		assert.NotEqual(t, "a", m.Key)
	}
}

func TestSmallIndexFallbackMatchesBucketed(t *testing.T) {
	idx := New(2)
	idx.SetThreshold(1)
	idx.Upsert("a", []float64{1, 0})
	idx.Upsert("b", []float64{-1, 0})

	matches := idx.Search([]float64{1, 0}, 1)
	assert.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].Key)
}
