package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchMatchesKeyAndValueSubstring(t *testing.T) {
	self := newTestIdentity(t, "searcher")
	svc := newTestService(t, self, nil)

	require.NoError(t, svc.Set("notes/alpha", []byte("contains needle"), Public, "notes"))
	require.NoError(t, svc.Set("notes/beta", []byte("nothing relevant"), Public, "notes"))

	results, err := svc.Search("needle", 10, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "notes/alpha", results[0].Key)
}

func TestSearchRespectsDomainFilter(t *testing.T) {
	self := newTestIdentity(t, "domain-searcher")
	svc := newTestService(t, self, nil)

	require.NoError(t, svc.Set("p/a", []byte("match"), Private, "c"))
	require.NoError(t, svc.Set("p/b", []byte("match"), Public, "c"))

	results, err := svc.Search("match", 10, SearchOptions{Domain: Public})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p/b", results[0].Key)
}

func TestSearchExcludesTombstonedKeys(t *testing.T) {
	self := newTestIdentity(t, "tombstone-searcher")
	svc := newTestService(t, self, nil)

	require.NoError(t, svc.Set("k", []byte("findme"), Public, "c"))
	require.NoError(t, svc.Delete("k", Public))

	results, err := svc.Search("findme", 10, SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-6)
}

func TestCosineSimilarityOrthogonalIsZero(t *testing.T) {
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
}
