package memory

import (
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/mosiyuan/cis/internal/storage"
)

// SearchOptions narrows a lexical Search to one domain or category; a
// zero-valued SearchOptions searches both domains.
type SearchOptions struct {
	Domain   Domain
	Category string
}

// Search performs a lexical substring match of query against each
// item's key and stored value, per spec.md §4.5's search(query, limit,
// options); Category only filters. Private values are stored sealed,
// so a private item's plaintext value is not searched.
func (s *Service) Search(query string, limit int, opts SearchOptions) ([]Item, error) {
	var results []Item
	visit := func(bucket *storage.Bucket, domain Domain) error {
		if opts.Domain != "" && opts.Domain != domain {
			return nil
		}
		return bucket.ForEach(func(key string, value []byte) error {
			var item Item
			if err := json.Unmarshal(value, &item); err != nil {
				return err
			}
			if item.Tombstone {
				return nil
			}
			if opts.Category != "" && item.Category != opts.Category {
				return nil
			}
			if strings.Contains(key, query) || strings.Contains(string(item.Value), query) {
				results = append(results, item)
			}
			return nil
		})
	}
	if err := visit(s.private, Private); err != nil {
		return nil, err
	}
	if err := visit(s.public, Public); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// SemanticSearch runs a vector ANN query over the embedding index,
// per spec.md §4.2/§4.5. No ANN library is available in the pack (see
// DESIGN.md), so this always takes the spec's own "small-index
// fallback": an exact cosine-similarity scan over every indexed
// vector, filtered by threshold and capped at limit results.
func (s *Service) SemanticSearch(query []float32, limit int, threshold float32) ([]Item, error) {
	type scored struct {
		item  Item
		score float32
	}
	var hits []scored

	err := s.vectors.ForEach(func(key string, value []byte) error {
		var vec []float32
		if err := json.Unmarshal(value, &vec); err != nil {
			return err
		}
		score := cosineSimilarity(query, vec)
		if score < threshold {
			return nil
		}
		var item Item
		if err := s.public.Get(key, &item); err != nil {
			if err := s.private.Get(key, &item); err != nil {
				return nil // vector outlived its item; skip
			}
		}
		if item.Tombstone {
			return nil
		}
		hits = append(hits, scored{item: item, score: score})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Item, len(hits))
	for i, h := range hits {
		out[i] = h.item
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(magA) * math.Sqrt(magB)))
}
