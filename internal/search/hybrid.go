package search

import (
	"sort"
	"strings"

	"github.com/hoardlabs/hoard/internal/models"
	"github.com/hoardlabs/hoard/internal/store"
)

// slotMatchBonus is added when a query term appears inside the memory's
// slot path, so "editor" finds pref:editor even when the content never
// mentions the word.
const slotMatchBonus = 0.1

// Searcher merges FTS5 keyword ranking with brute-force cosine similarity
// over the live embedding set. Both inputs are optional: without a query
// vector it degrades to pure BM25, without matching text to pure vector.
type Searcher struct {
	vectorWeight float64
	bm25Weight   float64
}

func NewSearcher(vectorWeight, bm25Weight float64) *Searcher {
	return &Searcher{vectorWeight: vectorWeight, bm25Weight: bm25Weight}
}

// Result is one merged, scored hit.
type Result struct {
	Memory      *models.Memory
	VectorScore float64
	BM25Score   float64
	FinalScore  float64
}

// Search runs both channels against q and returns merged hits, best first.
// Only live memories participate; the underlying queries filter on status.
func (s *Searcher) Search(q store.Querier, queryText string, queryVec []float32, now int64, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	merged := make(map[string]*Result)

	bm25Hits, err := store.SearchBM25(q, queryText, now, limit*3)
	if err != nil {
		return nil, err
	}
	maxRank := 0.0
	for _, h := range bm25Hits {
		if h.Rank > maxRank {
			maxRank = h.Rank
		}
	}
	for _, h := range bm25Hits {
		score := 0.0
		if maxRank > 0 {
			score = h.Rank / maxRank
		}
		merged[h.ID] = &Result{BM25Score: score}
	}

	if len(queryVec) > 0 {
		embs, err := store.LiveEmbeddings(q, "", now)
		if err != nil {
			return nil, err
		}
		for id, vec := range embs {
			sim := CosineSimilarity(queryVec, vec)
			if sim <= 0 {
				continue
			}
			if r, ok := merged[id]; ok {
				r.VectorScore = sim
			} else {
				merged[id] = &Result{VectorScore: sim}
			}
		}
	}

	terms := strings.Fields(strings.ToLower(queryText))
	results := make([]Result, 0, len(merged))
	for id, r := range merged {
		m, err := store.GetMemory(q, id)
		if err != nil {
			// The FTS index or embedding set can briefly trail a delete.
			continue
		}
		r.Memory = m
		r.FinalScore = r.VectorScore*s.vectorWeight + r.BM25Score*s.bm25Weight
		if slotMatches(m.Slot, terms) {
			r.FinalScore += slotMatchBonus
		}
		results = append(results, *r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore > results[j].FinalScore
		}
		return results[i].Memory.CreatedAt > results[j].Memory.CreatedAt
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func slotMatches(slot string, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	path := strings.ToLower(slot)
	if i := strings.IndexByte(path, ':'); i >= 0 {
		path = path[i+1:]
	}
	segments := strings.FieldsFunc(path, func(r rune) bool { return r == '.' || r == '_' })
	for _, t := range terms {
		for _, seg := range segments {
			if seg == t {
				return true
			}
		}
	}
	return false
}
