package memory

import (
	"context"
	"sort"

	"github.com/fern-run/fern/pkg/models"
	"github.com/fern-run/fern/pkg/store"
)

const (
	defaultSearchLimit = 10
	candidatePoolSize  = 50

	vectorWeight  = 0.7
	keywordWeight = 0.3
)

type candidate struct {
	id         string
	source     models.SearchResultSource
	text       string
	vectorRaw  float64
	hasVector  bool
	keywordRaw float64
	hasKeyword bool
}

// Search runs the hybrid vector+keyword retrieval: embed the query, rank
// chunks and persistent memories by cosine similarity and by FTS5 keyword
// match independently, normalize each sub-score to [0,1] over its own
// candidate set, and combine as 0.7*vector + 0.3*keyword. If threadID is
// non-empty, chunk candidates are restricted to that thread.
func (m *Manager) Search(ctx context.Context, query string, limit int, threadID string) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	queryVec, err := m.backend.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	candidates := make(map[string]*candidate)

	allChunks, err := m.store.AllMemoryChunks(ctx)
	if err != nil {
		return nil, err
	}
	allMems, err := m.store.AllPersistentMemories(ctx)
	if err != nil {
		return nil, err
	}

	for _, c := range allChunks {
		if threadID != "" && c.ThreadID != threadID {
			continue
		}
		candidates[c.ID] = &candidate{
			id: c.ID, source: models.SourceChunk, text: c.Summary,
			vectorRaw: store.CosineSimilarity(queryVec, c.SummaryEmbedding), hasVector: true,
		}
	}
	for _, mem := range allMems {
		candidates[mem.ID] = &candidate{
			id: mem.ID, source: models.SourceMemory, text: mem.Content,
			vectorRaw: store.CosineSimilarity(queryVec, mem.Embedding), hasVector: true,
		}
	}
	trimToTopVector(candidates, candidatePoolSize)

	kwChunks, kwChunkScores, err := m.store.KeywordSearchMemoryChunks(ctx, query, candidatePoolSize)
	if err != nil {
		return nil, err
	}
	for i, c := range kwChunks {
		if threadID != "" && c.ThreadID != threadID {
			continue
		}
		cand, ok := candidates[c.ID]
		if !ok {
			cand = &candidate{id: c.ID, source: models.SourceChunk, text: c.Summary}
			candidates[c.ID] = cand
		}
		cand.keywordRaw = kwChunkScores[i]
		cand.hasKeyword = true
	}

	kwMems, kwMemScores, err := m.store.KeywordSearchPersistentMemories(ctx, query, candidatePoolSize)
	if err != nil {
		return nil, err
	}
	for i, mem := range kwMems {
		cand, ok := candidates[mem.ID]
		if !ok {
			cand = &candidate{id: mem.ID, source: models.SourceMemory, text: mem.Content}
			candidates[mem.ID] = cand
		}
		cand.keywordRaw = kwMemScores[i]
		cand.hasKeyword = true
	}

	return rank(candidates, limit), nil
}

// trimToTopVector keeps only the candidatePoolSize highest vectorRaw entries,
// so a later keyword-only hit doesn't get diluted against an unbounded
// vector candidate set.
func trimToTopVector(candidates map[string]*candidate, keep int) {
	if len(candidates) <= keep {
		return
	}
	ordered := make([]*candidate, 0, len(candidates))
	for _, c := range candidates {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].vectorRaw > ordered[j].vectorRaw })
	for _, c := range ordered[keep:] {
		delete(candidates, c.id)
	}
}

// rank normalizes each sub-score to [0,1] across the candidate set, combines
// them with the hybrid weights, and returns the top `limit` results.
func rank(candidates map[string]*candidate, limit int) []models.SearchResult {
	var vecMin, vecMax, kwMin, kwMax float64
	first := true
	for _, c := range candidates {
		if c.hasVector {
			if first || c.vectorRaw < vecMin {
				vecMin = c.vectorRaw
			}
			if first || c.vectorRaw > vecMax {
				vecMax = c.vectorRaw
			}
		}
		first = false
	}
	first = true
	for _, c := range candidates {
		if c.hasKeyword {
			if first || c.keywordRaw < kwMin {
				kwMin = c.keywordRaw
			}
			if first || c.keywordRaw > kwMax {
				kwMax = c.keywordRaw
			}
			first = false
		}
	}

	results := make([]models.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		vecNorm := 0.0
		if c.hasVector {
			vecNorm = normalize(c.vectorRaw, vecMin, vecMax)
		}
		kwNorm := 0.0
		if c.hasKeyword {
			// bm25 is smaller-is-better (more negative = closer match), so
			// invert the min-max normalization direction.
			kwNorm = normalize(kwMax-c.keywordRaw, 0, kwMax-kwMin)
		}
		score := vectorWeight*vecNorm + keywordWeight*kwNorm
		results = append(results, models.SearchResult{
			ID: c.id, Source: c.source, Text: c.text, RelevanceScore: score,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].RelevanceScore > results[j].RelevanceScore })
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// normalize min-max scales v into [0,1]. When the candidate set has no
// spread (a single candidate, or every candidate tied on this sub-score),
// there's nothing to scale against — the fair reading is that whatever
// candidates are present are each the best available on this dimension, not
// that none of them are relevant, so every one of them scores 1.0 rather
// than collapsing to 0.
func normalize(v, min, max float64) float64 {
	if max-min <= 0 {
		return 1.0
	}
	return (v - min) / (max - min)
}
