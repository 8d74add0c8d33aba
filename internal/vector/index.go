// Package vector holds the in-process chunk index used for retrieval. Search
// is a brute-force cosine scan over every stored embedding.
package vector

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"ragchat/internal/models"

	"go.uber.org/zap"
)

// DimensionMismatchError is returned when an embedding does not match the
// dimension fixed by the first insert.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: index has %d, got %d", e.Want, e.Got)
}

// state is published whole and never mutated after publication.
type state struct {
	dimension int
	nextID    int64
	chunks    []models.Chunk
}

type Index struct {
	mu     sync.Mutex
	saveMu sync.Mutex
	cur    atomic.Pointer[state]
	logger *zap.Logger
}

func NewIndex(logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	idx := &Index{logger: logger}
	idx.cur.Store(&state{nextID: 1})
	return idx
}

// Add appends chunks as one batch and returns them with assigned ids. Either
// every chunk is committed or none is.
func (x *Index) Add(chunks []models.Chunk) ([]models.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	old := x.cur.Load()
	dim := old.dimension
	if dim == 0 {
		dim = len(chunks[0].Embedding)
	}
	for _, c := range chunks {
		if len(c.Embedding) == 0 || len(c.Embedding) != dim {
			return nil, &DimensionMismatchError{Want: dim, Got: len(c.Embedding)}
		}
	}

	next := &state{
		dimension: dim,
		nextID:    old.nextID,
		chunks:    make([]models.Chunk, len(old.chunks), len(old.chunks)+len(chunks)),
	}
	copy(next.chunks, old.chunks)
	added := make([]models.Chunk, 0, len(chunks))
	for _, c := range chunks {
		c.ChunkID = next.nextID
		next.nextID++
		c.Embedding = append([]float32(nil), c.Embedding...)
		next.chunks = append(next.chunks, c)
		added = append(added, c)
	}
	x.cur.Store(next)
	x.logger.Info("index batch added", zap.Int("chunks", len(added)), zap.Int("size", len(next.chunks)))
	return added, nil
}

// RemoveDocument drops every chunk of documentID in one batch and reports how
// many were removed.
func (x *Index) RemoveDocument(documentID string) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	old := x.cur.Load()
	kept := make([]models.Chunk, 0, len(old.chunks))
	for _, c := range old.chunks {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}
	removed := len(old.chunks) - len(kept)
	if removed == 0 {
		return 0
	}
	x.cur.Store(&state{dimension: old.dimension, nextID: old.nextID, chunks: kept})
	x.logger.Info("index document removed", zap.String("document_id", documentID), zap.Int("chunks", removed))
	return removed
}

// Search returns up to k chunks ranked by cosine similarity, highest first,
// ties broken by ascending chunk id. An empty index yields no results.
func (x *Index) Search(query []float32, k int) ([]models.ChunkResult, error) {
	st := x.cur.Load()
	if len(st.chunks) == 0 {
		return []models.ChunkResult{}, nil
	}
	if len(query) != st.dimension {
		return nil, &DimensionMismatchError{Want: st.dimension, Got: len(query)}
	}
	if k < 1 {
		k = 1
	}

	qNorm := norm(query)
	results := make([]models.ChunkResult, len(st.chunks))
	for i, c := range st.chunks {
		results[i] = models.ChunkResult{Chunk: c, Score: cosine(query, qNorm, c.Embedding)}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ChunkID < results[j].Chunk.ChunkID
	})
	if k > len(results) {
		k = len(results)
	}
	return results[:k:k], nil
}

func (x *Index) Size() int {
	return len(x.cur.Load().chunks)
}

// Dimension is 0 until the first chunk is added.
func (x *Index) Dimension() int {
	return x.cur.Load().dimension
}

// DocumentChunks lists the chunks of one document in sequence order.
func (x *Index) DocumentChunks(documentID string) []models.Chunk {
	st := x.cur.Load()
	out := make([]models.Chunk, 0)
	for _, c := range st.chunks {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SequenceIndex < out[j].SequenceIndex })
	return out
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(q []float32, qNorm float64, v []float32) float64 {
	vNorm := norm(v)
	if qNorm == 0 || vNorm == 0 {
		return 0
	}
	var dot float64
	for i := range q {
		dot += float64(q[i]) * float64(v[i])
	}
	return dot / (qNorm * vNorm)
}
