package vector

import (
	"errors"
	"fmt"
	"os"

	"ragchat/internal/models"
	"ragchat/internal/util"

	"go.uber.org/zap"
)

const snapshotVersion = 1

// Snapshot is the serializable form of an Index.
type Snapshot struct {
	Version   int            `json:"version"`
	Dimension int            `json:"dimension"`
	NextID    int64          `json:"next_id"`
	Chunks    []models.Chunk `json:"chunks"`
}

func (x *Index) Snapshot() Snapshot {
	st := x.cur.Load()
	chunks := make([]models.Chunk, len(st.chunks))
	copy(chunks, st.chunks)
	return Snapshot{Version: snapshotVersion, Dimension: st.dimension, NextID: st.nextID, Chunks: chunks}
}

// Restore replaces the index contents with snap. Chunk ids must be positive
// and strictly increasing; a rejected snapshot leaves the index unchanged.
func (x *Index) Restore(snap Snapshot) error {
	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported index snapshot version %d", snap.Version)
	}
	next := &state{dimension: snap.Dimension, nextID: snap.NextID, chunks: make([]models.Chunk, 0, len(snap.Chunks))}
	var prev int64
	for i, c := range snap.Chunks {
		if len(c.Embedding) != snap.Dimension {
			return &DimensionMismatchError{Want: snap.Dimension, Got: len(c.Embedding)}
		}
		if c.ChunkID <= prev {
			return fmt.Errorf("index snapshot chunk %d has id %d, want greater than %d", i, c.ChunkID, prev)
		}
		prev = c.ChunkID
		if c.ChunkID >= next.nextID {
			next.nextID = c.ChunkID + 1
		}
		next.chunks = append(next.chunks, c)
	}
	if next.nextID < 1 {
		next.nextID = 1
	}
	x.mu.Lock()
	x.cur.Store(next)
	x.mu.Unlock()
	x.logger.Info("index restored", zap.Int("size", len(next.chunks)), zap.Int("dimension", next.dimension))
	return nil
}

func (x *Index) SaveFile(path string) error {
	if path == "" {
		return nil
	}
	x.saveMu.Lock()
	defer x.saveMu.Unlock()
	if err := util.WriteJSONAtomic(path, x.Snapshot()); err != nil {
		return fmt.Errorf("save index snapshot: %w", err)
	}
	return nil
}

// LoadFile restores from path. A missing file leaves the index empty.
func (x *Index) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	var snap Snapshot
	if err := util.ReadJSON(path, &snap); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load index snapshot: %w", err)
	}
	return x.Restore(snap)
}
