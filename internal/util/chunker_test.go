package util

import (
	"errors"
	"strings"
	"testing"
)

func TestChunkTextTwoWindows(t *testing.T) {
	chunks, err := ChunkText(strings.Repeat("A", 1200), 1000, 200)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].StartOffset != 0 || chunks[0].EndOffset != 1000 {
		t.Fatalf("unexpected first window: [%d,%d)", chunks[0].StartOffset, chunks[0].EndOffset)
	}
	if chunks[1].StartOffset != 800 || chunks[1].EndOffset != 1200 {
		t.Fatalf("unexpected second window: [%d,%d)", chunks[1].StartOffset, chunks[1].EndOffset)
	}
}

func TestChunkTextEmpty(t *testing.T) {
	chunks, err := ChunkText("", 10, 2)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(chunks))
	}
}

func TestChunkTextShortTextSingleWindow(t *testing.T) {
	chunks, err := ChunkText("abc", 10, 5)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "abc" {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
}

func TestChunkTextNoLongerThanOverlap(t *testing.T) {
	for _, text := range []string{"a", "abcd", "abcde"} {
		chunks, err := ChunkText(text, 10, 5)
		if err != nil {
			t.Fatalf("chunk %q: %v", text, err)
		}
		if len(chunks) != 1 {
			t.Fatalf("%q: expected 1 chunk, got %d", text, len(chunks))
		}
		if chunks[0].StartOffset != 0 || chunks[0].EndOffset != len(text) || chunks[0].Text != text {
			t.Fatalf("%q: unexpected window %+v", text, chunks[0])
		}
	}
}

func TestChunkTextCountAndOverlap(t *testing.T) {
	for _, tc := range []struct{ n, size, overlap int }{
		{26, 10, 2}, {100, 10, 9}, {1000, 1000, 200}, {1001, 1000, 200}, {5000, 700, 100}, {37, 8, 3},
	} {
		text := strings.Repeat("x", tc.n)
		chunks, err := ChunkText(text, tc.size, tc.overlap)
		if err != nil {
			t.Fatalf("chunk %+v: %v", tc, err)
		}
		step := tc.size - tc.overlap
		want := (tc.n - tc.overlap + step - 1) / step
		if len(chunks) != want {
			t.Fatalf("%+v: expected %d chunks, got %d", tc, want, len(chunks))
		}
		for i, c := range chunks {
			if c.SequenceIndex != i {
				t.Fatalf("%+v: chunk %d has sequence index %d", tc, i, c.SequenceIndex)
			}
			if c.EndOffset-c.StartOffset > tc.size {
				t.Fatalf("%+v: chunk %d longer than chunk size", tc, i)
			}
			if i > 0 {
				prev := chunks[i-1]
				if prev.EndOffset-c.StartOffset != tc.overlap {
					t.Fatalf("%+v: chunks %d/%d overlap by %d", tc, i-1, i, prev.EndOffset-c.StartOffset)
				}
			}
		}
		if chunks[0].StartOffset != 0 || chunks[len(chunks)-1].EndOffset != tc.n {
			t.Fatalf("%+v: chunks do not cover text", tc)
		}
	}
}

func TestChunkTextRuneOffsets(t *testing.T) {
	chunks, err := ChunkText("héllo wörld", 5, 1)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if chunks[0].Text != "héllo" {
		t.Fatalf("unexpected first chunk: %q", chunks[0].Text)
	}
	if chunks[1].Text != "o wör" {
		t.Fatalf("unexpected second chunk: %q", chunks[1].Text)
	}
}

func TestChunkTextRejectsBadOverlap(t *testing.T) {
	for _, tc := range []struct{ size, overlap int }{{10, 0}, {10, 10}, {10, 12}, {0, 0}, {10, -1}} {
		_, err := ChunkText("abcdef", tc.size, tc.overlap)
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("size=%d overlap=%d: expected ConfigurationError, got %v", tc.size, tc.overlap, err)
		}
	}
}
