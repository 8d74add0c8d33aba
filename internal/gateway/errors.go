package gateway

import "fmt"

// EmbeddingError is returned when the embedder keeps failing.
type EmbeddingError struct {
	Model    string
	Attempts int
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding via %s failed after %d attempt(s): %v", e.Model, e.Attempts, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// GenerationError is returned when the primary and the fallback both fail.
// FallbackErr is nil when no fallback is configured.
type GenerationError struct {
	PrimaryErr  error
	FallbackErr error
	Attempts    []Attempt
}

func (e *GenerationError) Error() string {
	if e.FallbackErr == nil {
		return fmt.Sprintf("generation failed after %d attempt(s): primary: %v", len(e.Attempts), e.PrimaryErr)
	}
	return fmt.Sprintf("generation failed after %d attempt(s): primary: %v; fallback: %v", len(e.Attempts), e.PrimaryErr, e.FallbackErr)
}

func (e *GenerationError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.PrimaryErr != nil {
		out = append(out, e.PrimaryErr)
	}
	if e.FallbackErr != nil {
		out = append(out, e.FallbackErr)
	}
	return out
}
