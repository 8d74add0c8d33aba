package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// MockProvider embeds deterministically from a hash of the input and answers
// with a fixed template. It needs no network access.
type MockProvider struct {
	model string
	dim   int
}

func NewMockProvider(model string, dim int) *MockProvider {
	if dim <= 0 {
		dim = 384
	}
	if strings.TrimSpace(model) == "" {
		model = "mock"
	}
	return &MockProvider{model: model, dim: dim}
}

func (m *MockProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := ProviderInfo{Name: "mock", Model: m.model}
	if err := ctx.Err(); err != nil {
		return nil, info, err
	}
	dim := req.Dimension
	if dim <= 0 {
		dim = m.dim
	}
	vectors := make([][]float32, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		vectors = append(vectors, deterministicVector(input, dim))
	}
	return vectors, info, nil
}

func (m *MockProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "mock", Model: m.model}
	if err := ctx.Err(); err != nil {
		return GenerateResponse{}, info, err
	}
	var b strings.Builder
	if len(req.Context) == 0 {
		b.WriteString("I could not find relevant passages in the uploaded documents.")
	} else {
		fmt.Fprintf(&b, "Based on %d retrieved passage(s):", len(req.Context))
		for i := range req.Context {
			fmt.Fprintf(&b, " [Document %d]", i+1)
		}
		b.WriteString(".")
	}
	fmt.Fprintf(&b, " (%s)", m.model)
	return GenerateResponse{Text: b.String()}, info, nil
}

func deterministicVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := []byte(input)
	if len(seed) == 0 {
		seed = []byte("empty")
	}
	for i := 0; i < dim; i++ {
		h := sha256.Sum256(append(seed, byte(i%251), byte(i/251)))
		u := binary.BigEndian.Uint32(h[:4])
		vec[i] = float32(u%2000)/1000.0 - 1.0
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}
