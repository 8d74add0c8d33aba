package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"ragchat/internal/providers"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct{ mock.Mock }

func (f *fakeLLM) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	args := f.Called(ctx, req)
	return args.Get(0).(providers.GenerateResponse), providers.ProviderInfo{Name: "fake"}, args.Error(1)
}

type fakeEmbedder struct{ mock.Mock }

func (f *fakeEmbedder) Embed(ctx context.Context, req providers.EmbedRequest) ([][]float32, providers.ProviderInfo, error) {
	args := f.Called(ctx, req)
	var out [][]float32
	if v := args.Get(0); v != nil {
		out = v.([][]float32)
	}
	return out, providers.ProviderInfo{Name: "fake"}, args.Error(1)
}

func ref(raw string) providers.ProviderRef {
	r, _ := providers.ParseProviderRef(raw)
	return r
}

type recorder struct{ delays []time.Duration }

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func newTestGateway(emb providers.EmbeddingProvider, primary providers.LLMProvider, fallback providers.LLMProvider, rec *recorder) *Gateway {
	m := &providers.Manager{
		Embedder: providers.NamedEmbedProvider{Ref: ref("fake:embed"), Provider: emb},
		Primary:  providers.NamedLLMProvider{Ref: ref("fake:primary"), Provider: primary},
	}
	if fallback != nil {
		m.Fallback = &providers.NamedLLMProvider{Ref: ref("fake:fallback"), Provider: fallback}
	}
	return New(m, Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, CallTimeout: time.Second}, WithSleep(rec.sleep))
}

func TestPolicyDelayDoubles(t *testing.T) {
	p := Policy{BaseDelay: 500 * time.Millisecond}
	require.Equal(t, 500*time.Millisecond, p.Delay(1))
	require.Equal(t, time.Second, p.Delay(2))
	require.Equal(t, 2*time.Second, p.Delay(3))
	require.Zero(t, p.Delay(0))
}

func TestPolicyDelayCapped(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	require.Equal(t, 4*time.Second, p.Delay(3))
	require.Equal(t, 5*time.Second, p.Delay(4))
	require.Equal(t, 5*time.Second, p.Delay(200))

	unset := Policy{BaseDelay: 500 * time.Millisecond}
	for _, attempt := range []int{10, 40, 64, 1000} {
		d := unset.Delay(attempt)
		require.Equal(t, DefaultMaxDelay, d, "attempt %d", attempt)
	}
}

func TestGeneratePrimarySucceedsFirstTry(t *testing.T) {
	primary := &fakeLLM{}
	primary.On("Generate", mock.Anything, mock.Anything).Return(providers.GenerateResponse{Text: "hello"}, nil).Once()
	rec := &recorder{}
	g := newTestGateway(&fakeEmbedder{}, primary, &fakeLLM{}, rec)

	res, err := g.Generate(context.Background(), providers.GenerateRequest{Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, "hello", res.Text)
	require.Equal(t, "fake:primary", res.ModelUsed)
	require.Len(t, res.Attempts, 1)
	require.True(t, res.Attempts[0].Succeeded)
	require.Empty(t, rec.delays)
	primary.AssertExpectations(t)
}

func TestGenerateRetriesThenFallsBack(t *testing.T) {
	primary := &fakeLLM{}
	primary.On("Generate", mock.Anything, mock.Anything).Return(providers.GenerateResponse{}, errors.New("503 unavailable")).Times(3)
	fallback := &fakeLLM{}
	fallback.On("Generate", mock.Anything, mock.Anything).Return(providers.GenerateResponse{Text: "from fallback"}, nil).Once()
	rec := &recorder{}
	g := newTestGateway(&fakeEmbedder{}, primary, fallback, rec)

	res, err := g.Generate(context.Background(), providers.GenerateRequest{Prompt: "q"})
	require.NoError(t, err)
	require.Equal(t, "from fallback", res.Text)
	require.Equal(t, "fake:fallback", res.ModelUsed)
	require.Len(t, res.Attempts, 4)
	for i, a := range res.Attempts[:3] {
		require.Equal(t, "fake:primary", a.ModelUsed)
		require.Equal(t, i+1, a.AttemptNumber)
		require.False(t, a.Succeeded)
		require.Contains(t, a.Error, "503")
	}
	last := res.Attempts[3]
	require.Equal(t, "fake:fallback", last.ModelUsed)
	require.Equal(t, 4, last.AttemptNumber)
	require.True(t, last.Fallback)
	require.True(t, last.Succeeded)
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, rec.delays)
	primary.AssertNumberOfCalls(t, "Generate", 3)
	fallback.AssertNumberOfCalls(t, "Generate", 1)
}

func TestGenerateRecoversOnSecondPrimaryAttempt(t *testing.T) {
	primary := &fakeLLM{}
	primary.On("Generate", mock.Anything, mock.Anything).Return(providers.GenerateResponse{}, errors.New("timeout")).Once()
	primary.On("Generate", mock.Anything, mock.Anything).Return(providers.GenerateResponse{Text: "ok"}, nil).Once()
	fallback := &fakeLLM{}
	g := newTestGateway(&fakeEmbedder{}, primary, fallback, &recorder{})

	res, err := g.Generate(context.Background(), providers.GenerateRequest{Prompt: "q"})
	require.NoError(t, err)
	require.Equal(t, "fake:primary", res.ModelUsed)
	require.Len(t, res.Attempts, 2)
	fallback.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestGenerateAllFail(t *testing.T) {
	primary := &fakeLLM{}
	primary.On("Generate", mock.Anything, mock.Anything).Return(providers.GenerateResponse{}, errors.New("primary down"))
	fallback := &fakeLLM{}
	fallback.On("Generate", mock.Anything, mock.Anything).Return(providers.GenerateResponse{}, errors.New("fallback down"))
	g := newTestGateway(&fakeEmbedder{}, primary, fallback, &recorder{})

	res, err := g.Generate(context.Background(), providers.GenerateRequest{Prompt: "q"})
	require.Error(t, err)
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	require.Len(t, genErr.Attempts, 4)
	require.Len(t, res.Attempts, 4)
	require.EqualError(t, genErr.FallbackErr, "fallback down")
	require.Contains(t, err.Error(), "primary down")
	require.True(t, IsDegradable(err))
	fallback.AssertNumberOfCalls(t, "Generate", 1)
}

func TestGenerateWithoutFallback(t *testing.T) {
	primary := &fakeLLM{}
	primary.On("Generate", mock.Anything, mock.Anything).Return(providers.GenerateResponse{}, errors.New("boom"))
	g := newTestGateway(&fakeEmbedder{}, primary, nil, &recorder{})

	res, err := g.Generate(context.Background(), providers.GenerateRequest{Prompt: "q"})
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	require.Nil(t, genErr.FallbackErr)
	require.Len(t, res.Attempts, 3)
	_, _, fb := g.Models()
	require.Empty(t, fb)
}

func TestGenerateAppliesCallTimeout(t *testing.T) {
	primary := &fakeLLM{}
	primary.On("Generate", mock.Anything, mock.Anything).Return(providers.GenerateResponse{Text: "ok"}, nil).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		_, ok := ctx.Deadline()
		require.True(t, ok)
	})
	g := newTestGateway(&fakeEmbedder{}, primary, nil, &recorder{})
	_, err := g.Generate(context.Background(), providers.GenerateRequest{Prompt: "q"})
	require.NoError(t, err)
}

func TestEmbedRetriesTransient(t *testing.T) {
	emb := &fakeEmbedder{}
	emb.On("Embed", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset by peer")).Once()
	emb.On("Embed", mock.Anything, mock.Anything).Return([][]float32{{1, 0}}, nil).Once()
	rec := &recorder{}
	g := newTestGateway(emb, &fakeLLM{}, nil, rec)

	vec, err := g.Embed(context.Background(), "text")
	require.NoError(t, err)
	require.Equal(t, []float32{1, 0}, vec)
	require.Equal(t, []time.Duration{100 * time.Millisecond}, rec.delays)
}

func TestEmbedStopsOnPermanentError(t *testing.T) {
	emb := &fakeEmbedder{}
	emb.On("Embed", mock.Anything, mock.Anything).Return(nil, errors.New("invalid api key"))
	g := newTestGateway(emb, &fakeLLM{}, nil, &recorder{})

	_, err := g.Embed(context.Background(), "text")
	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)
	require.Equal(t, 1, embErr.Attempts)
	require.Equal(t, "fake:embed", embErr.Model)
	emb.AssertNumberOfCalls(t, "Embed", 1)
}

func TestEmbedExhaustsRetries(t *testing.T) {
	emb := &fakeEmbedder{}
	emb.On("Embed", mock.Anything, mock.Anything).Return(nil, errors.New("429 too many requests"))
	rec := &recorder{}
	g := newTestGateway(emb, &fakeLLM{}, nil, rec)

	_, err := g.EmbedBatch(context.Background(), []string{"a", "b"})
	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)
	require.Equal(t, 3, embErr.Attempts)
	require.Len(t, rec.delays, 2)
	require.True(t, IsDegradable(err))
}

func TestEmbedBatchRejectsShortResponse(t *testing.T) {
	emb := &fakeEmbedder{}
	emb.On("Embed", mock.Anything, mock.Anything).Return([][]float32{{1}}, nil)
	g := newTestGateway(emb, &fakeLLM{}, nil, &recorder{})

	_, err := g.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
}

func TestEmbedBatchRejectsWrongDimension(t *testing.T) {
	emb := &fakeEmbedder{}
	emb.On("Embed", mock.Anything, mock.Anything).Return([][]float32{{1, 0}, {0, 1}}, nil).Once()
	g := newTestGateway(emb, &fakeLLM{}, nil, &recorder{})
	WithEmbedDimension(3)(g)

	_, err := g.EmbedBatch(context.Background(), []string{"a", "b"})
	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)
	require.Equal(t, 1, embErr.Attempts)
	require.Contains(t, err.Error(), "want 3")
	emb.AssertExpectations(t)
}

func TestEmbedBatchRejectsRaggedVectors(t *testing.T) {
	emb := &fakeEmbedder{}
	emb.On("Embed", mock.Anything, mock.Anything).Return([][]float32{{1, 0, 0}, {0, 1}}, nil)
	g := newTestGateway(emb, &fakeLLM{}, nil, &recorder{})

	_, err := g.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "input 1")
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	g := newTestGateway(&fakeEmbedder{}, &fakeLLM{}, nil, &recorder{})
	out, err := g.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestSleepContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
