// Package gateway wraps the configured model providers with retries,
// exponential backoff, per-call timeouts and primary-to-fallback failover.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ragchat/internal/config"
	"ragchat/internal/providers"

	"go.uber.org/zap"
)

// DefaultMaxDelay caps backoff, matching the ingest workflow's retry
// MaximumInterval.
const DefaultMaxDelay = 20 * time.Second

// Policy bounds every external call made by the gateway.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxDelay caps a single backoff wait. Zero means DefaultMaxDelay.
	MaxDelay    time.Duration
	CallTimeout time.Duration
}

func PolicyFromConfig(cfg config.Config) Policy {
	return Policy{
		MaxAttempts: cfg.MaxRetryAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		CallTimeout: cfg.CallTimeout,
	}
}

// Delay is the wait after the given failed attempt: base, 2*base, 4*base...
// up to MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	ceiling := p.MaxDelay
	if ceiling <= 0 {
		ceiling = DefaultMaxDelay
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		if d >= ceiling/2 {
			return ceiling
		}
		d *= 2
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Attempt records one call against a generation provider. AttemptNumber
// counts across primary retries and the fallback call.
type Attempt struct {
	ModelUsed     string `json:"model_used"`
	AttemptNumber int    `json:"attempt_number"`
	Fallback      bool   `json:"fallback,omitempty"`
	Succeeded     bool   `json:"succeeded"`
	Error         string `json:"error,omitempty"`
}

type GenerateResult struct {
	Text      string    `json:"text"`
	ModelUsed string    `json:"model_used"`
	Attempts  []Attempt `json:"attempts"`
}

type Gateway struct {
	embedder providers.NamedEmbedProvider
	primary  providers.NamedLLMProvider
	fallback *providers.NamedLLMProvider
	policy   Policy
	dim      int
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

type Option func(*Gateway)

func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Gateway) { g.sleep = fn }
}

// WithEmbedDimension asks providers that support it for vectors of dim.
func WithEmbedDimension(dim int) Option {
	return func(g *Gateway) { g.dim = dim }
}

func New(m *providers.Manager, policy Policy, opts ...Option) *Gateway {
	g := &Gateway{
		embedder: m.Embedder,
		primary:  m.Primary,
		fallback: m.Fallback,
		policy:   policy,
		logger:   zap.NewNop(),
		sleep:    sleepContext,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Models reports the configured provider refs. Fallback is empty when none is
// configured.
func (g *Gateway) Models() (embed, primary, fallback string) {
	if g.fallback != nil {
		fallback = g.fallback.Ref.Raw
	}
	return g.embedder.Ref.Raw, g.primary.Ref.Raw, fallback
}

func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one provider request, retrying transient
// failures. It fails with *EmbeddingError once retries are exhausted.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	model := g.embedder.Ref.Raw
	var lastErr error
	attempt := 0
	for attempt < g.policy.attempts() {
		attempt++
		vecs, err := g.embedOnce(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		kind := providers.ClassifyError(err)
		g.logger.Warn("embedding attempt failed",
			zap.String("model", model),
			zap.Int("attempt", attempt),
			zap.String("kind", string(kind)),
			zap.Error(err))
		if !providers.Retryable(kind) || attempt == g.policy.attempts() {
			break
		}
		if err := g.sleep(ctx, g.policy.Delay(attempt)); err != nil {
			lastErr = err
			break
		}
	}
	return nil, &EmbeddingError{Model: model, Attempts: attempt, Err: lastErr}
}

func (g *Gateway) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := g.callContext(ctx)
	defer cancel()
	vecs, _, err := g.embedder.Provider.Embed(callCtx, providers.EmbedRequest{Operation: "embed", Inputs: texts, Dimension: g.dim})
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d inputs", len(vecs), len(texts))
	}
	want := g.dim
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, fmt.Errorf("embedding provider returned empty vector for input %d", i)
		}
		if want <= 0 {
			want = len(v)
		}
		if len(v) != want {
			return nil, fmt.Errorf("embedding provider returned %d-dimensional vector for input %d, want %d", len(v), i, want)
		}
	}
	return vecs, nil
}

// Generate tries the primary up to MaxAttempts times with backoff, then the
// fallback exactly once. Every call is reported in the result's Attempts, on
// success and on failure.
func (g *Gateway) Generate(ctx context.Context, req providers.GenerateRequest) (GenerateResult, error) {
	var res GenerateResult
	var primaryErr error
	n := 0
	for i := 1; i <= g.policy.attempts(); i++ {
		n++
		text, err := g.generateOnce(ctx, g.primary, req)
		res.Attempts = append(res.Attempts, attemptRecord(g.primary.Ref.Raw, n, false, err))
		if err == nil {
			res.Text, res.ModelUsed = text, g.primary.Ref.Raw
			return res, nil
		}
		primaryErr = err
		g.logger.Warn("primary generation attempt failed",
			zap.String("model", g.primary.Ref.Raw),
			zap.Int("attempt", n),
			zap.String("kind", string(providers.ClassifyError(err))),
			zap.Error(err))
		if i == g.policy.attempts() {
			break
		}
		if err := g.sleep(ctx, g.policy.Delay(i)); err != nil {
			break
		}
	}

	if g.fallback == nil {
		return res, &GenerationError{PrimaryErr: primaryErr, Attempts: res.Attempts}
	}
	n++
	g.logger.Warn("switching to fallback model",
		zap.String("primary", g.primary.Ref.Raw),
		zap.String("fallback", g.fallback.Ref.Raw))
	text, err := g.generateOnce(ctx, *g.fallback, req)
	res.Attempts = append(res.Attempts, attemptRecord(g.fallback.Ref.Raw, n, true, err))
	if err != nil {
		g.logger.Warn("fallback generation failed", zap.String("model", g.fallback.Ref.Raw), zap.Error(err))
		return res, &GenerationError{PrimaryErr: primaryErr, FallbackErr: err, Attempts: res.Attempts}
	}
	res.Text, res.ModelUsed = text, g.fallback.Ref.Raw
	return res, nil
}

func (g *Gateway) generateOnce(ctx context.Context, p providers.NamedLLMProvider, req providers.GenerateRequest) (string, error) {
	callCtx, cancel := g.callContext(ctx)
	defer cancel()
	resp, _, err := p.Provider.Generate(callCtx, req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (g *Gateway) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.policy.CallTimeout > 0 {
		return context.WithTimeout(ctx, g.policy.CallTimeout)
	}
	return context.WithCancel(ctx)
}

func attemptRecord(model string, n int, fallback bool, err error) Attempt {
	a := Attempt{ModelUsed: model, AttemptNumber: n, Fallback: fallback, Succeeded: err == nil}
	if err != nil {
		a.Error = err.Error()
	}
	return a
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsDegradable reports whether err is one the conversation flow absorbs
// instead of failing the request.
func IsDegradable(err error) bool {
	var embErr *EmbeddingError
	var genErr *GenerationError
	return errors.As(err, &embErr) || errors.As(err, &genErr)
}
