// Package agent runs one conversation turn per request: resolve the session,
// retrieve passages, generate with failover, and log every transition.
package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"ragchat/internal/config"
	"ragchat/internal/gateway"
	"ragchat/internal/models"
	"ragchat/internal/providers"
	"ragchat/internal/storage"

	"go.uber.org/zap"
)

type State string

const (
	StateInit     State = "INIT"
	StateRetrieve State = "RETRIEVE"
	StateGenerate State = "GENERATE"
	StateLog      State = "LOG"
	StateDone     State = "DONE"
)

var ErrEmptyQuery = errors.New("query is empty")

type Retriever interface {
	Search(query []float32, k int) ([]models.ChunkResult, error)
}

type ModelGateway interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Generate(ctx context.Context, req providers.GenerateRequest) (gateway.GenerateResult, error)
}

type Options struct {
	TopK          int
	HistoryWindow int
	MaxTokens     int
	Temperature   float64
	// StoreRetry bounds retries of SessionStore writes that fail with a
	// StoreError.
	StoreRetry gateway.Policy
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		TopK:          cfg.TopKDocs,
		HistoryWindow: cfg.ShortTermMemoryWindow,
		MaxTokens:     cfg.MaxTokens,
		Temperature:   cfg.Temperature,
		StoreRetry:    gateway.PolicyFromConfig(cfg),
	}
}

// Result is what the caller sees of a finished turn.
type Result struct {
	SessionID       string               `json:"session_id"`
	State           State                `json:"state"`
	Response        string               `json:"response"`
	Retrieved       []models.ChunkResult `json:"retrieved"`
	ModelUsed       string               `json:"model_used"`
	Degraded        bool                 `json:"degraded"`
	Attempts        []gateway.Attempt    `json:"attempts"`
	RetrievalError  string               `json:"retrieval_error,omitempty"`
	GenerationError string               `json:"generation_error,omitempty"`
}

type Machine struct {
	store    storage.SessionStore
	index    Retriever
	gw       ModelGateway
	opts     Options
	logger   *zap.Logger
	lanes    *laneSet
	inflight sync.WaitGroup
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewMachine(store storage.SessionStore, index Retriever, gw ModelGateway, opts Options, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TopK < 1 {
		opts.TopK = 1
	}
	return &Machine{
		store:  store,
		index:  index,
		gw:     gw,
		opts:   opts,
		logger: logger,
		lanes:  newLaneSet(),
		sleep:  sleepContext,
	}
}

// Handle processes query for sessionID, creating the session when the id is
// empty or unknown. Turns for the same session run one at a time in arrival
// order. The turn always runs to completion: if ctx ends first, Handle
// returns ctx.Err() while the turn keeps running in the background.
func (m *Machine) Handle(ctx context.Context, sessionID, query string) (Result, error) {
	if strings.TrimSpace(query) == "" {
		return Result{}, ErrEmptyQuery
	}
	work := context.WithoutCancel(ctx)
	if sessionID == "" {
		sess, err := retryStore(work, m, "create session", func() (models.Session, error) {
			return m.store.CreateSession(work)
		})
		if err != nil {
			return Result{}, err
		}
		sessionID = sess.SessionID
	}

	prev, leave := m.lanes.enter(sessionID)
	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		defer leave()
		if prev != nil {
			<-prev
		}
		res, err := m.process(work, sessionID, query)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		m.logger.Info("caller left before turn finished", zap.String("session_id", sessionID))
		return Result{SessionID: sessionID}, ctx.Err()
	}
}

// Wait blocks until every accepted turn has finished.
func (m *Machine) Wait() { m.inflight.Wait() }

func (m *Machine) process(ctx context.Context, sessionID, query string) (Result, error) {
	res := Result{SessionID: sessionID, State: StateInit}
	log := m.logger.With(zap.String("session_id", sessionID))

	if _, err := retryStore(ctx, m, "ensure session", func() (models.Session, error) {
		return m.store.EnsureSession(ctx, sessionID)
	}); err != nil {
		return res, err
	}
	history, err := retryStore(ctx, m, "recent messages", func() ([]models.Message, error) {
		return m.store.RecentMessages(ctx, sessionID, m.opts.HistoryWindow)
	})
	if err != nil {
		return res, err
	}
	if _, err := retryStore(ctx, m, "append user message", func() (models.Message, error) {
		return m.store.AppendMessage(ctx, sessionID, models.RoleUser, query)
	}); err != nil {
		return res, err
	}

	m.transition(log, &res, StateRetrieve)
	retrieved, retrErr := m.retrieve(ctx, query)
	res.Retrieved = retrieved
	ids, scores := chunkIDs(retrieved)
	snap := models.AgentStateSnapshot{SessionID: sessionID, Step: models.StepRetrieve, RetrievedChunkIDs: ids, Scores: scores, Succeeded: retrErr == nil}
	if retrErr != nil {
		res.RetrievalError = retrErr.Error()
		snap.Error = res.RetrievalError
		log.Warn("retrieval degraded to empty context", zap.Error(retrErr))
	}
	if err := m.appendState(ctx, snap); err != nil {
		return res, err
	}

	m.transition(log, &res, StateGenerate)
	gen, genErr := m.gw.Generate(ctx, buildRequest(query, history, retrieved, m.opts))
	res.Attempts = gen.Attempts
	for _, a := range gen.Attempts {
		if err := m.appendState(ctx, models.AgentStateSnapshot{
			SessionID:         sessionID,
			Step:              models.StepGenerate,
			RetrievedChunkIDs: ids,
			ModelUsed:         a.ModelUsed,
			AttemptNumber:     a.AttemptNumber,
			Succeeded:         a.Succeeded,
			Fallback:          a.Fallback,
			Error:             a.Error,
		}); err != nil {
			return res, err
		}
	}
	if len(gen.Attempts) == 0 && genErr != nil {
		if err := m.appendState(ctx, models.AgentStateSnapshot{
			SessionID: sessionID, Step: models.StepGenerate, RetrievedChunkIDs: ids, Error: genErr.Error(),
		}); err != nil {
			return res, err
		}
	}
	res.Response, res.ModelUsed = gen.Text, gen.ModelUsed
	if genErr != nil {
		res.Response, res.ModelUsed = DegradedResponse, ""
		res.Degraded = true
		res.GenerationError = genErr.Error()
		log.Error("generation failed on every model", zap.Error(genErr))
	}

	m.transition(log, &res, StateLog)
	if _, err := retryStore(ctx, m, "append assistant message", func() (models.Message, error) {
		return m.store.AppendMessage(ctx, sessionID, models.RoleAssistant, res.Response)
	}); err != nil {
		return res, err
	}
	if err := m.appendState(ctx, models.AgentStateSnapshot{
		SessionID:         sessionID,
		Step:              models.StepLog,
		RetrievedChunkIDs: ids,
		ModelUsed:         res.ModelUsed,
		AttemptNumber:     len(res.Attempts),
		Succeeded:         !res.Degraded,
		Fallback:          !res.Degraded && usedFallback(res.Attempts),
		Error:             res.GenerationError,
	}); err != nil {
		return res, err
	}

	m.transition(log, &res, StateDone)
	return res, nil
}

func (m *Machine) retrieve(ctx context.Context, query string) ([]models.ChunkResult, error) {
	vec, err := m.gw.Embed(ctx, query)
	if err != nil {
		return []models.ChunkResult{}, err
	}
	results, err := m.index.Search(vec, m.opts.TopK)
	if err != nil {
		return []models.ChunkResult{}, err
	}
	return results, nil
}

func (m *Machine) appendState(ctx context.Context, snap models.AgentStateSnapshot) error {
	_, err := retryStore(ctx, m, "append "+string(snap.Step)+" state", func() (models.AgentStateSnapshot, error) {
		return m.store.AppendState(ctx, snap)
	})
	return err
}

func (m *Machine) transition(log *zap.Logger, res *Result, to State) {
	log.Debug("state transition", zap.String("from", string(res.State)), zap.String("to", string(to)))
	res.State = to
}

// retryStore repeats fn while it fails with a StoreError, using the machine's
// store retry policy.
func retryStore[T any](ctx context.Context, m *Machine, op string, fn func() (T, error)) (T, error) {
	attempts := m.opts.StoreRetry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var out T
	var err error
	for i := 1; i <= attempts; i++ {
		out, err = fn()
		var se *storage.StoreError
		if err == nil || !errors.As(err, &se) {
			return out, err
		}
		m.logger.Warn("session store call failed", zap.String("op", op), zap.Int("attempt", i), zap.Error(err))
		if i == attempts {
			break
		}
		if serr := m.sleep(ctx, m.opts.StoreRetry.Delay(i)); serr != nil {
			break
		}
	}
	return out, err
}

// usedFallback reports whether the successful attempt was the fallback call.
func usedFallback(attempts []gateway.Attempt) bool {
	for _, a := range attempts {
		if a.Succeeded {
			return a.Fallback
		}
	}
	return false
}

func chunkIDs(results []models.ChunkResult) ([]int64, []float64) {
	ids := make([]int64, 0, len(results))
	scores := make([]float64, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Chunk.ChunkID)
		scores = append(scores, r.Score)
	}
	return ids, scores
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
