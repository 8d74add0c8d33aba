// Package app wires the configured stores, index, model gateway, state
// machine and ingester into one runnable unit shared by the binaries.
package app

import (
	"context"
	"fmt"

	"ragchat/internal/activities"
	"ragchat/internal/agent"
	"ragchat/internal/config"
	"ragchat/internal/gateway"
	"ragchat/internal/ingest"
	"ragchat/internal/logging"
	"ragchat/internal/providers"
	"ragchat/internal/storage"
	"ragchat/internal/vector"
	"ragchat/internal/workflows"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
)

type App struct {
	Config   config.Config
	Store    storage.Store
	Index    *vector.Index
	Gateway  *gateway.Gateway
	Machine  *agent.Machine
	Pipeline *ingest.Pipeline
	Ingester ingest.Ingester
	Logger   *zap.Logger

	temporal client.Client
	worker   worker.Worker
}

// New opens the store, restores the index snapshot and builds the chat and
// ingest components. In temporal ingest mode it also dials the server and
// starts an in-process worker, since activities commit into this process's
// index.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &App{Config: cfg, Store: store, Logger: logger}

	a.Index = vector.NewIndex(logger.Named("index"))
	if err := a.Index.LoadFile(cfg.IndexPath); err != nil {
		a.Close()
		return nil, err
	}

	pm, err := providers.NewManager(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build providers: %w", err)
	}
	a.Gateway = gateway.New(pm, gateway.PolicyFromConfig(cfg),
		gateway.WithLogger(logger.Named("gateway")),
		gateway.WithEmbedDimension(cfg.EmbedDim))
	a.Machine = agent.NewMachine(store, a.Index, a.Gateway, agent.OptionsFromConfig(cfg), logger.Named("agent"))

	a.Pipeline, err = ingest.NewPipeline(cfg, a.Gateway, a.Index, store, logger.Named("ingest"))
	if err != nil {
		a.Close()
		return nil, err
	}

	switch cfg.IngestMode {
	case "temporal":
		if err := a.startTemporal(); err != nil {
			a.Close()
			return nil, err
		}
	default:
		a.Ingester = ingest.LocalIngester{Pipeline: a.Pipeline}
	}

	logger.Info("ragchat ready",
		zap.String("store", cfg.StoreDriver),
		zap.String("ingest", cfg.IngestMode),
		zap.Int("index_size", a.Index.Size()),
		zap.String("primary_model", cfg.PrimaryModel),
		zap.String("fallback_model", cfg.FallbackModel),
		zap.String("embed_model", cfg.EmbedModel))
	return a, nil
}

func (a *App) startTemporal() error {
	c, err := client.Dial(client.Options{HostPort: a.Config.TemporalAddress})
	if err != nil {
		return fmt.Errorf("dial temporal: %w", err)
	}
	a.temporal = c

	w := worker.New(c, a.Config.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	activities.Register(w, activities.New(a.Pipeline))
	if err := w.Start(); err != nil {
		return fmt.Errorf("start temporal worker: %w", err)
	}
	a.worker = w

	a.Ingester = ingest.TemporalIngester{
		Pipeline:     a.Pipeline,
		Client:       c,
		TaskQueue:    a.Config.TemporalTaskQueue,
		WorkflowName: workflows.DocumentIngestWorkflowName,
		Logger:       a.Logger.Named("ingest"),
	}
	a.Logger.Info("temporal ingest worker started",
		zap.String("address", a.Config.TemporalAddress),
		zap.String("queue", a.Config.TemporalTaskQueue))
	return nil
}

// Close waits for in-flight conversation turns, then stops the worker and
// releases the store.
func (a *App) Close() {
	if a.Machine != nil {
		a.Machine.Wait()
	}
	if a.worker != nil {
		a.worker.Stop()
	}
	if a.temporal != nil {
		a.temporal.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn("close store", zap.Error(err))
		}
	}
}
