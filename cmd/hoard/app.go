package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/hoardlabs/hoard/internal/config"
	"github.com/hoardlabs/hoard/internal/dispatch"
	"github.com/hoardlabs/hoard/internal/embedding"
	"github.com/hoardlabs/hoard/internal/memory"
	"github.com/hoardlabs/hoard/internal/search"
	"github.com/hoardlabs/hoard/internal/store"
	"github.com/hoardlabs/hoard/internal/tasks"
	"github.com/hoardlabs/hoard/internal/writer"
)

// Hybrid search blend. Vector similarity dominates; bm25 keeps keyword
// matches relevant when embeddings are cold.
const (
	vectorWeight = 0.6
	bm25Weight   = 0.4
)

// app bundles config and logger for every subcommand. Logs go to stderr
// so stdout stays clean for JSON results and the MCP protocol stream.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func loadApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	return &app{cfg: cfg, logger: logger}, nil
}

// services assembles the one-shot command stack: the writer handle doubles
// as the read handle (the process is short-lived), and writes go through
// the scoped submitter so they serialize against any running server via
// the cross-process write lock.
type cliServices struct {
	db     *store.DB
	writes writer.Submitter
	mem    *memory.Service
	tsk    *tasks.Service
	embed  *embedding.Client
	close  func()
}

func (a *app) services() (*cliServices, error) {
	db, err := store.Open(a.cfg.Storage.DBPath, a.cfg.BusyTimeout())
	if err != nil {
		return nil, err
	}

	scoped := &writer.Scoped{
		DBPath:      a.cfg.Storage.DBPath,
		BusyTimeout: a.cfg.BusyTimeout(),
		LockTimeout: a.cfg.LockTimeout(),
	}

	embedClient := embedding.NewClient(a.cfg.Embedding.Endpoint, a.cfg.Embedding.Model, a.cfg.Embedding.Dimension)
	embedder := embedding.NewCachedEmbedder(embedClient, db)
	searcher := search.NewSearcher(vectorWeight, bm25Weight)

	mem := memory.NewService(
		scoped, db, searcher, embedder,
		a.cfg.Memory.DefaultTTLDays,
		a.cfg.RetryBudget(), a.cfg.RetryBackoff(),
		a.logger,
	)
	tsk := tasks.NewService(scoped, db, a.cfg.RetryBudget(), a.cfg.RetryBackoff(), a.logger)

	return &cliServices{
		db:     db,
		writes: scoped,
		mem:    mem,
		tsk:    tsk,
		embed:  embedClient,
		close:  func() { db.Close() },
	}, nil
}

// statusFunc reports store health for the status tool and CLI.
func (a *app) statusFunc(q store.Querier) dispatch.StatusFunc {
	return func(ctx context.Context) (any, error) {
		out := map[string]any{
			"version": version,
			"db_path": a.cfg.Storage.DBPath,
		}
		if n, err := store.PendingJobCount(q); err == nil {
			out["pending_jobs"] = n
		} else {
			out["store_error"] = err.Error()
		}
		if lease, err := store.GetLease(q); err == nil && lease != nil {
			out["worker"] = lease
		}
		return out, nil
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
