package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hoardlabs/hoard/internal/api"
	"github.com/hoardlabs/hoard/internal/dispatch"
	"github.com/hoardlabs/hoard/internal/embedding"
	"github.com/hoardlabs/hoard/internal/lock"
	"github.com/hoardlabs/hoard/internal/memory"
	"github.com/hoardlabs/hoard/internal/search"
	"github.com/hoardlabs/hoard/internal/store"
	"github.com/hoardlabs/hoard/internal/tasks"
	"github.com/hoardlabs/hoard/internal/worker"
	"github.com/hoardlabs/hoard/internal/writer"

	hoardsync "github.com/hoardlabs/hoard/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hoard server (HTTP API, background worker, sync)",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	cfg, logger := a.cfg, a.logger

	// Singleton rule: exactly one server per database, enforced before
	// anything touches the store.
	serverLock := lock.NewServerLock(cfg.Storage.DBPath)
	if err := serverLock.AcquireOrFail(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	defer serverLock.Release()

	db, err := store.Open(cfg.Storage.DBPath, cfg.BusyTimeout())
	if err != nil {
		return err
	}
	defer db.Close()

	reader, err := store.OpenReader(cfg.Storage.DBPath, cfg.BusyTimeout())
	if err != nil {
		return err
	}
	defer reader.Close()

	coord := writer.New(db, cfg.LockTimeout(), logger)
	defer coord.Close()

	embedClient := embedding.NewClient(cfg.Embedding.Endpoint, cfg.Embedding.Model, cfg.Embedding.Dimension)
	embedder := embedding.NewCachedEmbedder(embedClient, reader)
	searcher := search.NewSearcher(vectorWeight, bm25Weight)
	detector := memory.NewDetector(cfg.Duplicates.Threshold, logger)

	memSvc := memory.NewService(
		coord, reader, searcher, embedder,
		cfg.Memory.DefaultTTLDays,
		cfg.RetryBudget(), cfg.RetryBackoff(),
		logger,
	)
	tskSvc := tasks.NewService(coord, reader, cfg.RetryBudget(), cfg.RetryBackoff(), logger)

	registry := dispatch.NewRegistry(memSvc, tskSvc, a.statusFunc(reader), logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	wrk := worker.New(coord, reader, embedder, detector, cfg.LeaseTTL(), cfg.WorkerPoll(), logger)
	go wrk.Run(ctx)
	defer wrk.Close()

	if cfg.Sync.IntervalMinutes > 0 || len(cfg.Sync.WatchPaths) > 0 {
		runner := hoardsync.NewRunner(memSvc, cfg.Storage.DBPath, cfg.Sync.WatchPaths, logger)
		bg := hoardsync.NewBackground(
			runner,
			time.Duration(cfg.Sync.IntervalMinutes)*time.Minute,
			cfg.Sync.WatchPaths,
			logger,
		)
		go bg.Run(ctx)
	}

	router := api.NewRouter(db, registry, embedClient, cfg.Server.APIKey, version, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("hoard server starting", "addr", addr, "db", cfg.Storage.DBPath, "worker", wrk.ID())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-done:
	}

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
