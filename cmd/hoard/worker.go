package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hoardlabs/hoard/internal/embedding"
	"github.com/hoardlabs/hoard/internal/memory"
	"github.com/hoardlabs/hoard/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a standalone background worker",
	Long: `Drains the job queue (embeddings, duplicate and conflict detection)
without the HTTP server. The worker lease in the store keeps at most one
worker active per database, so running this next to 'hoard serve' leaves
one of the two on standby.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	svcs, err := a.services()
	if err != nil {
		return err
	}
	defer svcs.close()

	embedder := embedding.NewCachedEmbedder(svcs.embed, svcs.db)
	detector := memory.NewDetector(a.cfg.Duplicates.Threshold, a.logger)

	wrk := worker.New(
		svcs.writes, svcs.db, embedder, detector,
		a.cfg.LeaseTTL(), a.cfg.WorkerPoll(),
		a.logger,
	)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go wrk.Run(ctx)
	a.logger.Info("worker started", "id", wrk.ID(), "db", a.cfg.Storage.DBPath)

	<-done
	a.logger.Info("worker stopping")
	cancel()
	wrk.Close()
	return nil
}
