package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	batchTenant string
	batchLimit  int
)

var batchCmd = &cobra.Command{
	Use:   "batch <directory>",
	Short: "Analyze every contract document in a directory",
	Long:  "Scans a directory for .pdf, .txt, and .md files and runs each through the analysis pipeline concurrently.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		paths, err := collectDocuments(args[0])
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			zap.L().Info("no documents found", zap.String("dir", args[0]))
			return nil
		}
		if batchLimit > 0 && len(paths) > batchLimit {
			paths = paths[:batchLimit]
		}

		concurrency := cfg.Pipeline.BatchConcurrency
		if concurrency <= 0 {
			concurrency = 3
		}
		zap.L().Info("processing batch",
			zap.Int("documents", len(paths)),
			zap.Int("concurrency", concurrency),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)

		var succeeded, failed atomic.Int64
		for _, path := range paths {
			g.Go(func() error {
				log := zap.L().With(zap.String("document", path))
				docID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

				run, _, err := env.Orchestrator.Start(gctx, batchTenant, docID, path)
				if err != nil {
					failed.Add(1)
					log.Error("start failed", zap.Error(err))
					return nil // don't abort the batch on individual failure
				}
				if err := env.Orchestrator.Run(gctx, run.ID); err != nil {
					failed.Add(1)
					log.Error("analysis failed", zap.Error(err))
					return nil
				}
				succeeded.Add(1)
				log.Info("analysis complete", zap.String("analysis_id", run.ID))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return eris.Wrap(err, "batch processing")
		}

		zap.L().Info("batch complete",
			zap.Int64("succeeded", succeeded.Load()),
			zap.Int64("failed", failed.Load()),
		)
		return nil
	},
}

func collectDocuments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "read directory %s", dir)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".pdf", ".txt", ".md":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}

func init() {
	batchCmd.Flags().StringVar(&batchTenant, "tenant", "default", "tenant the documents belong to")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of documents to process (0 = all)")
	rootCmd.AddCommand(batchCmd)
}
