package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	analyzeTenant   string
	analyzeDocID    string
	analyzeWaitJSON bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <document-path>",
	Short: "Analyze a contract document and wait for the report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		path := args[0]
		docID := analyzeDocID
		if docID == "" {
			docID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}

		run, created, err := env.Orchestrator.Start(ctx, analyzeTenant, docID, path)
		if err != nil {
			return err
		}
		if !created {
			zap.L().Info("attaching to active analysis", zap.String("analysis_id", run.ID))
		}

		if err := env.Orchestrator.Run(ctx, run.ID); err != nil {
			return err
		}

		final, err := env.Store.GetRun(ctx, run.ID)
		if err != nil {
			return err
		}

		if analyzeWaitJSON {
			out, err := json.MarshalIndent(final, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		fmt.Printf("Analysis %s: %s\n", final.ID, final.Status)
		fmt.Printf("  Tokens: %d  Cost: $%.4f  Time: %dms\n",
			final.TokenUsage.Total(), final.EstimatedCost, final.ProcessingTimeMs)
		if final.Report != "" {
			fmt.Println(final.Report)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeTenant, "tenant", "default", "tenant the document belongs to")
	analyzeCmd.Flags().StringVar(&analyzeDocID, "document-id", "", "document identifier (default: file name)")
	analyzeCmd.Flags().BoolVar(&analyzeWaitJSON, "json", false, "print the full run record as JSON")
	rootCmd.AddCommand(analyzeCmd)
}
