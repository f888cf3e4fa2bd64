package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/clauselens/clauselens/internal/model"
)

var (
	runsTenant string
	runsStatus string
	runsLimit  int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List analysis runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		runs, err := env.Store.ListRuns(ctx, model.RunFilter{
			TenantID: runsTenant,
			Status:   model.RunStatus(runsStatus),
			Limit:    runsLimit,
		})
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTENANT\tDOCUMENT\tSTATUS\tSTAGE\t%\tCOST\tCREATED")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t$%.4f\t%s\n",
				r.ID, r.TenantID, r.DocumentID, r.Status, r.ProgressStage,
				r.ProgressPercent, r.EstimatedCost, r.CreatedAt.Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

var runsCancelCmd = &cobra.Command{
	Use:   "cancel <analysis-id>",
	Short: "Request cancellation of a running analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Orchestrator.Cancel(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("cancel requested for %s\n", args[0])
		return nil
	},
}

var runsResumeCmd = &cobra.Command{
	Use:   "resume <analysis-id>",
	Short: "Resume a cancelled or failed analysis and run it to completion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Orchestrator.Resume(ctx, args[0])
		if err != nil {
			return err
		}
		return env.Orchestrator.Run(ctx, run.ID)
	},
}

var runsRestartCmd = &cobra.Command{
	Use:   "restart <analysis-id>",
	Short: "Discard a run's results and analyze the document from scratch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Orchestrator.Restart(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("restarted as %s\n", run.ID)
		return env.Orchestrator.Run(ctx, run.ID)
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsTenant, "tenant", "", "filter by tenant")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "filter by status")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 50, "maximum rows")
	runsCmd.AddCommand(runsCancelCmd, runsResumeCmd, runsRestartCmd)
	rootCmd.AddCommand(runsCmd)
}
