package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/smallbiznis/invoicer/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one overdue sweep and print the outcome",
	Example: `  # Mark every SENT invoice past its due date as OVERDUE
  invoicer sweep`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().Duration("timeout", 5*time.Minute, "Upper bound for the whole sweep")
}

func runSweep(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")

	var sched *scheduler.Scheduler
	app := fx.New(
		fx.NopLogger,
		infrastructure(),
		domains(),
		scheduler.Module,
		fx.Populate(&sched),
	)
	if err := app.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		_ = app.Stop(stopCtx)
	}()

	result, sweepErr := sched.Sweep(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	return sweepErr
}
