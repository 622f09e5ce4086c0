package main

import (
	"github.com/smallbiznis/invoicer/internal/migration"
	"github.com/smallbiznis/invoicer/internal/reporting"
	"github.com/smallbiznis/invoicer/internal/scheduler"
	"github.com/smallbiznis/invoicer/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and, unless SCHEDULER_ENABLED=false, the overdue sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			infrastructure(),
			migration.Module,
			domains(),
			scheduler.Module,
			scheduler.Runner,
			server.Module,
			reporting.Module,
		)
		app.Run()
		return app.Err()
	},
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run only the overdue sweep loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			infrastructure(),
			domains(),
			scheduler.Module,
			scheduler.Runner,
		)
		app.Run()
		return app.Err()
	},
}
