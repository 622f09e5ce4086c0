package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "invoicer",
	Short: "Invoicing service: invoice lifecycle, payments and overdue reminders",
	Long: `invoicer runs the invoicing HTTP API, the overdue sweep scheduler and
the schema migrations. Configuration is read from the environment and an
optional .env file.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, schedulerCmd, migrateCmd, sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "invoicer: %v\n", err)
		os.Exit(1)
	}
}
