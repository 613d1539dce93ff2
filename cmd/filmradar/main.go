package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "filmradar",
		Short:         "Rank trending movies from box office, search and video signals",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(ingestCmd())
	root.AddCommand(scoresCmd())
	root.AddCommand(runsCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func ingestCmd() *cobra.Command {
	var (
		date       string
		region     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion for a date and region",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), date, region, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "chart date YYYY-MM-DD (default: today minus schedule.date_offset_days)")
	cmd.Flags().StringVar(&region, "region", "", "region code (default: from config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output the run report as JSON")
	return cmd
}

func scoresCmd() *cobra.Command {
	var (
		date       string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "scores",
		Short: "Show the stored ranking for a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScores(cmd.Context(), date, limit, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "ranking date YYYY-MM-DD (default: latest)")
	cmd.Flags().IntVar(&limit, "limit", 20, "max titles to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runsCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent ingestion runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(cmd.Context(), limit, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "max runs to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
