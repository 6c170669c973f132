package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"reconflow/cmd/reconflow/app"
	"reconflow/cmd/reconflow/jobs"
	"reconflow/cmd/reconflow/scan"
	"reconflow/cmd/reconflow/server"
)

func Execute() error {
	opts := &app.Options{}

	var rootCmd = &cobra.Command{
		Use:   "reconflow",
		Short: "A reconnaissance pipeline for subdomains, liveness, ports and vulnerabilities",
		Long: `Reconflow enumerates the subdomains of a domain, probes them over HTTP,
scans their ports and runs template based vulnerability scans on demand.
Results are stored in a database and served over a JSON API.`,
	}

	rootCmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "Config file (default: reconflow.yaml in ./config, ., /etc/reconflow, $HOME/.reconflow)")
	rootCmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Enable verbose logging")

	// Add commands
	rootCmd.AddCommand(server.NewServerCommand(opts))
	rootCmd.AddCommand(scan.NewScanCommand(opts))
	rootCmd.AddCommand(scan.NewVulnCommand(opts))
	rootCmd.AddCommand(jobs.NewJobsCommand(opts))
	rootCmd.AddCommand(jobs.NewDeleteCommand(opts))
	rootCmd.AddCommand(jobs.NewCategoriesCommand())
	rootCmd.AddCommand(jobs.NewConfigCommand(opts))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
