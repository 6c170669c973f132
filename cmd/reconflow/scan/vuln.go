package scan

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"reconflow/cmd/reconflow/app"
)

func NewVulnCommand(opts *app.Options) *cobra.Command {
	var (
		subdomainID uint
		categories  []string
	)

	cmd := &cobra.Command{
		Use:   "vuln",
		Short: "Run a vulnerability scan for one stored subdomain and wait for it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runVuln(cmd.Context(), cmd.OutOrStdout(), opts, subdomainID, categories)
		},
	}

	cmd.Flags().UintVar(&subdomainID, "subdomain-id", 0, "Subdomain id as shown by the scan command (required)")
	cmd.Flags().StringSliceVarP(&categories, "categories", "c", nil, "Vulnerability categories to scan for (required)")
	_ = cmd.MarkFlagRequired("subdomain-id")
	_ = cmd.MarkFlagRequired("categories")

	return cmd
}

func runVuln(ctx context.Context, out io.Writer, opts *app.Options, id uint, categories []string) (err error) {
	a, err := app.New(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { err = closeApp(ctx, a, err) }()

	if err := a.Scans.TriggerVulnerabilityScan(ctx, id, categories); err != nil {
		return err
	}
	if err := a.Scheduler.Wait(ctx); err != nil {
		return err
	}

	progress, err := a.Scans.GetProgress(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "subdomain %d: %s\n", id, progress[id])
	return err
}
