package jobs

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"reconflow/cmd/reconflow/app"
	"reconflow/internal/models"
)

func NewJobsCommand(opts *app.Options) *cobra.Command {
	var page, limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List stored scan jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				result, err := a.Scans.ListJobs(cmd.Context(), page, limit)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tDOMAIN\tSTATUS\tERROR\tCREATED")
				for _, j := range result.Jobs {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", j.ID, j.Domain, j.Status, j.ErrorKind, j.CreatedAt.Format(time.RFC3339))
				}
				fmt.Fprintf(w, "\npage %d: %d of %d jobs\n", result.Page, len(result.Jobs), result.Total)
				return w.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&limit, "limit", 20, "Jobs per page (max 100)")
	return cmd
}

func NewDeleteCommand(opts *app.Options) *cobra.Command {
	var domain string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a finished or failed scan and everything it found",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				if err := a.Scans.DeleteJob(cmd.Context(), domain); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", domain)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&domain, "domain", "d", "", "Domain of the scan to delete (required)")
	_ = cmd.MarkFlagRequired("domain")
	return cmd
}

func NewCategoriesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List the vulnerability scan categories",
		Run: func(cmd *cobra.Command, args []string) {
			for _, c := range models.Categories {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
		},
	}
}

// NewConfigCommand prints the effective configuration. Secrets are omitted.
func NewConfigCommand(opts *app.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cfg, _, err := app.LoadConfig(opts)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func withApp(ctx context.Context, opts *app.Options, fn func(*app.App) error) error {
	a, err := app.New(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(a)
}
