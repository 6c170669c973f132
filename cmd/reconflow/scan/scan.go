package scan

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"reconflow/cmd/reconflow/app"
	"reconflow/internal/models"
)

// Config holds the scan command flags.
type Config struct {
	Domain    string
	Vuln      []string
	AliveOnly bool
}

func NewScanCommand(opts *app.Options) *cobra.Command {
	cfg := &Config{}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the recon pipeline for a domain and wait for it",
		Long: `Run enumeration, HTTP probing and port scanning for a domain in this process.
With --vuln, every HTTP alive subdomain is then scanned for the given categories.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runScan(cmd.Context(), cmd.OutOrStdout(), opts, cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.Domain, "domain", "d", "", "Target domain for scanning (required)")
	cmd.Flags().StringSliceVar(&cfg.Vuln, "vuln", nil, "Vulnerability categories to scan alive subdomains for")
	cmd.Flags().BoolVar(&cfg.AliveOnly, "alive-only", false, "Only print HTTP alive subdomains")
	_ = cmd.MarkFlagRequired("domain")

	return cmd
}

func runScan(ctx context.Context, out io.Writer, opts *app.Options, cfg *Config) (err error) {
	a, err := app.New(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { err = closeApp(ctx, a, err) }()

	job, err := a.Scans.StartScan(ctx, cfg.Domain)
	if err != nil {
		return err
	}
	a.Logger.WithField("job_id", job.ID).Info("Scan started")

	if err := a.Scheduler.Wait(ctx); err != nil {
		return err
	}

	job, err = a.Scans.GetJob(ctx, job.Domain)
	if err != nil {
		return err
	}
	if job.Status == models.StatusFailed {
		return fmt.Errorf("scan failed (%s): %s", job.ErrorKind, job.ErrorMessage)
	}

	if len(cfg.Vuln) > 0 {
		alive, err := a.Scans.ListSubdomains(ctx, job.Domain, true)
		if err != nil {
			return err
		}
		for _, s := range alive {
			if err := a.Scans.TriggerVulnerabilityScan(ctx, s.ID, cfg.Vuln); err != nil {
				return err
			}
		}
		if err := a.Scheduler.Wait(ctx); err != nil {
			return err
		}
	}

	subdomains, err := a.Scans.ListSubdomains(ctx, job.Domain, cfg.AliveOnly)
	if err != nil {
		return err
	}
	return printSubdomains(out, subdomains)
}

// closeApp lets queued work finish, unless ctx was interrupted, in which case
// running tools are cancelled straight away.
func closeApp(ctx context.Context, a *app.App, err error) error {
	stopCtx := context.Background()
	if ctx.Err() != nil {
		cancelled, cancel := context.WithCancel(stopCtx)
		cancel()
		stopCtx = cancelled
	}
	if closeErr := a.Close(stopCtx); closeErr != nil && err == nil {
		return closeErr
	}
	return err
}

func printSubdomains(out io.Writer, subdomains []models.Subdomain) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSUBDOMAIN\tHTTP\tPORTS\tFINDINGS")
	for _, s := range subdomains {
		alive := "-"
		if s.HTTPAlive {
			alive = "alive"
		}
		ports := make([]string, 0, len(s.Ports))
		for _, p := range s.Ports {
			ports = append(ports, p.Port)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", s.ID, s.Name, alive, strings.Join(ports, ","), len(s.Findings))
	}
	return w.Flush()
}
