package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	apperrors "reconflow/pkg/errors"
	"reconflow/pkg/logger"
	"reconflow/pkg/metrics"
)

const defaultWaitDelay = 5 * time.Second

// ExecRunner runs tools with os/exec. Only standard output is captured;
// standard error is discarded.
type ExecRunner struct {
	policy  FailurePolicy
	timeout time.Duration
	logger  *logger.Logger
	metrics *metrics.Metrics
}

type Option func(*ExecRunner)

// WithPolicy sets the failure policy. The default is PolicyEmpty.
func WithPolicy(p FailurePolicy) Option {
	return func(r *ExecRunner) {
		r.policy = p
	}
}

// WithDefaultTimeout bounds invocations whose context carries no deadline.
// Zero disables the default.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *ExecRunner) {
		r.timeout = d
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(r *ExecRunner) {
		r.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *ExecRunner) {
		r.metrics = m
	}
}

func NewExecRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{
		policy: PolicyEmpty,
		logger: logger.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes command and returns its output lines. How failures are
// reported depends on the runner's policy.
func (r *ExecRunner) Run(ctx context.Context, command string, args []string) ([]string, error) {
	tool := filepath.Base(command)
	if strings.TrimSpace(command) == "" {
		return r.fail(tool, metrics.OutcomeFailed, 0, fmt.Errorf("command is empty"))
	}

	if _, ok := ctx.Deadline(); !ok && r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	finalCommand, finalArgs := r.resolveInterpreter(command, args)

	r.logger.WithTool(ctx, tool, finalCommand).WithField("args", finalArgs).Debug("Executing command")

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, finalCommand, finalArgs...)
	cmd.Stdout = &stdout
	cmd.Stderr = io.Discard
	cmd.WaitDelay = defaultWaitDelay

	start := time.Now()
	err := cmd.Run()
	took := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return r.fail(tool, metrics.OutcomeTimeout, took,
				fmt.Errorf("%w after %s", apperrors.ErrToolTimeout, took.Round(time.Millisecond)))
		}
		if ctx.Err() != nil {
			return r.fail(tool, metrics.OutcomeFailed, took, ctx.Err())
		}
		return r.fail(tool, metrics.OutcomeFailed, took, fmt.Errorf("%w: %v", apperrors.ErrToolExecutionFailed, err))
	}

	lines := SplitLines(stdout.Bytes())
	r.metrics.ObserveTool(tool, metrics.OutcomeOK, took, len(lines))
	r.logger.WithTool(ctx, tool, finalCommand).WithFields(map[string]interface{}{
		"lines":    len(lines),
		"duration": took.String(),
	}).Debug("Command finished")

	return lines, nil
}

func (r *ExecRunner) fail(tool, outcome string, took time.Duration, err error) ([]string, error) {
	r.metrics.ObserveTool(tool, outcome, took, 0)

	entry := r.logger.WithFields(logger.Fields{
		"tool":    tool,
		"outcome": outcome,
		"policy":  string(r.policy),
	}).WithError(err)

	if outcome == metrics.OutcomeTimeout {
		entry.Warn("Tool timed out")
	} else {
		entry.Warn("Tool failed")
	}

	if r.policy == PolicySurface {
		return nil, apperrors.NewToolError(tool, err)
	}
	return nil, nil
}

// resolveInterpreter determines the appropriate interpreter for script files
// based on file extension and returns the command and arguments to execute
func (r *ExecRunner) resolveInterpreter(command string, args []string) (string, []string) {
	switch filepath.Ext(command) {
	case ".py":
		return "python3", append([]string{command}, args...)
	case ".rb":
		return "ruby", append([]string{command}, args...)
	case ".sh":
		if runtime.GOOS == "windows" {
			return "bash", append([]string{command}, args...)
		}
		return "sh", append([]string{command}, args...)
	case ".ps1":
		return "powershell", append([]string{"-File", command}, args...)
	}

	return command, args
}
