package tools

import (
	"context"

	"reconflow/pkg/runner"
)

// invoker runs a named tool with the settings currently in the registry.
type invoker struct {
	runner   runner.CommandRunner
	registry *Registry
}

func (i invoker) invoke(ctx context.Context, name string, args ...string) ([]string, error) {
	tc := i.registry.GetToolConfig(name)
	if tc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tc.Timeout)
		defer cancel()
	}
	return i.runner.Run(ctx, tc.Command(), tc.BuildArgs(args...))
}

// Toolbox bundles the four scanners. NewToolbox backs them with a single
// runner and registry; tests may swap any of them.
type Toolbox struct {
	Enumerator SubdomainEnumerator
	Probe      LivenessProbe
	Ports      PortScanner
	Vulns      VulnerabilityScanner
}

func NewToolbox(r runner.CommandRunner, registry *Registry) *Toolbox {
	inv := invoker{runner: r, registry: registry}
	return &Toolbox{
		Enumerator: &Enumerator{invoker: inv},
		Probe:      &HTTPProbe{invoker: inv},
		Ports:      &PortScan{invoker: inv},
		Vulns:      &TemplateScan{invoker: inv},
	}
}
