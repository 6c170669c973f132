package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// HTTPProbe wraps httpx. Candidates are handed over through a temporary
// list file that is removed after the run.
type HTTPProbe struct {
	invoker
}

// Probe returns the subset of hosts that httpx reported as reachable.
func (p *HTTPProbe) Probe(ctx context.Context, hosts []string) (map[string]struct{}, error) {
	alive := make(map[string]struct{})
	if len(hosts) == 0 {
		return alive, nil
	}

	listFile, err := writeHostList(hosts)
	if err != nil {
		return alive, err
	}
	defer os.Remove(listFile)

	lines, err := p.invoke(ctx, Httpx, "-silent", "-l", listFile)

	candidates := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		candidates[h] = struct{}{}
	}
	for _, line := range lines {
		host, ok := HostFromURL(line)
		if !ok {
			continue
		}
		if _, known := candidates[host]; known {
			alive[host] = struct{}{}
		}
	}

	return alive, err
}

// HostFromURL extracts the host segment of "scheme://host[/path]". Lines
// without a scheme separator are rejected.
func HostFromURL(line string) (string, bool) {
	_, rest, found := strings.Cut(line, "://")
	if !found {
		return "", false
	}
	host, _, _ := strings.Cut(rest, "/")
	return host, true
}

func writeHostList(hosts []string) (string, error) {
	f, err := os.CreateTemp("", "reconflow-httpx-*.txt")
	if err != nil {
		return "", fmt.Errorf("create host list: %w", err)
	}

	_, werr := f.WriteString(strings.Join(hosts, "\n"))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(f.Name())
		if werr == nil {
			werr = cerr
		}
		return "", fmt.Errorf("write host list: %w", werr)
	}
	return f.Name(), nil
}
