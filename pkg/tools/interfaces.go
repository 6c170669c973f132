package tools

import "context"

// SubdomainEnumerator discovers candidate subdomains of a domain.
type SubdomainEnumerator interface {
	Enumerate(ctx context.Context, domain string) ([]string, error)
}

// LivenessProbe reports which of the given hosts answer over HTTP/HTTPS.
type LivenessProbe interface {
	Probe(ctx context.Context, hosts []string) (map[string]struct{}, error)
}

// PortScanner lists the open ports of one host.
type PortScanner interface {
	Scan(ctx context.Context, host string) ([]string, error)
}

// VulnerabilityScanner runs category-scoped template checks against a host.
type VulnerabilityScanner interface {
	Scan(ctx context.Context, host string, categories []string) ([]Finding, error)
}

// Finding is one raw scanner line tagged with the category that produced it.
type Finding struct {
	Category string
	Raw      string
}
