package tools

import "context"

// PortScan wraps naabu. Output lines are kept verbatim.
type PortScan struct {
	invoker
}

func (p *PortScan) Scan(ctx context.Context, host string) ([]string, error) {
	return p.invoke(ctx, Naabu, "-host", host, "-silent")
}
