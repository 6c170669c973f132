package tools

import (
	"context"
	"sort"
)

// Enumerator wraps subfinder.
type Enumerator struct {
	invoker
}

// Enumerate returns the sorted, de-duplicated candidate names for domain.
// The root domain is always part of the result, even when the tool fails.
func (e *Enumerator) Enumerate(ctx context.Context, domain string) ([]string, error) {
	lines, err := e.invoke(ctx, Subfinder, "-silent", "-d", domain)

	seen := make(map[string]struct{}, len(lines)+1)
	for _, line := range lines {
		seen[line] = struct{}{}
	}
	seen[domain] = struct{}{}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, err
}
