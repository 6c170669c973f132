package tools

import (
	"context"
	"errors"
	"path/filepath"
)

// TemplateScan wraps nuclei, running one invocation per category.
type TemplateScan struct {
	invoker
}

// Scan runs each category in order and tags every output line with it.
// A failing category does not stop the others; its error is joined into
// the returned error.
func (s *TemplateScan) Scan(ctx context.Context, host string, categories []string) ([]Finding, error) {
	var (
		findings []Finding
		errs     []error
	)

	for _, category := range categories {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		lines, err := s.invoke(ctx, Nuclei, "-u", host, "-t", s.template(category), "-silent")
		if err != nil {
			errs = append(errs, err)
		}
		for _, line := range lines {
			findings = append(findings, Finding{Category: category, Raw: line})
		}
	}

	return findings, errors.Join(errs...)
}

func (s *TemplateScan) template(category string) string {
	if dir := s.registry.TemplatesDir(); dir != "" {
		return filepath.Join(dir, category)
	}
	return category
}
