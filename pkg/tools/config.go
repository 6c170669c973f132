package tools

import (
	"fmt"
	"strings"
	"time"
)

// Names of the external tools driven by the pipeline.
const (
	Subfinder = "subfinder"
	Httpx     = "httpx"
	Naabu     = "naabu"
	Nuclei    = "nuclei"
)

// ToolConfig describes how one external tool is invoked.
type ToolConfig struct {
	Name string `yaml:"name" mapstructure:"name"`
	// Path is the binary or script to execute. Defaults to Name.
	Path string `yaml:"path" mapstructure:"path"`
	// Args are extra flags placed before the pipeline's own arguments.
	Args    []string      `yaml:"args" mapstructure:"args"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Command returns the executable for this tool.
func (tc ToolConfig) Command() string {
	if strings.TrimSpace(tc.Path) != "" {
		return tc.Path
	}
	return tc.Name
}

// BuildArgs prepends the configured extra flags to the pipeline arguments.
func (tc ToolConfig) BuildArgs(args ...string) []string {
	out := make([]string, 0, len(tc.Args)+len(args))
	out = append(out, tc.Args...)
	return append(out, args...)
}

func (tc ToolConfig) Validate() error {
	if tc.Name == "" {
		return fmt.Errorf("tool name is empty")
	}
	if tc.Timeout < 0 {
		return fmt.Errorf("tool %s: negative timeout %s", tc.Name, tc.Timeout)
	}
	for _, a := range tc.Args {
		if strings.ContainsAny(a, "\n\r") {
			return fmt.Errorf("tool %s: argument %q contains a line break", tc.Name, a)
		}
	}
	return nil
}

// Settings is the full tool configuration used by the scanners.
type Settings struct {
	Tools map[string]ToolConfig `yaml:"tools"`
	// TemplatesDir, when set, is joined with the category name to select
	// the vulnerability templates.
	TemplatesDir string `yaml:"templates_dir"`
}

// DefaultSettings invokes every tool by its plain name from PATH.
func DefaultSettings() Settings {
	s := Settings{Tools: make(map[string]ToolConfig)}
	for _, name := range []string{Subfinder, Httpx, Naabu, Nuclei} {
		s.Tools[name] = ToolConfig{Name: name, Path: name}
	}
	return s
}

func (s Settings) Validate() error {
	for name, tc := range s.Tools {
		if tc.Name != name {
			return fmt.Errorf("tool %q registered under %q", tc.Name, name)
		}
		if err := tc.Validate(); err != nil {
			return err
		}
	}
	return nil
}
