package services

import (
	"sort"

	"reconflow/pkg/tools"
)

type ConfigServiceMethods interface {
	ToolSettings() tools.Settings
	ToolConfigs() []tools.ToolConfig
}

type configService struct {
	registry *tools.Registry
}

func NewConfigService(registry *tools.Registry) ConfigServiceMethods {
	return &configService{registry: registry}
}

// ToolSettings returns the settings the next tool run will use.
func (c *configService) ToolSettings() tools.Settings {
	return c.registry.Settings()
}

// ToolConfigs lists every tool sorted by name.
func (c *configService) ToolConfigs() []tools.ToolConfig {
	settings := c.registry.Settings()
	out := make([]tools.ToolConfig, 0, len(settings.Tools))
	for _, tc := range settings.Tools {
		out = append(out, tc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
