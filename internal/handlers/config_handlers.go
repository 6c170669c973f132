package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"reconflow/internal/services"
)

type ConfigHandler struct {
	configService services.ConfigServiceMethods
}

func NewConfigHandler(configService services.ConfigServiceMethods) *ConfigHandler {
	return &ConfigHandler{configService: configService}
}

// GetTools returns the tool settings in effect, including reloaded ones.
func (h *ConfigHandler) GetTools(c *gin.Context) {
	settings := h.configService.ToolSettings()

	resp := ConfigsResponse{TemplatesDir: settings.TemplatesDir}
	for _, tc := range h.configService.ToolConfigs() {
		resp.Tools = append(resp.Tools, ToolResponse{
			Name:    tc.Name,
			Path:    tc.Command(),
			Args:    tc.Args,
			Timeout: tc.Timeout.String(),
		})
	}
	c.JSON(http.StatusOK, resp)
}
