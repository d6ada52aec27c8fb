package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anthorai/ZYRA-AI-sub003/internal/http/response"
	"github.com/anthorai/ZYRA-AI-sub003/internal/services"
)

type SettingsHandler struct {
	settings services.SettingsService
}

func NewSettingsHandler(settings services.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// GET /api/v1/settings
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	storeID, ok := storeScope(c)
	if !ok {
		return
	}
	settings, err := h.settings.Get(c.Request.Context(), storeID)
	if err != nil {
		respondServiceError(c, "get_settings_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"settings": settings})
}

// PUT /api/v1/settings
func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	storeID, ok := storeScope(c)
	if !ok {
		return
	}
	var patch services.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_settings_patch", err)
		return
	}
	settings, err := h.settings.Update(c.Request.Context(), storeID, patch)
	if err != nil {
		respondServiceError(c, "update_settings_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"settings": settings})
}
