package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nick-cummings/personal-assistant/internal/llm"
	"github.com/nick-cummings/personal-assistant/pkg/database"
)

func (api *API) registerSettingsRoutes(router *gin.Engine) {
	router.GET("/api/settings", api.getSettings)
	router.PUT("/api/settings", api.updateSettings)
	router.GET("/api/context", api.getUserContext)
	router.PUT("/api/context", api.putUserContext)
}

func (api *API) getSettings(c *gin.Context) {
	settings, err := api.store.GetSettings(c.Request.Context())
	if err != nil {
		api.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (api *API) updateSettings(c *gin.Context) {
	var req database.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Provider != nil {
		if _, err := llm.ValidateProvider(*req.Provider); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "temperature must be between 0 and 2"})
		return
	}
	if req.MaxToolRounds != nil && (*req.MaxToolRounds < 1 || *req.MaxToolRounds > 50) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_tool_rounds must be between 1 and 50"})
		return
	}

	settings, err := api.store.UpdateSettings(c.Request.Context(), &req)
	if err != nil {
		api.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (api *API) getUserContext(c *gin.Context) {
	userContext, err := api.store.GetUserContext(c.Request.Context())
	if err != nil {
		api.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userContext)
}

func (api *API) putUserContext(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userContext, err := api.store.PutUserContext(c.Request.Context(), req.Content)
	if err != nil {
		api.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userContext)
}
