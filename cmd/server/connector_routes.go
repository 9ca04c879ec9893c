package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nick-cummings/personal-assistant/pkg/connectors"
	"github.com/nick-cummings/personal-assistant/pkg/cryptobox"
	"github.com/nick-cummings/personal-assistant/pkg/database"
)

func (api *API) registerConnectorRoutes(router *gin.Engine) {
	group := router.Group("/api/connectors")
	{
		group.GET("", api.listConnectors)
		group.POST("", api.createConnector)
		group.GET("/:type", api.getConnector)
		group.PATCH("/:type", api.updateConnector)
		group.DELETE("/:type", api.deleteConnector)
		group.PUT("/:type/credentials", api.setConnectorCredentials)
	}
}

// connectorView is the API shape of a connector row: credentials stay
// hidden, a configured flag and live health take their place.
type connectorView struct {
	database.Connector
	Configured bool   `json:"configured"`
	Healthy    *bool  `json:"healthy,omitempty"`
	Health     string `json:"health_error,omitempty"`
}

func (api *API) listConnectors(c *gin.Context) {
	rows, err := api.store.ListConnectors(c.Request.Context())
	if err != nil {
		api.storeError(c, err)
		return
	}

	health := make(map[string]connectors.Status)
	for _, status := range api.manager.Health(c.Request.Context()) {
		health[status.Type] = status
	}

	views := make([]connectorView, 0, len(rows))
	for _, row := range rows {
		view := connectorView{Connector: row, Configured: row.Configured()}
		if status, ok := health[row.Type]; ok {
			healthy := status.Healthy
			view.Healthy = &healthy
			view.Health = status.Error
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"connectors": views, "types": connectors.Types})
}

func (api *API) createConnector(c *gin.Context) {
	var req database.CreateConnectorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !connectors.KnownType(req.Type) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown connector type %q", req.Type)})
		return
	}

	connector, err := api.store.CreateConnector(c.Request.Context(), &req)
	if err != nil {
		api.storeError(c, err)
		return
	}

	if err := api.manager.Reload(c.Request.Context()); err != nil {
		api.logger.WithError(err).Error("connector reload after create")
	}
	c.JSON(http.StatusCreated, connectorView{Connector: *connector, Configured: connector.Configured()})
}

func (api *API) getConnector(c *gin.Context) {
	connector, err := api.store.GetConnector(c.Request.Context(), c.Param("type"))
	if err != nil {
		api.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, connectorView{Connector: *connector, Configured: connector.Configured()})
}

func (api *API) updateConnector(c *gin.Context) {
	var req database.UpdateConnectorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	connectorType := c.Param("type")
	connector, err := api.store.UpdateConnector(c.Request.Context(), connectorType, &req)
	if err != nil {
		api.storeError(c, err)
		return
	}

	if err := api.manager.Rebuild(c.Request.Context(), connectorType); err != nil {
		api.logger.WithError(err).Error("connector rebuild after update")
	}
	c.JSON(http.StatusOK, connectorView{Connector: *connector, Configured: connector.Configured()})
}

func (api *API) deleteConnector(c *gin.Context) {
	connectorType := c.Param("type")
	if err := api.store.DeleteConnector(c.Request.Context(), connectorType); err != nil {
		api.storeError(c, err)
		return
	}
	if err := api.manager.Reload(c.Request.Context()); err != nil {
		api.logger.WithError(err).Error("connector reload after delete")
	}
	c.Status(http.StatusNoContent)
}

// setConnectorCredentials stores a credential blob directly, for services
// that use API keys instead of an OAuth flow. The body is encrypted as-is.
func (api *API) setConnectorCredentials(c *gin.Context) {
	connectorType := c.Param("type")

	var creds map[string]any
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(creds) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "credentials body is empty"})
		return
	}

	ciphertext, nonce, err := cryptobox.Encrypt(creds, api.credKey)
	if err != nil {
		api.logger.WithError(err).Error("encrypting credentials")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encrypting credentials failed"})
		return
	}

	if err := api.store.SetConnectorCredentials(c.Request.Context(), connectorType, ciphertext, nonce); err != nil {
		api.storeError(c, err)
		return
	}

	if err := api.manager.Rebuild(c.Request.Context(), connectorType); err != nil {
		api.logger.WithError(err).Error("connector rebuild after credential update")
	}
	c.JSON(http.StatusOK, gin.H{"configured": true})
}
