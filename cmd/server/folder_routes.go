package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nick-cummings/personal-assistant/pkg/database"
)

func (api *API) registerFolderRoutes(router *gin.Engine) {
	folders := router.Group("/api/folders")
	{
		folders.GET("", api.listFolders)
		folders.POST("", api.createFolder)
		folders.PATCH("/:id", api.updateFolder)
		folders.DELETE("/:id", api.deleteFolder)
	}
}

func (api *API) listFolders(c *gin.Context) {
	folders, err := api.store.ListFolders(c.Request.Context())
	if err != nil {
		api.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"folders": folders})
}

func (api *API) createFolder(c *gin.Context) {
	var req database.CreateFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	folder, err := api.store.CreateFolder(c.Request.Context(), &req)
	if err != nil {
		api.storeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, folder)
}

func (api *API) updateFolder(c *gin.Context) {
	var req database.UpdateFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	folder, err := api.store.UpdateFolder(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		api.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, folder)
}

// deleteFolder removes the folder; chats inside it survive with their
// folder reference cleared.
func (api *API) deleteFolder(c *gin.Context) {
	if err := api.store.DeleteFolder(c.Request.Context(), c.Param("id")); err != nil {
		api.storeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
