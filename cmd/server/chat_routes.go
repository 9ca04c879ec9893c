package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nick-cummings/personal-assistant/pkg/database"
)

func (api *API) registerChatRoutes(router *gin.Engine) {
	chats := router.Group("/api/chats")
	{
		chats.GET("", api.listChats)
		chats.POST("", api.createChat)
		chats.GET("/:id", api.getChat)
		chats.PATCH("/:id", api.updateChat)
		chats.DELETE("/:id", api.deleteChat)
	}
}

// storeError maps database errors to a JSON response: missing rows become
// 404, everything else 500.
func (api *API) storeError(c *gin.Context, err error) {
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if errors.Is(err, database.ErrConflict) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	api.logger.WithError(err).Errorf("%s %s failed", c.Request.Method, c.FullPath())
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (api *API) listChats(c *gin.Context) {
	chats, err := api.store.ListChats(c.Request.Context())
	if err != nil {
		api.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (api *API) createChat(c *gin.Context) {
	var req database.CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chat, err := api.store.CreateChat(c.Request.Context(), &req)
	if err != nil {
		api.storeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

func (api *API) getChat(c *gin.Context) {
	id := c.Param("id")

	chat, err := api.store.GetChat(c.Request.Context(), id)
	if err != nil {
		api.storeError(c, err)
		return
	}
	messages, err := api.store.ListMessages(c.Request.Context(), id)
	if err != nil {
		api.storeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"chat": chat, "messages": messages})
}

func (api *API) updateChat(c *gin.Context) {
	var req database.UpdateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Title == nil && req.FolderID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	chat, err := api.store.UpdateChat(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		api.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (api *API) deleteChat(c *gin.Context) {
	if err := api.store.DeleteChat(c.Request.Context(), c.Param("id")); err != nil {
		api.storeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
