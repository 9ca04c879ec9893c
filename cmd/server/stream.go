package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/nick-cummings/personal-assistant/internal/llm"
	"github.com/nick-cummings/personal-assistant/pkg/database"
	"github.com/nick-cummings/personal-assistant/pkg/engine"
)

func (api *API) registerStreamRoutes(router *gin.Engine) {
	router.POST("/api/chat", api.streamChat)
}

// chatRequest is the stream request body. The UI sends camelCase chatId;
// chat_id is accepted too for consistency with the rest of the API.
type chatRequest struct {
	ChatID      string `json:"chatId"`
	ChatIDSnake string `json:"chat_id"`
	Message     string `json:"message"`
}

// streamChat runs one conversation turn and streams it back as
// newline-delimited JSON events. The user and assistant message IDs ride
// in response headers so the client can reference them immediately.
func (api *API) streamChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ChatID == "" {
		req.ChatID = req.ChatIDSnake
	}
	if req.ChatID == "" || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chatId and message are required"})
		return
	}

	ctx := c.Request.Context()

	chat, err := api.store.GetChat(ctx, req.ChatID)
	if err != nil {
		api.storeError(c, err)
		return
	}
	settings, err := api.store.GetSettings(ctx)
	if err != nil {
		api.storeError(c, err)
		return
	}
	userContext, err := api.store.GetUserContext(ctx)
	if err != nil {
		api.storeError(c, err)
		return
	}

	model, err := api.model(settings)
	if err != nil {
		api.logger.WithError(err).Error("LLM init failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	history, err := api.store.ListMessages(ctx, req.ChatID)
	if err != nil {
		api.storeError(c, err)
		return
	}

	userMsg, err := api.store.AppendMessage(ctx, &database.AppendMessageRequest{
		ChatID:  req.ChatID,
		Role:    database.RoleUser,
		Content: req.Message,
	})
	if err != nil {
		api.storeError(c, err)
		return
	}

	assistantMsgID := uuid.NewString()
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-User-Message-Id", userMsg.ID)
	c.Header("X-Assistant-Message-Id", assistantMsgID)
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	streamDone := api.metrics.StreamStarted()
	defer streamDone()

	encoder := json.NewEncoder(c.Writer)
	emit := func(event engine.StreamEvent) error {
		if event.Type == engine.EventToolCall {
			api.metrics.ToolCallsTotal.WithLabelValues(event.ToolName).Inc()
		}
		if err := encoder.Encode(event); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	}

	messages := engine.BuildHistory(settings.SystemPrompt, userContext.Content, history)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Message))

	eng := &engine.Engine{
		Model:         model,
		Registry:      api.registry,
		Temperature:   settings.Temperature,
		MaxToolRounds: settings.MaxToolRounds,
		Logger:        api.logger,
	}

	result, err := eng.Run(ctx, messages, emit)
	if err != nil {
		// The client may already be gone; emit best-effort and stop.
		api.logger.WithError(err).Error("chat stream failed")
		emit(engine.StreamEvent{Type: engine.EventError, Error: err.Error()})
		return
	}

	var toolCalls json.RawMessage
	if len(result.ToolCalls) > 0 {
		toolCalls, _ = json.Marshal(result.ToolCalls)
	}

	// Persist with a detached context: the turn completed even if the
	// client disconnected mid-write.
	saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancelSave()

	if _, err := api.store.AppendMessage(saveCtx, &database.AppendMessageRequest{
		ID:        assistantMsgID,
		ChatID:    req.ChatID,
		Role:      database.RoleAssistant,
		Content:   result.Content,
		ToolCalls: toolCalls,
	}); err != nil {
		api.logger.WithError(err).Error("persisting assistant message")
		emit(engine.StreamEvent{Type: engine.EventError, Error: "saving reply failed"})
		return
	}

	if chat.Title == "" {
		title := engine.GenerateTitle(saveCtx, model, req.Message)
		if _, err := api.store.UpdateChat(saveCtx, req.ChatID, &database.UpdateChatRequest{Title: &title}); err != nil {
			api.logger.WithError(err).Warn("saving generated title")
		}
	}

	emit(engine.StreamEvent{Type: engine.EventFinish, FinishReason: "stop"})
}

// model returns the LLM client for a turn, honoring a test override.
func (api *API) model(settings *database.Settings) (llms.Model, error) {
	if api.newModel != nil {
		return api.newModel(settings)
	}
	return api.buildModel(settings)
}

// buildModel initializes the LLM client for the stored settings. A fresh
// client per turn keeps settings changes immediate.
func (api *API) buildModel(settings *database.Settings) (llms.Model, error) {
	provider, err := llm.ValidateProvider(settings.Provider)
	if err != nil {
		if api.config.Provider == "" {
			return nil, err
		}
		provider, err = llm.ValidateProvider(api.config.Provider)
		if err != nil {
			return nil, err
		}
	}

	modelID := settings.Model
	if modelID == "" {
		modelID = api.config.ModelID
	}

	return llm.Initialize(llm.Config{
		Provider: provider,
		ModelID:  modelID,
		Logger:   api.logger,
	})
}
