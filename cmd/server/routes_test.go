package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/nick-cummings/personal-assistant/internal/metrics"
	"github.com/nick-cummings/personal-assistant/pkg/connectors"
	"github.com/nick-cummings/personal-assistant/pkg/cryptobox"
	"github.com/nick-cummings/personal-assistant/pkg/database"
	"github.com/nick-cummings/personal-assistant/pkg/logger"
	"github.com/nick-cummings/personal-assistant/pkg/tools"
)

func newTestAPI(t *testing.T) (*API, *gin.Engine) {
	t.Helper()

	store, err := database.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := logger.NewTest()
	credKey := cryptobox.DeriveKey([]byte("test-pass"), []byte("test-salt"))
	registry := tools.NewRegistry()
	manager := connectors.NewManager(store, credKey, registry, log)

	api := &API{
		config: ServerConfig{
			CORSOrigins:   []string{"*"},
			Temperature:   0.2,
			MaxToolRounds: 5,
		},
		store:    store,
		registry: registry,
		manager:  manager,
		metrics:  metrics.New(),
		logger:   log,
		auth:     newOAuthStateStore(),
		oauth:    map[string]*oauthProvider{},
		credKey:  credKey,
	}
	return api, api.buildRouter()
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), "body: %s", w.Body.String())
}

func TestChatLifecycle(t *testing.T) {
	_, router := newTestAPI(t)

	// Create
	w := doJSON(t, router, http.MethodPost, "/api/chats", map[string]string{"title": "Trip planning"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var chat database.Chat
	decode(t, w, &chat)
	assert.NotEmpty(t, chat.ID)
	assert.Equal(t, "Trip planning", chat.Title)

	// List
	w = doJSON(t, router, http.MethodGet, "/api/chats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Chats []database.ChatSummary `json:"chats"`
	}
	decode(t, w, &list)
	require.Len(t, list.Chats, 1)

	// Rename
	w = doJSON(t, router, http.MethodPatch, "/api/chats/"+chat.ID, map[string]string{"title": "Portugal trip"})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &chat)
	assert.Equal(t, "Portugal trip", chat.Title)

	// Get with messages
	w = doJSON(t, router, http.MethodGet, "/api/chats/"+chat.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Chat     database.Chat      `json:"chat"`
		Messages []database.Message `json:"messages"`
	}
	decode(t, w, &detail)
	assert.Equal(t, "Portugal trip", detail.Chat.Title)
	assert.Empty(t, detail.Messages)

	// Delete, then 404
	w = doJSON(t, router, http.MethodDelete, "/api/chats/"+chat.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doJSON(t, router, http.MethodGet, "/api/chats/"+chat.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatNotFound(t *testing.T) {
	_, router := newTestAPI(t)
	w := doJSON(t, router, http.MethodGet, "/api/chats/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]string
	decode(t, w, &body)
	assert.Contains(t, body["error"], "not found")
}

func TestUpdateChatEmptyPatch(t *testing.T) {
	_, router := newTestAPI(t)
	w := doJSON(t, router, http.MethodPatch, "/api/chats/some-id", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFolderLifecycle(t *testing.T) {
	_, router := newTestAPI(t)

	w := doJSON(t, router, http.MethodPost, "/api/folders", map[string]string{"name": "Work"})
	require.Equal(t, http.StatusCreated, w.Code)
	var folder database.Folder
	decode(t, w, &folder)

	// Put a chat in the folder.
	w = doJSON(t, router, http.MethodPost, "/api/chats", map[string]any{"title": "Standup notes", "folder_id": folder.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	var chat database.Chat
	decode(t, w, &chat)
	require.NotNil(t, chat.FolderID)
	assert.Equal(t, folder.ID, *chat.FolderID)

	// Rename the folder.
	w = doJSON(t, router, http.MethodPatch, "/api/folders/"+folder.ID, map[string]string{"name": "Work 2025"})
	require.Equal(t, http.StatusOK, w.Code)

	// Delete the folder: the chat survives, folderless.
	w = doJSON(t, router, http.MethodDelete, "/api/folders/"+folder.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/chats/"+chat.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Chat database.Chat `json:"chat"`
	}
	decode(t, w, &detail)
	assert.Nil(t, detail.Chat.FolderID)
}

func TestFolderNameRequired(t *testing.T) {
	_, router := newTestAPI(t)
	w := doJSON(t, router, http.MethodPost, "/api/folders", map[string]string{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConnectorLifecycle(t *testing.T) {
	_, router := newTestAPI(t)

	// Unknown type rejected.
	w := doJSON(t, router, http.MethodPost, "/api/connectors", map[string]string{"type": "gopher"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Calculator needs no credentials and activates on create.
	w = doJSON(t, router, http.MethodPost, "/api/connectors", map[string]string{"type": "calculator"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodGet, "/api/connectors", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Connectors []connectorView `json:"connectors"`
		Types      []string        `json:"types"`
	}
	decode(t, w, &list)
	require.Len(t, list.Connectors, 1)
	assert.Equal(t, "calculator", list.Connectors[0].Type)
	require.NotNil(t, list.Connectors[0].Healthy)
	assert.True(t, *list.Connectors[0].Healthy)
	assert.Contains(t, list.Types, "aws")

	// Registering the same type twice is a client error.
	w = doJSON(t, router, http.MethodPost, "/api/connectors", map[string]string{"type": "calculator"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var dup map[string]string
	decode(t, w, &dup)
	assert.Contains(t, dup["error"], "already exists")

	// Disable deactivates its tools.
	w = doJSON(t, router, http.MethodPatch, "/api/connectors/calculator", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code)

	// Delete.
	w = doJSON(t, router, http.MethodDelete, "/api/connectors/calculator", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doJSON(t, router, http.MethodGet, "/api/connectors/calculator", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetConnectorCredentials(t *testing.T) {
	api, router := newTestAPI(t)

	w := doJSON(t, router, http.MethodPost, "/api/connectors", map[string]string{"type": "confluence"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPut, "/api/connectors/confluence/credentials", map[string]string{
		"base_url":  "https://example.atlassian.net/wiki",
		"email":     "dev@example.com",
		"api_token": "secret-token",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Stored encrypted, decryptable with the server key.
	row, err := api.store.GetConnector(t.Context(), "confluence")
	require.NoError(t, err)
	require.True(t, row.Configured())

	var creds map[string]string
	require.NoError(t, cryptobox.Decrypt(row.CredentialsCiphertext, row.CredentialsNonce, api.credKey, &creds))
	assert.Equal(t, "secret-token", creds["api_token"])

	// And the connector activated.
	assert.Contains(t, api.registry.Names(), "confluence_search")
}

func TestSettingsRoutes(t *testing.T) {
	_, router := newTestAPI(t)

	w := doJSON(t, router, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var settings database.Settings
	decode(t, w, &settings)
	assert.Equal(t, "openai", settings.Provider)

	w = doJSON(t, router, http.MethodPut, "/api/settings", map[string]any{
		"provider":    "anthropic",
		"temperature": 0.7,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &settings)
	assert.Equal(t, "anthropic", settings.Provider)
	assert.Equal(t, 0.7, settings.Temperature)

	// Invalid provider rejected.
	w = doJSON(t, router, http.MethodPut, "/api/settings", map[string]any{"provider": "skynet"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Out-of-range values rejected.
	w = doJSON(t, router, http.MethodPut, "/api/settings", map[string]any{"temperature": 9.0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(t, router, http.MethodPut, "/api/settings", map[string]any{"max_tool_rounds": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserContextRoutes(t *testing.T) {
	_, router := newTestAPI(t)

	w := doJSON(t, router, http.MethodPut, "/api/context", map[string]string{
		"content": "Prefers metric units. Lives in Lisbon.",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/context", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var userContext database.UserContext
	decode(t, w, &userContext)
	assert.Contains(t, userContext.Content, "Lisbon")
}

func TestHealthEndpoint(t *testing.T) {
	_, router := newTestAPI(t)

	w := doJSON(t, router, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestCORSPreflights(t *testing.T) {
	_, router := newTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/chats", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Assistant-Message-Id")
}

// scriptedModel fakes the LLM for streaming tests: one content response per
// GenerateContent call, streamed through the caller's streaming func.
type scriptedModel struct {
	responses []string
	calls     int
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	content := m.responses[m.calls%len(m.responses)]
	m.calls++

	if opts.StreamingFunc != nil {
		if err := opts.StreamingFunc(ctx, []byte(content)); err != nil {
			return nil, err
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := m.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func TestStreamChat(t *testing.T) {
	api, router := newTestAPI(t)
	model := &scriptedModel{responses: []string{"Lisbon is lovely in June."}}
	api.newModel = func(*database.Settings) (llms.Model, error) { return model, nil }

	w := doJSON(t, router, http.MethodPost, "/api/chats", map[string]string{})
	require.Equal(t, http.StatusCreated, w.Code)
	var chat database.Chat
	decode(t, w, &chat)

	w = doJSON(t, router, http.MethodPost, "/api/chat", map[string]string{
		"chat_id": chat.ID,
		"message": "How is Lisbon in June?",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	userMsgID := w.Header().Get("X-User-Message-Id")
	assistantMsgID := w.Header().Get("X-Assistant-Message-Id")
	assert.NotEmpty(t, userMsgID)
	assert.NotEmpty(t, assistantMsgID)

	// NDJSON events: at least one text-delta and a finish.
	var types []string
	var text string
	for _, line := range bytes.Split(bytes.TrimSpace(w.Body.Bytes()), []byte("\n")) {
		var event struct {
			Type      string `json:"type"`
			TextDelta string `json:"text_delta"`
		}
		require.NoError(t, json.Unmarshal(line, &event), "line: %s", line)
		types = append(types, event.Type)
		text += event.TextDelta
	}
	assert.Contains(t, types, "text-delta")
	assert.Equal(t, "finish", types[len(types)-1])
	assert.Contains(t, text, "Lisbon is lovely")

	// Both messages persisted with the announced IDs.
	messages, err := api.store.ListMessages(t.Context(), chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, userMsgID, messages[0].ID)
	assert.Equal(t, database.RoleUser, messages[0].Role)
	assert.Equal(t, assistantMsgID, messages[1].ID)
	assert.Equal(t, "Lisbon is lovely in June.", messages[1].Content)

	// Untitled chat got a generated title.
	updated, err := api.store.GetChat(t.Context(), chat.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, updated.Title)
}

func TestStreamChatValidation(t *testing.T) {
	_, router := newTestAPI(t)

	w := doJSON(t, router, http.MethodPost, "/api/chat", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/chat", map[string]string{"chat_id": "missing", "message": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOAuthFlow(t *testing.T) {
	api, router := newTestAPI(t)

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "graph-token",
			"refresh_token": "graph-refresh",
			"expires_in":    3600,
		})
	}))
	defer tokenSrv.Close()

	api.oauth["outlook"] = &oauthProvider{
		clientID:     "client-1",
		clientSecret: "secret",
		authorizeURL: "https://login.example.com/authorize",
		tokenURL:     tokenSrv.URL,
		scopes:       "Mail.Read",
	}

	// The connector row must exist for the callback to store credentials.
	w := doJSON(t, router, http.MethodPost, "/api/connectors", map[string]string{"type": "outlook"})
	require.Equal(t, http.StatusCreated, w.Code)

	// Begin: redirect carries client_id and state.
	w = doJSON(t, router, http.MethodGet, "/api/auth/outlook", nil)
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := w.Result().Location()
	require.NoError(t, err)
	assert.Equal(t, "client-1", loc.Query().Get("client_id"))
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	// Callback: code exchanged, credentials stored encrypted.
	w = doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/api/auth/outlook/callback?code=the-code&state=%s", state), nil)
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())

	row, err := api.store.GetConnector(t.Context(), "outlook")
	require.NoError(t, err)
	assert.True(t, row.Configured())

	// State is single use.
	w = doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/api/auth/outlook/callback?code=the-code&state=%s", state), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOAuthUnknownProvider(t *testing.T) {
	_, router := newTestAPI(t)
	w := doJSON(t, router, http.MethodGet, "/api/auth/minitel", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
