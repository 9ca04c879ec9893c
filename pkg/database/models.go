package database

import (
	"encoding/json"
	"time"
)

// Message role constants
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Chat represents a persisted conversation.
type Chat struct {
	ID        string    `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	FolderID  *string   `json:"folder_id" db:"folder_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ChatSummary is the list view of a chat: the chat row plus message count
// and the timestamp of the most recent message.
type ChatSummary struct {
	Chat
	MessageCount int        `json:"message_count" db:"message_count"`
	LastActivity *time.Time `json:"last_activity" db:"last_activity"`
}

// Folder groups chats in the sidebar.
type Folder struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Message is one ordered entry of a chat. ToolCalls holds the JSON record of
// tool invocations made while producing an assistant message.
type Message struct {
	ID        string          `json:"id" db:"id"`
	ChatID    string          `json:"chat_id" db:"chat_id"`
	Role      string          `json:"role" db:"role"`
	Content   string          `json:"content" db:"content"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty" db:"tool_calls"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Connector is a configured integration with an external service. Credentials
// are stored AES-GCM encrypted; the plaintext never touches the database.
type Connector struct {
	ID                    string          `json:"id" db:"id"`
	Type                  string          `json:"type" db:"type"`
	Name                  string          `json:"name" db:"name"`
	CredentialsCiphertext []byte          `json:"-" db:"credentials_ciphertext"`
	CredentialsNonce      []byte          `json:"-" db:"credentials_nonce"`
	Settings              json.RawMessage `json:"settings" db:"settings"`
	Enabled               bool            `json:"enabled" db:"enabled"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at" db:"updated_at"`
}

// Configured reports whether credentials have been stored for the connector.
func (c *Connector) Configured() bool {
	return len(c.CredentialsCiphertext) > 0
}

// Settings is the singleton row holding the assistant configuration.
type Settings struct {
	Provider      string  `json:"provider" db:"provider"`
	Model         string  `json:"model" db:"model"`
	Temperature   float64 `json:"temperature" db:"temperature"`
	MaxToolRounds int     `json:"max_tool_rounds" db:"max_tool_rounds"`
	SystemPrompt  string  `json:"system_prompt" db:"system_prompt"`
}

// UserContext is the singleton free-form profile text prepended to the
// system prompt of every conversation.
type UserContext struct {
	Content   string    `json:"content" db:"content"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CreateChatRequest creates a new chat.
type CreateChatRequest struct {
	Title    string  `json:"title,omitempty"`
	FolderID *string `json:"folder_id,omitempty"`
}

// UpdateChatRequest patches a chat. Nil fields are left unchanged; setting
// FolderID to an empty string clears the folder reference.
type UpdateChatRequest struct {
	Title    *string `json:"title,omitempty"`
	FolderID *string `json:"folder_id,omitempty"`
}

// AppendMessageRequest appends a message to a chat. ID is optional; the
// streaming endpoint supplies one so it can announce the message ID before
// the row exists.
type AppendMessageRequest struct {
	ID        string          `json:"id,omitempty"`
	ChatID    string          `json:"chat_id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
}

// CreateFolderRequest creates a folder.
type CreateFolderRequest struct {
	Name string `json:"name"`
}

// UpdateFolderRequest renames a folder.
type UpdateFolderRequest struct {
	Name string `json:"name"`
}

// CreateConnectorRequest registers a connector of a given type.
type CreateConnectorRequest struct {
	Type     string          `json:"type"`
	Name     string          `json:"name,omitempty"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

// UpdateConnectorRequest patches a connector row.
type UpdateConnectorRequest struct {
	Name     *string         `json:"name,omitempty"`
	Settings json.RawMessage `json:"settings,omitempty"`
	Enabled  *bool           `json:"enabled,omitempty"`
}

// UpdateSettingsRequest patches the settings singleton. Nil fields keep
// their stored values.
type UpdateSettingsRequest struct {
	Provider      *string  `json:"provider,omitempty"`
	Model         *string  `json:"model,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	MaxToolRounds *int     `json:"max_tool_rounds,omitempty"`
	SystemPrompt  *string  `json:"system_prompt,omitempty"`
}
