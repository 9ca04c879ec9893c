package database

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a row does not exist. Wrapped errors carry
// the entity and identifier; callers test with errors.Is.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert violates a uniqueness constraint,
// such as registering a connector type twice.
var ErrConflict = errors.New("already exists")

// Store is the persistence interface backing the HTTP API and the chat
// engine. The production implementation is SQLite.
type Store interface {
	// Chats
	CreateChat(ctx context.Context, req *CreateChatRequest) (*Chat, error)
	GetChat(ctx context.Context, id string) (*Chat, error)
	ListChats(ctx context.Context) ([]ChatSummary, error)
	UpdateChat(ctx context.Context, id string, req *UpdateChatRequest) (*Chat, error)
	DeleteChat(ctx context.Context, id string) error

	// Messages
	AppendMessage(ctx context.Context, req *AppendMessageRequest) (*Message, error)
	ListMessages(ctx context.Context, chatID string) ([]Message, error)

	// Folders
	CreateFolder(ctx context.Context, req *CreateFolderRequest) (*Folder, error)
	ListFolders(ctx context.Context) ([]Folder, error)
	UpdateFolder(ctx context.Context, id string, req *UpdateFolderRequest) (*Folder, error)
	DeleteFolder(ctx context.Context, id string) error

	// Connectors
	CreateConnector(ctx context.Context, req *CreateConnectorRequest) (*Connector, error)
	GetConnector(ctx context.Context, connectorType string) (*Connector, error)
	ListConnectors(ctx context.Context) ([]Connector, error)
	UpdateConnector(ctx context.Context, connectorType string, req *UpdateConnectorRequest) (*Connector, error)
	SetConnectorCredentials(ctx context.Context, connectorType string, ciphertext, nonce []byte) error
	DeleteConnector(ctx context.Context, connectorType string) error

	// Singletons
	GetSettings(ctx context.Context) (*Settings, error)
	UpdateSettings(ctx context.Context, req *UpdateSettingsRequest) (*Settings, error)
	GetUserContext(ctx context.Context) (*UserContext, error)
	PutUserContext(ctx context.Context, content string) (*UserContext, error)

	Ping(ctx context.Context) error
	Close() error
}
