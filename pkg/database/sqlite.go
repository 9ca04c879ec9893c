package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the SQLite database at dbPath
// and applies the embedded migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := NewMigrationRunner(db).RunMigrations(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// CreateChat creates a new chat
func (s *SQLiteStore) CreateChat(ctx context.Context, req *CreateChatRequest) (*Chat, error) {
	query := `
		INSERT INTO chats (id, title, folder_id)
		VALUES (?, ?, ?)
		RETURNING id, title, folder_id, created_at, updated_at
	`

	// Empty folder id stores NULL
	var folderID interface{}
	if req.FolderID != nil && *req.FolderID != "" {
		folderID = *req.FolderID
	}

	var chat Chat
	err := s.db.QueryRowContext(ctx, query, uuid.NewString(), req.Title, folderID).Scan(
		&chat.ID, &chat.Title, &chat.FolderID, &chat.CreatedAt, &chat.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}

	return &chat, nil
}

// GetChat retrieves a chat by ID
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	query := `
		SELECT id, title, folder_id, created_at, updated_at
		FROM chats
		WHERE id = ?
	`

	var chat Chat
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&chat.ID, &chat.Title, &chat.FolderID, &chat.CreatedAt, &chat.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("chat %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}

	return &chat, nil
}

// ListChats lists all chats with message counts, most recently active first.
func (s *SQLiteStore) ListChats(ctx context.Context) ([]ChatSummary, error) {
	query := `
		SELECT
			c.id,
			c.title,
			c.folder_id,
			c.created_at,
			c.updated_at,
			COUNT(m.id) AS message_count,
			MAX(m.created_at) AS last_activity
		FROM chats c
		LEFT JOIN messages m ON c.id = m.chat_id
		GROUP BY c.id, c.title, c.folder_id, c.created_at, c.updated_at
		ORDER BY c.updated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	chats := make([]ChatSummary, 0)
	for rows.Next() {
		var chat ChatSummary
		var lastActivityStr sql.NullString
		err := rows.Scan(
			&chat.ID, &chat.Title, &chat.FolderID, &chat.CreatedAt, &chat.UpdatedAt,
			&chat.MessageCount, &lastActivityStr,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}

		// MAX() strips the column's declared type, so the driver hands the
		// timestamp back as a string.
		if lastActivityStr.Valid {
			if lastActivity, err := parseSQLiteTime(lastActivityStr.String); err == nil {
				chat.LastActivity = &lastActivity
			}
		}
		chats = append(chats, chat)
	}

	return chats, rows.Err()
}

// UpdateChat patches a chat's title and/or folder reference.
func (s *SQLiteStore) UpdateChat(ctx context.Context, id string, req *UpdateChatRequest) (*Chat, error) {
	updateFields := []string{}
	args := []interface{}{}

	if req.Title != nil {
		updateFields = append(updateFields, "title = ?")
		args = append(args, *req.Title)
	}

	if req.FolderID != nil {
		updateFields = append(updateFields, "folder_id = ?")
		if *req.FolderID == "" {
			args = append(args, nil) // clear the folder reference
		} else {
			args = append(args, *req.FolderID)
		}
	}

	if len(updateFields) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	updateFields = append(updateFields, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf(`
		UPDATE chats
		SET %s
		WHERE id = ?
		RETURNING id, title, folder_id, created_at, updated_at
	`, strings.Join(updateFields, ", "))

	var chat Chat
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&chat.ID, &chat.Title, &chat.FolderID, &chat.CreatedAt, &chat.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("chat %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update chat: %w", err)
	}

	return &chat, nil
}

// DeleteChat deletes a chat; its messages go with it via ON DELETE CASCADE.
func (s *SQLiteStore) DeleteChat(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}

	return nil
}

// AppendMessage appends a message to a chat and bumps the chat's updated_at.
func (s *SQLiteStore) AppendMessage(ctx context.Context, req *AppendMessageRequest) (*Message, error) {
	switch req.Role {
	case RoleUser, RoleAssistant, RoleTool:
	default:
		return nil, fmt.Errorf("invalid message role: %q", req.Role)
	}

	var toolCalls interface{}
	if len(req.ToolCalls) > 0 {
		toolCalls = string(req.ToolCalls)
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO messages (id, chat_id, role, content, tool_calls)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id, chat_id, role, content, tool_calls, created_at
	`

	var msg Message
	var toolCallsStr sql.NullString
	err = tx.QueryRowContext(ctx, query, id, req.ChatID, req.Role, req.Content, toolCalls).Scan(
		&msg.ID, &msg.ChatID, &msg.Role, &msg.Content, &toolCallsStr, &msg.CreatedAt,
	)
	if err != nil {
		// FK violation means the chat is gone
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return nil, fmt.Errorf("chat %s: %w", req.ChatID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	if toolCallsStr.Valid {
		msg.ToolCalls = json.RawMessage(toolCallsStr.String)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, req.ChatID); err != nil {
		return nil, fmt.Errorf("failed to touch chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}

	return &msg, nil
}

// ListMessages returns a chat's messages in insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	query := `
		SELECT id, chat_id, role, content, tool_calls, created_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var msg Message
		var toolCallsStr sql.NullString
		err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Content, &toolCallsStr, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if toolCallsStr.Valid {
			msg.ToolCalls = json.RawMessage(toolCallsStr.String)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// CreateFolder creates a new folder
func (s *SQLiteStore) CreateFolder(ctx context.Context, req *CreateFolderRequest) (*Folder, error) {
	query := `
		INSERT INTO folders (id, name)
		VALUES (?, ?)
		RETURNING id, name, created_at
	`

	var folder Folder
	err := s.db.QueryRowContext(ctx, query, uuid.NewString(), req.Name).Scan(
		&folder.ID, &folder.Name, &folder.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create folder: %w", err)
	}

	return &folder, nil
}

// ListFolders lists all folders by name.
func (s *SQLiteStore) ListFolders(ctx context.Context) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM folders ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	folders := make([]Folder, 0)
	for rows.Next() {
		var folder Folder
		if err := rows.Scan(&folder.ID, &folder.Name, &folder.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, folder)
	}

	return folders, rows.Err()
}

// UpdateFolder renames a folder
func (s *SQLiteStore) UpdateFolder(ctx context.Context, id string, req *UpdateFolderRequest) (*Folder, error) {
	query := `
		UPDATE folders
		SET name = ?
		WHERE id = ?
		RETURNING id, name, created_at
	`

	var folder Folder
	err := s.db.QueryRowContext(ctx, query, req.Name, id).Scan(
		&folder.ID, &folder.Name, &folder.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("folder %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update folder: %w", err)
	}

	return &folder, nil
}

// DeleteFolder deletes a folder; chats referencing it keep existing with a
// NULL folder_id via ON DELETE SET NULL.
func (s *SQLiteStore) DeleteFolder(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM folders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete folder: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("folder %s: %w", id, ErrNotFound)
	}

	return nil
}

// CreateConnector registers a connector. Type uniqueness is enforced by the
// schema; a duplicate surfaces as ErrConflict.
func (s *SQLiteStore) CreateConnector(ctx context.Context, req *CreateConnectorRequest) (*Connector, error) {
	settingsJSON := "{}"
	if len(req.Settings) > 0 {
		settingsJSON = string(req.Settings)
	}

	query := `
		INSERT INTO connectors (id, type, name, settings)
		VALUES (?, ?, ?, ?)
		RETURNING id, type, name, credentials_ciphertext, credentials_nonce, settings, enabled, created_at, updated_at
	`

	var conn Connector
	var settingsStr string
	err := s.db.QueryRowContext(ctx, query, uuid.NewString(), req.Type, req.Name, settingsJSON).Scan(
		&conn.ID, &conn.Type, &conn.Name, &conn.CredentialsCiphertext, &conn.CredentialsNonce,
		&settingsStr, &conn.Enabled, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("connector type %q: %w", req.Type, ErrConflict)
		}
		return nil, fmt.Errorf("failed to create connector: %w", err)
	}
	conn.Settings = json.RawMessage(settingsStr)

	return &conn, nil
}

// GetConnector retrieves a connector by type
func (s *SQLiteStore) GetConnector(ctx context.Context, connectorType string) (*Connector, error) {
	query := `
		SELECT id, type, name, credentials_ciphertext, credentials_nonce, settings, enabled, created_at, updated_at
		FROM connectors
		WHERE type = ?
	`

	var conn Connector
	var settingsStr string
	err := s.db.QueryRowContext(ctx, query, connectorType).Scan(
		&conn.ID, &conn.Type, &conn.Name, &conn.CredentialsCiphertext, &conn.CredentialsNonce,
		&settingsStr, &conn.Enabled, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("connector %s: %w", connectorType, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get connector: %w", err)
	}
	conn.Settings = json.RawMessage(settingsStr)

	return &conn, nil
}

// ListConnectors lists all configured connectors
func (s *SQLiteStore) ListConnectors(ctx context.Context) ([]Connector, error) {
	query := `
		SELECT id, type, name, credentials_ciphertext, credentials_nonce, settings, enabled, created_at, updated_at
		FROM connectors
		ORDER BY type ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list connectors: %w", err)
	}
	defer rows.Close()

	connectors := make([]Connector, 0)
	for rows.Next() {
		var conn Connector
		var settingsStr string
		err := rows.Scan(
			&conn.ID, &conn.Type, &conn.Name, &conn.CredentialsCiphertext, &conn.CredentialsNonce,
			&settingsStr, &conn.Enabled, &conn.CreatedAt, &conn.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connector: %w", err)
		}
		conn.Settings = json.RawMessage(settingsStr)
		connectors = append(connectors, conn)
	}

	return connectors, rows.Err()
}

// UpdateConnector patches a connector row.
func (s *SQLiteStore) UpdateConnector(ctx context.Context, connectorType string, req *UpdateConnectorRequest) (*Connector, error) {
	updateFields := []string{}
	args := []interface{}{}

	if req.Name != nil {
		updateFields = append(updateFields, "name = ?")
		args = append(args, *req.Name)
	}

	if len(req.Settings) > 0 {
		updateFields = append(updateFields, "settings = ?")
		args = append(args, string(req.Settings))
	}

	if req.Enabled != nil {
		updateFields = append(updateFields, "enabled = ?")
		args = append(args, *req.Enabled)
	}

	if len(updateFields) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	updateFields = append(updateFields, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, connectorType)

	query := fmt.Sprintf(`
		UPDATE connectors
		SET %s
		WHERE type = ?
		RETURNING id, type, name, credentials_ciphertext, credentials_nonce, settings, enabled, created_at, updated_at
	`, strings.Join(updateFields, ", "))

	var conn Connector
	var settingsStr string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&conn.ID, &conn.Type, &conn.Name, &conn.CredentialsCiphertext, &conn.CredentialsNonce,
		&settingsStr, &conn.Enabled, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("connector %s: %w", connectorType, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update connector: %w", err)
	}
	conn.Settings = json.RawMessage(settingsStr)

	return &conn, nil
}

// SetConnectorCredentials stores the encrypted credential blob for a connector.
func (s *SQLiteStore) SetConnectorCredentials(ctx context.Context, connectorType string, ciphertext, nonce []byte) error {
	query := `
		UPDATE connectors
		SET credentials_ciphertext = ?, credentials_nonce = ?, updated_at = CURRENT_TIMESTAMP
		WHERE type = ?
	`

	result, err := s.db.ExecContext(ctx, query, ciphertext, nonce, connectorType)
	if err != nil {
		return fmt.Errorf("failed to set connector credentials: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("connector %s: %w", connectorType, ErrNotFound)
	}

	return nil
}

// DeleteConnector deletes a connector by type
func (s *SQLiteStore) DeleteConnector(ctx context.Context, connectorType string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM connectors WHERE type = ?`, connectorType)
	if err != nil {
		return fmt.Errorf("failed to delete connector: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("connector %s: %w", connectorType, ErrNotFound)
	}

	return nil
}

// GetSettings reads the settings singleton.
func (s *SQLiteStore) GetSettings(ctx context.Context) (*Settings, error) {
	query := `
		SELECT provider, model, temperature, max_tool_rounds, system_prompt
		FROM settings
		WHERE id = 1
	`

	var settings Settings
	err := s.db.QueryRowContext(ctx, query).Scan(
		&settings.Provider, &settings.Model, &settings.Temperature,
		&settings.MaxToolRounds, &settings.SystemPrompt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	return &settings, nil
}

// UpdateSettings patches the settings singleton with COALESCE semantics.
func (s *SQLiteStore) UpdateSettings(ctx context.Context, req *UpdateSettingsRequest) (*Settings, error) {
	query := `
		UPDATE settings
		SET provider = COALESCE(?, provider),
		    model = COALESCE(?, model),
		    temperature = COALESCE(?, temperature),
		    max_tool_rounds = COALESCE(?, max_tool_rounds),
		    system_prompt = COALESCE(?, system_prompt)
		WHERE id = 1
		RETURNING provider, model, temperature, max_tool_rounds, system_prompt
	`

	var settings Settings
	err := s.db.QueryRowContext(ctx, query,
		req.Provider, req.Model, req.Temperature, req.MaxToolRounds, req.SystemPrompt,
	).Scan(
		&settings.Provider, &settings.Model, &settings.Temperature,
		&settings.MaxToolRounds, &settings.SystemPrompt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}

	return &settings, nil
}

// GetUserContext reads the user context singleton.
func (s *SQLiteStore) GetUserContext(ctx context.Context) (*UserContext, error) {
	var uc UserContext
	err := s.db.QueryRowContext(ctx, `SELECT content, updated_at FROM user_context WHERE id = 1`).Scan(
		&uc.Content, &uc.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get user context: %w", err)
	}

	return &uc, nil
}

// PutUserContext replaces the user context singleton.
func (s *SQLiteStore) PutUserContext(ctx context.Context, content string) (*UserContext, error) {
	query := `
		UPDATE user_context
		SET content = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
		RETURNING content, updated_at
	`

	var uc UserContext
	err := s.db.QueryRowContext(ctx, query, content).Scan(&uc.Content, &uc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to put user context: %w", err)
	}

	return &uc, nil
}

// parseSQLiteTime parses the timestamp layouts SQLite hands back for
// untyped expressions.
func parseSQLiteTime(s string) (time.Time, error) {
	layouts := []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Ping tests the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
