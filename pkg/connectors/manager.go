package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nick-cummings/personal-assistant/internal/utils"
	awsconn "github.com/nick-cummings/personal-assistant/pkg/connectors/aws"
	"github.com/nick-cummings/personal-assistant/pkg/connectors/calculator"
	"github.com/nick-cummings/personal-assistant/pkg/connectors/confluence"
	"github.com/nick-cummings/personal-assistant/pkg/connectors/datetime"
	"github.com/nick-cummings/personal-assistant/pkg/connectors/googlecloud"
	mcpconn "github.com/nick-cummings/personal-assistant/pkg/connectors/mcp"
	"github.com/nick-cummings/personal-assistant/pkg/connectors/npmregistry"
	"github.com/nick-cummings/personal-assistant/pkg/connectors/outlook"
	"github.com/nick-cummings/personal-assistant/pkg/connectors/weather"
	"github.com/nick-cummings/personal-assistant/pkg/connectors/websearch"
	"github.com/nick-cummings/personal-assistant/pkg/cryptobox"
	"github.com/nick-cummings/personal-assistant/pkg/database"
	"github.com/nick-cummings/personal-assistant/pkg/tools"
)

// Types lists every connector type the hub knows how to build.
var Types = []string{
	"aws", "calculator", "confluence", "datetime", "googlecloud",
	"mcp", "npm", "outlook", "weather", "websearch",
}

// KnownType reports whether t names a supported connector type.
func KnownType(t string) bool {
	for _, known := range Types {
		if known == t {
			return true
		}
	}
	return false
}

// credentialFree connectors work without stored credentials.
var credentialFree = map[string]bool{
	"calculator": true,
	"datetime":   true,
	"npm":        true,
	"weather":    true,
	"websearch":  true,
	"mcp":        true, // configured through settings, not credentials
}

// NeedsCredentials reports whether a connector type requires stored
// credentials before it can be enabled.
func NeedsCredentials(t string) bool { return !credentialFree[t] }

// Manager owns the lifecycle of configured connectors: it builds them from
// their stored rows, registers their tools, and answers health queries.
type Manager struct {
	store    database.Store
	key      []byte
	registry *tools.Registry
	logger   utils.ExtendedLogger

	mu     sync.Mutex
	active map[string]Connector
}

// NewManager creates a manager. key is the AES key for credential blobs.
func NewManager(store database.Store, key []byte, registry *tools.Registry, logger utils.ExtendedLogger) *Manager {
	return &Manager{
		store:    store,
		key:      key,
		registry: registry,
		logger:   logger,
		active:   make(map[string]Connector),
	}
}

// Reload rebuilds the active connector set from the database: enabled rows
// gain a live connector and registered tools, disabled or deleted rows lose
// theirs. Called at startup and after any connector mutation.
func (m *Manager) Reload(ctx context.Context) error {
	rows, err := m.store.ListConnectors(ctx)
	if err != nil {
		return fmt.Errorf("listing connectors: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[string]bool)
	for _, row := range rows {
		if !row.Enabled {
			continue
		}
		if NeedsCredentials(row.Type) && !row.Configured() {
			m.logger.Warnf("connector %s enabled but not configured, skipping", row.Type)
			continue
		}
		wanted[row.Type] = true

		if _, ok := m.active[row.Type]; ok {
			continue
		}

		conn, err := m.build(ctx, &row)
		if err != nil {
			m.logger.WithError(err).Errorf("building connector %s", row.Type)
			continue
		}
		for _, t := range conn.Tools() {
			m.registry.Register(t)
		}
		m.active[row.Type] = conn
		m.logger.Infof("connector %s active with %d tools", row.Type, len(conn.Tools()))
	}

	for typ, conn := range m.active {
		if wanted[typ] {
			continue
		}
		for _, t := range conn.Tools() {
			m.registry.Unregister(t.Name)
		}
		if closer, ok := conn.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				m.logger.WithError(err).Warnf("closing connector %s", typ)
			}
		}
		delete(m.active, typ)
		m.logger.Infof("connector %s deactivated", typ)
	}

	return nil
}

// Rebuild drops one active connector and reloads, so credential or settings
// changes take effect immediately.
func (m *Manager) Rebuild(ctx context.Context, connectorType string) error {
	m.mu.Lock()
	if conn, ok := m.active[connectorType]; ok {
		for _, t := range conn.Tools() {
			m.registry.Unregister(t.Name)
		}
		if closer, ok := conn.(interface{ Close() error }); ok {
			closer.Close()
		}
		delete(m.active, connectorType)
	}
	m.mu.Unlock()

	return m.Reload(ctx)
}

// Health checks every active connector. Each check gets its own timeout so
// one slow vendor does not stall the list endpoint.
func (m *Manager) Health(ctx context.Context) []Status {
	m.mu.Lock()
	conns := make([]Connector, 0, len(m.active))
	for _, conn := range m.active {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	statuses := make([]Status, 0, len(conns))
	for _, conn := range conns {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := conn.HealthCheck(checkCtx)
		cancel()

		status := Status{Type: conn.Type(), Healthy: err == nil}
		if err != nil {
			status.Error = err.Error()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Active returns the types of currently active connectors.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.active))
	for typ := range m.active {
		types = append(types, typ)
	}
	return types
}

// Close shuts down connectors that hold live sessions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for typ, conn := range m.active {
		if closer, ok := conn.(interface{ Close() error }); ok {
			closer.Close()
		}
		delete(m.active, typ)
	}
}

func (m *Manager) build(ctx context.Context, row *database.Connector) (Connector, error) {
	switch row.Type {
	case "datetime":
		return datetime.New(), nil
	case "calculator":
		return calculator.New(), nil
	case "npm":
		return npmregistry.New(""), nil
	case "weather":
		return weather.New("", ""), nil
	case "websearch":
		return websearch.New(""), nil

	case "aws":
		var creds awsconn.Credentials
		if err := m.decrypt(row, &creds); err != nil {
			return nil, err
		}
		return awsconn.New(ctx, creds)

	case "confluence":
		var creds confluence.Credentials
		if err := m.decrypt(row, &creds); err != nil {
			return nil, err
		}
		return confluence.New(creds)

	case "outlook":
		var creds outlook.Credentials
		if err := m.decrypt(row, &creds); err != nil {
			return nil, err
		}
		return outlook.New(creds, m.persistOutlook)

	case "googlecloud":
		var creds googlecloud.Credentials
		if err := m.decrypt(row, &creds); err != nil {
			return nil, err
		}
		return googlecloud.New(ctx, creds)

	case "mcp":
		var config mcpconn.Config
		if len(row.Settings) > 0 {
			if err := json.Unmarshal(row.Settings, &config); err != nil {
				return nil, fmt.Errorf("invalid mcp settings: %w", err)
			}
		}
		return mcpconn.New(ctx, config, m.logger)

	default:
		return nil, fmt.Errorf("unknown connector type %q", row.Type)
	}
}

func (m *Manager) decrypt(row *database.Connector, out any) error {
	if err := cryptobox.Decrypt(row.CredentialsCiphertext, row.CredentialsNonce, m.key, out); err != nil {
		return fmt.Errorf("decrypting %s credentials: %w", row.Type, err)
	}
	return nil
}

// persistOutlook writes refreshed OAuth tokens back to the connector row.
func (m *Manager) persistOutlook(ctx context.Context, creds outlook.Credentials) error {
	ciphertext, nonce, err := cryptobox.Encrypt(creds, m.key)
	if err != nil {
		return err
	}
	return m.store.SetConnectorCredentials(ctx, "outlook", ciphertext, nonce)
}
