// Package connectors wires external services into the assistant's tool
// registry. Each connector type lives in its own subpackage and exposes a
// fixed set of tools; the Manager owns their lifecycle, decrypting stored
// credentials and registering tools for enabled connectors.
package connectors

import (
	"context"

	"github.com/nick-cummings/personal-assistant/pkg/tools"
)

// Connector is one configured external service.
type Connector interface {
	// Type is the stable identifier ("aws", "confluence", ...). One
	// connector per type.
	Type() string

	// Tools returns the connector's tool set. Tool names are prefixed
	// with the connector type so they stay unique in the registry.
	Tools() []tools.Tool

	// HealthCheck verifies the connector can reach its service with the
	// configured credentials.
	HealthCheck(ctx context.Context) error
}

// Status is the live health of a configured connector, reported on the
// connector list endpoint.
type Status struct {
	Type    string `json:"type"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}
