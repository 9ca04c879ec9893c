// Package mcp bridges an external MCP server into the assistant: the
// server's tools are discovered at connect time and exposed through the
// registry alongside the built-in connectors.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"github.com/nick-cummings/personal-assistant/internal/utils"
	"github.com/nick-cummings/personal-assistant/pkg/tools"
)

// Config is the connector's settings blob: either a server URL (HTTP or
// SSE transport) or a command to spawn over stdio.
type Config struct {
	URL      string            `json:"url,omitempty"`
	Protocol string            `json:"protocol,omitempty"` // http (default for URLs), sse, stdio
	Command  string            `json:"command,omitempty"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
}

// Connector proxies tool calls to one external MCP server.
type Connector struct {
	config Config
	logger utils.ExtendedLogger
	client *mcpclient.Client
	tools  []tools.Tool
}

// New connects to the MCP server, initializes the session, and discovers
// its tools. The returned connector owns the client; call Close when done.
func New(ctx context.Context, config Config, logger utils.ExtendedLogger) (*Connector, error) {
	c := &Connector{config: config, logger: logger}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	if err := c.discoverTools(ctx); err != nil {
		c.client.Close()
		return nil, err
	}
	return c, nil
}

func (c *Connector) connect(ctx context.Context) error {
	var (
		cli *mcpclient.Client
		err error
	)

	switch {
	case c.config.Command != "":
		var env []string
		for key, value := range c.config.Env {
			env = append(env, fmt.Sprintf("%s=%s", key, value))
		}
		cli, err = mcpclient.NewStdioMCPClient(c.config.Command, env, c.config.Args...)
	case c.config.URL != "" && c.config.Protocol == "sse":
		cli, err = mcpclient.NewSSEMCPClient(c.config.URL)
	case c.config.URL != "":
		cli, err = mcpclient.NewStreamableHttpClient(c.config.URL)
	default:
		return fmt.Errorf("mcp connector needs a url or a command")
	}
	if err != nil {
		return fmt.Errorf("creating MCP client: %w", err)
	}

	// The stdio constructor starts its transport; URL transports need an
	// explicit start.
	if c.config.Command == "" {
		if err := cli.Start(ctx); err != nil {
			cli.Close()
			return fmt.Errorf("starting MCP transport: %w", err)
		}
	}

	initReq := mcptypes.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcptypes.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcptypes.Implementation{
		Name:    "personal-assistant",
		Version: "1.0.0",
	}
	result, err := cli.Initialize(ctx, initReq)
	if err != nil {
		cli.Close()
		return fmt.Errorf("initializing MCP session: %w", err)
	}

	c.logger.Infof("mcp: connected to %s %s", result.ServerInfo.Name, result.ServerInfo.Version)
	c.client = cli
	return nil
}

func (c *Connector) discoverTools(ctx context.Context) error {
	result, err := c.client.ListTools(ctx, mcptypes.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("listing MCP tools: %w", err)
	}

	c.tools = make([]tools.Tool, 0, len(result.Tools))
	for _, remote := range result.Tools {
		remote := remote

		params := map[string]any{"type": "object"}
		if schema, err := json.Marshal(remote.InputSchema); err == nil {
			var m map[string]any
			if json.Unmarshal(schema, &m) == nil && len(m) > 0 {
				params = m
			}
		}

		c.tools = append(c.tools, tools.Tool{
			Name:        "mcp_" + sanitizeName(remote.Name),
			Description: remote.Description,
			Parameters:  params,
			Call: func(ctx context.Context, args json.RawMessage) (any, error) {
				return c.invoke(ctx, remote.Name, args)
			},
		})
	}
	return nil
}

func (c *Connector) invoke(ctx context.Context, name string, args json.RawMessage) (any, error) {
	arguments := map[string]any{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}

	req := mcptypes.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments

	result, err := c.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("calling MCP tool %s: %w", name, err)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		return nil, fmt.Errorf("%s", text)
	}
	return map[string]any{"content": text}, nil
}

// flattenContent joins the text parts of a tool result. Non-text content
// is reported by type only.
func flattenContent(content []mcptypes.Content) string {
	parts := make([]string, 0, len(content))
	for _, item := range content {
		if tc, ok := item.(mcptypes.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			parts = append(parts, fmt.Sprintf("[%T content]", item))
		}
	}
	return strings.Join(parts, "\n")
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}

// Type implements connectors.Connector.
func (c *Connector) Type() string { return "mcp" }

// Tools implements connectors.Connector.
func (c *Connector) Tools() []tools.Tool { return c.tools }

// HealthCheck implements connectors.Connector.
func (c *Connector) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := c.client.ListTools(ctx, mcptypes.ListToolsRequest{})
	return err
}

// Close shuts down the MCP client and its transport.
func (c *Connector) Close() error {
	return c.client.Close()
}
