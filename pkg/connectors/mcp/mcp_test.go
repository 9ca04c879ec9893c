package mcp

import (
	"testing"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresTransport(t *testing.T) {
	_, err := New(t.Context(), Config{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url or command")
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "read_file", sanitizeName("read_file"))
	assert.Equal(t, "files_read", sanitizeName("files/read"))
	assert.Equal(t, "do_it_now", sanitizeName("do it:now"))
}

func TestFlattenContent(t *testing.T) {
	out := flattenContent([]mcptypes.Content{
		mcptypes.TextContent{Type: "text", Text: "line one"},
		mcptypes.TextContent{Type: "text", Text: "line two"},
	})
	assert.Equal(t, "line one\nline two", out)

	out = flattenContent([]mcptypes.Content{
		mcptypes.ImageContent{Type: "image"},
	})
	assert.Contains(t, out, "content]")
}
