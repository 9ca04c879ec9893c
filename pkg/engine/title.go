package engine

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/nick-cummings/personal-assistant/internal/utils"
)

const titlePrompt = `Write a short title (at most five words) for a conversation
that starts with the following message. Reply with the title only, no quotes.

Message: `

// GenerateTitle asks the model for a short chat title based on the first
// user message. On any failure it falls back to a truncation of the message
// itself, so the chat always ends up titled.
func GenerateTitle(ctx context.Context, model llms.Model, firstMessage string) string {
	title, err := llms.GenerateFromSinglePrompt(ctx, model, titlePrompt+firstMessage,
		llms.WithTemperature(0.0),
		llms.WithMaxTokens(32),
	)
	if err == nil {
		title = strings.Trim(strings.TrimSpace(title), `"`)
		if title != "" {
			return utils.TruncateString(title, 80)
		}
	}

	return utils.TruncateString(strings.TrimSpace(firstMessage), 50)
}
