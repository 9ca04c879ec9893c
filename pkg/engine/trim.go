package engine

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/tmc/langchaingo/llms"
)

// defaultContextBudget is the token budget for conversation history sent to
// the model. Providers differ; this stays safely under every supported
// model's context window.
const defaultContextBudget = 24000

var encoding *tiktoken.Tiktoken

func init() {
	// cl100k_base is a good cross-provider approximation; an error leaves
	// encoding nil and countText falls back to a bytes/4 heuristic.
	encoding, _ = tiktoken.GetEncoding("cl100k_base")
}

func countText(text string) int {
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// countTokens estimates the token count of a message, including tool calls
// and tool responses. A tool result is often the largest message in the
// history, so it must deplete the budget like any other text.
func countTokens(msg llms.MessageContent) int {
	total := 0
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case llms.TextContent:
			total += countText(p.Text)
		case llms.ToolCall:
			if p.FunctionCall != nil {
				total += countText(p.FunctionCall.Name)
				total += countText(p.FunctionCall.Arguments)
			}
		case llms.ToolCallResponse:
			total += countText(p.Name)
			total += countText(p.Content)
		}
	}
	return total
}

// trimHistory drops the oldest non-system messages until the history fits
// the token budget. The system prompt and the most recent exchange always
// survive. An assistant message that issued tool calls and the tool
// responses that follow it are kept or dropped together, so the model never
// sees a tool response without its call.
func trimHistory(messages []llms.MessageContent, budget int) []llms.MessageContent {
	if budget <= 0 {
		budget = defaultContextBudget
	}

	var system []llms.MessageContent
	rest := messages
	if len(messages) > 0 && messages[0].Role == llms.ChatMessageTypeSystem {
		system = messages[:1]
		rest = messages[1:]
	}

	total := 0
	for _, msg := range system {
		total += countTokens(msg)
	}

	// Group each message with the tool responses that follow it; units are
	// the trimming granularity.
	var units [][]llms.MessageContent
	for i, msg := range rest {
		if i > 0 && msg.Role == llms.ChatMessageTypeTool {
			last := len(units) - 1
			units[last] = append(units[last], msg)
			continue
		}
		units = append(units, rest[i:i+1])
	}

	// Walk backwards keeping the newest units that fit.
	kept := 0
	for i := len(units) - 1; i >= 0; i-- {
		cost := 0
		for _, msg := range units[i] {
			cost += countTokens(msg)
		}
		if kept > 0 && total+cost > budget {
			break
		}
		total += cost
		kept++
	}

	trimmed := append([]llms.MessageContent{}, system...)
	for _, unit := range units[len(units)-kept:] {
		trimmed = append(trimmed, unit...)
	}
	return trimmed
}
