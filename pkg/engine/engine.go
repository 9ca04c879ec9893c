// Package engine runs the LLM conversation loop behind the streaming chat
// endpoint: it multiplexes model output, tool calls, and their results into
// a single ordered event stream and returns the final assistant state for
// persistence.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/nick-cummings/personal-assistant/internal/utils"
	"github.com/nick-cummings/personal-assistant/pkg/database"
	"github.com/nick-cummings/personal-assistant/pkg/tools"
)

// Engine drives multi-round LLM conversations with tool calling.
type Engine struct {
	Model         llms.Model
	Registry      *tools.Registry
	Temperature   float64
	MaxToolRounds int
	ContextBudget int
	Logger        utils.ExtendedLogger
}

// Result is the final assistant state after a conversation turn: the answer
// text plus the record of every tool invocation made along the way.
type Result struct {
	Content   string
	ToolCalls []ToolCallRecord
}

// EmitFunc receives stream events in order. Returning an error aborts the
// conversation (the HTTP layer returns one when the client is gone).
type EmitFunc func(StreamEvent) error

// BuildHistory converts persisted messages into the LLM message history.
// Tool-role messages are skipped: their content is already folded into the
// assistant messages' tool call records.
func BuildHistory(systemPrompt string, userContext string, messages []database.Message) []llms.MessageContent {
	prompt := systemPrompt
	if userContext != "" {
		prompt = strings.TrimSpace(prompt + "\n\nWhat you know about the user:\n" + userContext)
	}

	history := make([]llms.MessageContent, 0, len(messages)+1)
	if prompt != "" {
		history = append(history, llms.TextParts(llms.ChatMessageTypeSystem, prompt))
	}

	for _, msg := range messages {
		switch msg.Role {
		case database.RoleUser:
			history = append(history, llms.TextParts(llms.ChatMessageTypeHuman, msg.Content))
		case database.RoleAssistant:
			if msg.Content != "" {
				history = append(history, llms.TextParts(llms.ChatMessageTypeAI, msg.Content))
			}
		}
	}

	return history
}

// Run executes the conversation loop: generate, execute any tool calls,
// feed results back, repeat until the model answers in plain text or the
// round cap is reached. Text chunks and tool activity are forwarded to emit
// as they happen.
func (e *Engine) Run(ctx context.Context, messages []llms.MessageContent, emit EmitFunc) (*Result, error) {
	maxRounds := e.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = 10
	}

	var emitErr error
	streamFunc := func(_ context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		if err := emit(StreamEvent{Type: EventTextDelta, TextDelta: string(chunk)}); err != nil {
			emitErr = err
			return err
		}
		return nil
	}

	var records []ToolCallRecord
	var lastContent string

	for round := 0; round <= maxRounds; round++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("conversation cancelled: %w", ctx.Err())
		}

		messages = trimHistory(messages, e.ContextBudget)

		opts := []llms.CallOption{
			llms.WithTemperature(e.Temperature),
			llms.WithStreamingFunc(streamFunc),
		}
		if e.Registry != nil && e.Registry.Len() > 0 {
			opts = append(opts, llms.WithTools(e.Registry.LLMTools()))
		}

		e.Logger.Debugf("engine: round %d, %d messages, %d tools", round+1, len(messages), e.Registry.Len())

		resp, err := e.Model.GenerateContent(ctx, messages, opts...)
		if err != nil {
			if emitErr != nil {
				return nil, emitErr
			}
			return nil, fmt.Errorf("llm error: %w", err)
		}
		if resp == nil || len(resp.Choices) == 0 {
			return nil, fmt.Errorf("no response choices returned")
		}

		choice := resp.Choices[0]
		if choice.Content != "" {
			lastContent = choice.Content
		}

		if len(choice.ToolCalls) == 0 {
			return &Result{Content: lastContent, ToolCalls: records}, nil
		}

		if round == maxRounds {
			// Round cap: stop calling tools and answer with what we have.
			e.Logger.Warnf("engine: tool round cap (%d) reached, finishing", maxRounds)
			return &Result{Content: lastContent, ToolCalls: records}, nil
		}

		// Append the assistant message carrying the tool calls, then one
		// tool response message per call, in order.
		assistantParts := []llms.ContentPart{}
		if choice.Content != "" {
			assistantParts = append(assistantParts, llms.TextContent{Text: choice.Content})
		}
		for _, tc := range choice.ToolCalls {
			assistantParts = append(assistantParts, tc)
		}
		messages = append(messages, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: assistantParts})

		for _, tc := range choice.ToolCalls {
			args := json.RawMessage(tc.FunctionCall.Arguments)
			if err := emit(StreamEvent{
				Type:       EventToolCall,
				ToolCallID: tc.ID,
				ToolName:   tc.FunctionCall.Name,
				Arguments:  args,
			}); err != nil {
				return nil, err
			}

			e.Logger.Infof("engine: executing tool %s (round %d)", tc.FunctionCall.Name, round+1)
			result := e.Registry.Execute(ctx, tc.FunctionCall.Name, args)

			resultJSON, err := json.Marshal(result)
			if err != nil {
				resultJSON, _ = json.Marshal(tools.ErrorResult{Error: fmt.Sprintf("unserializable tool result: %v", err)})
			}

			if err := emit(StreamEvent{
				Type:       EventToolResult,
				ToolCallID: tc.ID,
				ToolName:   tc.FunctionCall.Name,
				Result:     resultJSON,
			}); err != nil {
				return nil, err
			}

			records = append(records, ToolCallRecord{
				ID:        tc.ID,
				Name:      tc.FunctionCall.Name,
				Arguments: args,
				Result:    resultJSON,
			})

			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: tc.ID,
					Name:       tc.FunctionCall.Name,
					Content:    string(resultJSON),
				}},
			})
		}
	}

	return &Result{Content: lastContent, ToolCalls: records}, nil
}
