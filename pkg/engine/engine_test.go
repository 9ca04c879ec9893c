package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/nick-cummings/personal-assistant/pkg/database"
	"github.com/nick-cummings/personal-assistant/pkg/logger"
	"github.com/nick-cummings/personal-assistant/pkg/tools"
)

// fakeModel returns scripted responses in order and streams each response's
// content through the caller's streaming func first.
type fakeModel struct {
	responses []*llms.ContentResponse
	calls     int
	seen      [][]llms.MessageContent
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.seen = append(f.seen, messages)

	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	resp := f.responses[f.calls]
	f.calls++

	if opts.StreamingFunc != nil && len(resp.Choices) > 0 && resp.Choices[0].Content != "" {
		if err := opts.StreamingFunc(ctx, []byte(resp.Choices[0].Content)); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := f.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func textResponse(content string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content}}}
}

func toolCallResponse(id, name, args string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:   id,
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      name,
				Arguments: args,
			},
		}},
	}}}
}

func newTestRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	r.Register(tools.Tool{
		Name:        "lookup",
		Description: "Looks things up",
		Parameters:  map[string]any{"type": "object"},
		Call: func(ctx context.Context, args json.RawMessage) (any, error) {
			return map[string]string{"answer": "42"}, nil
		},
	})
	return r
}

func collectEvents(events *[]StreamEvent) EmitFunc {
	return func(ev StreamEvent) error {
		*events = append(*events, ev)
		return nil
	}
}

func TestRun_PlainAnswer(t *testing.T) {
	model := &fakeModel{responses: []*llms.ContentResponse{textResponse("hello there")}}
	e := &Engine{Model: model, Registry: newTestRegistry(t), Logger: logger.NewTest()}

	var events []StreamEvent
	result, err := e.Run(context.Background(),
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "hi")},
		collectEvents(&events))
	require.NoError(t, err)

	assert.Equal(t, "hello there", result.Content)
	assert.Empty(t, result.ToolCalls)
	require.Len(t, events, 1)
	assert.Equal(t, EventTextDelta, events[0].Type)
	assert.Equal(t, "hello there", events[0].TextDelta)
}

func TestRun_ToolCallRound(t *testing.T) {
	model := &fakeModel{responses: []*llms.ContentResponse{
		toolCallResponse("call-1", "lookup", `{"q":"meaning of life"}`),
		textResponse("the answer is 42"),
	}}
	e := &Engine{Model: model, Registry: newTestRegistry(t), Logger: logger.NewTest()}

	var events []StreamEvent
	result, err := e.Run(context.Background(),
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "what is the meaning of life?")},
		collectEvents(&events))
	require.NoError(t, err)

	assert.Equal(t, "the answer is 42", result.Content)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "lookup", result.ToolCalls[0].Name)
	assert.JSONEq(t, `{"answer":"42"}`, string(result.ToolCalls[0].Result))

	// Event order: tool-call, tool-result, then the final text.
	require.Len(t, events, 3)
	assert.Equal(t, EventToolCall, events[0].Type)
	assert.Equal(t, "lookup", events[0].ToolName)
	assert.Equal(t, EventToolResult, events[1].Type)
	assert.Equal(t, EventTextDelta, events[2].Type)

	// The second LLM call must carry the tool response in history.
	require.Len(t, model.seen, 2)
	last := model.seen[1][len(model.seen[1])-1]
	assert.Equal(t, llms.ChatMessageTypeTool, last.Role)
}

func TestRun_UnknownToolBecomesErrorResult(t *testing.T) {
	model := &fakeModel{responses: []*llms.ContentResponse{
		toolCallResponse("call-1", "does_not_exist", `{}`),
		textResponse("sorry, that failed"),
	}}
	e := &Engine{Model: model, Registry: newTestRegistry(t), Logger: logger.NewTest()}

	var events []StreamEvent
	result, err := e.Run(context.Background(),
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "hi")},
		collectEvents(&events))
	require.NoError(t, err)

	require.Len(t, result.ToolCalls, 1)
	assert.Contains(t, string(result.ToolCalls[0].Result), "unknown tool")
	assert.Equal(t, "sorry, that failed", result.Content)
}

func TestRun_RoundCap(t *testing.T) {
	// The model insists on calling tools forever; the cap must stop it.
	responses := make([]*llms.ContentResponse, 0, 4)
	for i := 0; i < 4; i++ {
		responses = append(responses, toolCallResponse("c", "lookup", `{}`))
	}
	model := &fakeModel{responses: responses}
	e := &Engine{Model: model, Registry: newTestRegistry(t), MaxToolRounds: 2, Logger: logger.NewTest()}

	var events []StreamEvent
	result, err := e.Run(context.Background(),
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "loop forever")},
		collectEvents(&events))
	require.NoError(t, err)

	// Rounds 1 and 2 execute tools, round 3 hits the cap.
	assert.Len(t, result.ToolCalls, 2)
	assert.Equal(t, 3, model.calls)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model := &fakeModel{responses: []*llms.ContentResponse{textResponse("never")}}
	e := &Engine{Model: model, Registry: newTestRegistry(t), Logger: logger.NewTest()}

	_, err := e.Run(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "hi")}, func(StreamEvent) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildHistory(t *testing.T) {
	messages := []database.Message{
		{Role: database.RoleUser, Content: "hi"},
		{Role: database.RoleAssistant, Content: "hello"},
		{Role: database.RoleTool, Content: `{"ignored":true}`},
		{Role: database.RoleUser, Content: "bye"},
	}

	history := BuildHistory("You are helpful.", "Lives in Berlin.", messages)

	require.Len(t, history, 4) // system + user + assistant + user
	assert.Equal(t, llms.ChatMessageTypeSystem, history[0].Role)
	text := history[0].Parts[0].(llms.TextContent).Text
	assert.Contains(t, text, "You are helpful.")
	assert.Contains(t, text, "Lives in Berlin.")
	assert.Equal(t, llms.ChatMessageTypeHuman, history[3].Role)
}

func TestTrimHistory_KeepsSystemAndNewest(t *testing.T) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, "system prompt"),
	}
	for i := 0; i < 50; i++ {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman,
			"a fairly long message that costs a meaningful number of tokens to keep around"))
	}

	trimmed := trimHistory(messages, 100)

	assert.Less(t, len(trimmed), len(messages))
	assert.Equal(t, llms.ChatMessageTypeSystem, trimmed[0].Role)
	// Newest message always survives.
	assert.Equal(t, messages[len(messages)-1], trimmed[len(trimmed)-1])
}

func toolExchange(callID, name, args, result string) []llms.MessageContent {
	return []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeAI,
			Parts: []llms.ContentPart{llms.ToolCall{
				ID:           callID,
				Type:         "function",
				FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
			}},
		},
		{
			Role: llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{llms.ToolCallResponse{
				ToolCallID: callID,
				Name:       name,
				Content:    result,
			}},
		},
	}
}

func TestCountTokens_IncludesToolParts(t *testing.T) {
	exchange := toolExchange("call-1", "websearch_fetch",
		`{"url":"https://example.com/very/long/path"}`,
		strings.Repeat("a sizeable tool result line. ", 40))

	assert.Greater(t, countTokens(exchange[0]), 0, "tool call arguments must cost tokens")
	assert.Greater(t, countTokens(exchange[1]), 100, "tool results must deplete the budget")
}

func TestTrimHistory_DropsToolExchangeWhole(t *testing.T) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, "system prompt"),
		llms.TextParts(llms.ChatMessageTypeHuman, "look this up for me"),
	}
	// An old exchange with a huge tool result, then enough recent chatter
	// to push it past the budget.
	messages = append(messages, toolExchange("call-1", "websearch_fetch",
		`{"url":"https://example.com"}`, strings.Repeat("old scraped page text ", 200))...)
	for i := 0; i < 10; i++ {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman,
			"a follow up question about the earlier result and other things"))
	}

	trimmed := trimHistory(messages, 300)

	assert.Less(t, len(trimmed), len(messages), "the oversized tool result must count against the budget")
	for i, msg := range trimmed {
		if msg.Role != llms.ChatMessageTypeTool {
			continue
		}
		require.Greater(t, i, 0)
		hasCall := false
		for _, part := range trimmed[i-1].Parts {
			if _, ok := part.(llms.ToolCall); ok {
				hasCall = true
			}
		}
		assert.True(t, hasCall, "tool response survived without the call that produced it")
	}
	assert.NotEqual(t, llms.ChatMessageTypeTool, trimmed[1].Role,
		"history must not resume on an orphaned tool response")
}
