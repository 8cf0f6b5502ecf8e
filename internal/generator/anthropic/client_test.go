package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestNew_RejectsMissingClientOrModel(t *testing.T) {
	_, err := New(nil, "claude-3.5-sonnet", 128)
	assert.Error(t, err)

	_, err = New(&stubMessagesClient{}, "", 128)
	assert.Error(t, err)
}

func TestGenerate_DecodesStructuredToolUse(t *testing.T) {
	stub := &stubMessagesClient{}
	cl, err := New(stub, "claude-3.5-sonnet", 128)
	require.NoError(t, err)

	input, _ := json.Marshal(map[string]any{"category": "SCHEDULE", "confidence": 0.9})
	stub.resp = &sdk.Message{
		Model: sdk.Model("claude-3.5-sonnet"),
		Content: []sdk.ContentBlockUnion{
			{
				Type:  "tool_use",
				Name:  structuredOutputToolName,
				Input: input,
			},
		},
		StopReason: sdk.StopReasonToolUse,
		Usage: sdk.Usage{
			InputTokens:  10,
			OutputTokens: 5,
		},
	}

	schema := map[string]any{"type": "object"}
	data, resp, err := cl.Generate(context.Background(), "classify this", "system prompt", schema, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, "SCHEDULE", data["category"])
	assert.Equal(t, 10, resp.TokenUsage.Prompt)
	assert.Equal(t, 5, resp.TokenUsage.Completion)
	assert.Equal(t, 15, resp.TokenUsage.Total)

	require.Len(t, stub.lastParams.Tools, 1)
	require.NotNil(t, stub.lastParams.Tools[0].OfTool)
	assert.Equal(t, structuredOutputToolName, stub.lastParams.Tools[0].OfTool.Name)
}

func TestGenerate_NoToolUseBlockIsAnError(t *testing.T) {
	stub := &stubMessagesClient{}
	cl, err := New(stub, "claude-3.5-sonnet", 128)
	require.NoError(t, err)

	stub.resp = &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: "no structured output here"}},
	}

	_, _, err = cl.Generate(context.Background(), "prompt", "system", map[string]any{}, 0, 0)
	assert.Error(t, err)
}

func TestGenerate_PropagatesTransportError(t *testing.T) {
	stub := &stubMessagesClient{err: errors.New("upstream unavailable")}
	cl, err := New(stub, "claude-3.5-sonnet", 128)
	require.NoError(t, err)

	_, _, err = cl.Generate(context.Background(), "prompt", "system", map[string]any{}, 0, 0)
	assert.Error(t, err)
}
