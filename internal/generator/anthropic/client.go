// Package anthropic adapts github.com/anthropics/anthropic-sdk-go's
// Messages API to the generator.Generator contract, grounded on the
// teacher's features/model/anthropic client: a thin interface over the SDK
// client so tests can substitute a fake, plus JSON-schema-constrained
// generation via Anthropic's structured output (tool-forced) mode.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/flowforge/intentexec/internal/generator"
)

// MessagesClient is the subset of the Anthropic SDK client the adapter
// uses, satisfied by *sdk.MessageService or a test double.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements generator.Generator on top of Anthropic Messages,
// forcing the model to emit a single structured-output tool call shaped by
// the caller's schema.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int64
}

// New builds a Client. maxTokens bounds every completion unless the caller
// needs finer control, in which case they should construct requests
// directly against MessagesClient.
func New(msg MessagesClient, defaultModel string, maxTokens int64) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic messages client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: msg, defaultModel: defaultModel, maxTokens: maxTokens}, nil
}

const structuredOutputToolName = "emit_structured_output"

// Generate issues a single Messages.New call with a synthetic tool whose
// input_schema is the caller-supplied schema, forces tool_choice on that
// tool, and decodes the resulting tool_use input as the structured result.
func (c *Client) Generate(ctx context.Context, prompt, system string, schema any, temperature float64, timeoutMs int) (map[string]any, generator.Response, error) {
	if timeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	schemaParam, err := toolInputSchema(schema)
	if err != nil {
		return nil, generator.Response{}, fmt.Errorf("encode schema for structured output: %w", err)
	}

	tool := sdk.ToolUnionParamOfTool(schemaParam, structuredOutputToolName)
	if tool.OfTool != nil {
		tool.OfTool.Description = sdk.String("Emit the structured result shaped by the provided schema.")
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.defaultModel),
		MaxTokens:   c.maxTokens,
		Temperature: sdk.Float(temperature),
		System:      []sdk.TextBlockParam{{Text: system}},
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
		Tools:       []sdk.ToolUnionParam{tool},
		ToolChoice:  sdk.ToolChoiceParamOfTool(structuredOutputToolName),
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return nil, generator.Response{}, fmt.Errorf("anthropic messages.new: %w", err)
	}

	data, err := extractStructuredOutput(msg)
	if err != nil {
		return nil, generator.Response{}, err
	}

	resp := generator.Response{ModelID: string(msg.Model)}
	resp.TokenUsage = generator.TokenUsage{
		Prompt:     int(msg.Usage.InputTokens),
		Completion: int(msg.Usage.OutputTokens),
		Total:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}

	return data, resp, nil
}

func extractStructuredOutput(msg *sdk.Message) (map[string]any, error) {
	if msg == nil {
		return nil, errors.New("anthropic response message is nil")
	}
	for _, block := range msg.Content {
		if block.Type != "tool_use" || block.Name != structuredOutputToolName {
			continue
		}
		var data map[string]any
		if err := json.Unmarshal(block.Input, &data); err != nil {
			return nil, fmt.Errorf("decode structured output: %w", err)
		}
		return data, nil
	}
	return nil, errors.New("anthropic response contained no structured output tool call")
}

// toolInputSchema mirrors the teacher's toolInputSchema: the schema is
// carried verbatim as extra fields on the wire rather than decomposed into
// typed Type/Properties, since schemas here originate as plain JSON Schema
// documents (jsonschema.Schema-compiled or map[string]any).
func toolInputSchema(schema any) (sdk.ToolInputSchemaParam, error) {
	if schema == nil {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var raw json.RawMessage
	switch v := schema.(type) {
	case json.RawMessage:
		raw = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return sdk.ToolInputSchemaParam{}, err
		}
		raw = data
	}
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}
