// Package bedrock adapts the AWS Bedrock Converse API to the
// generator.Generator contract, grounded on the teacher's
// features/model/bedrock client: split system vs. conversational content,
// force a single named tool via ToolConfiguration, and decode the resulting
// tool_use block as the structured result.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/flowforge/intentexec/internal/generator"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client the
// adapter uses, satisfied by *bedrockruntime.Client or a test double.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

const structuredOutputToolName = "emit_structured_output"

// Client implements generator.Generator on top of Bedrock Converse, forcing
// the model to emit a single structured-output tool call shaped by the
// caller's schema.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTokens    int32
}

// New builds a Client.
func New(runtime RuntimeClient, defaultModel string, maxTokens int32) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{runtime: runtime, defaultModel: defaultModel, maxTokens: maxTokens}, nil
}

// Generate issues a single Converse call with a synthetic tool whose
// inputSchema is the caller-supplied schema, forces toolChoice on that tool,
// and decodes the resulting toolUse input as the structured result.
func (c *Client) Generate(ctx context.Context, prompt, system string, schema any, temperature float64, timeoutMs int) (map[string]any, generator.Response, error) {
	toolConfig := &brtypes.ToolConfiguration{
		Tools: []brtypes.Tool{
			&brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
				Name:        aws.String(structuredOutputToolName),
				Description: aws.String("Emit the structured result shaped by the provided schema."),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: toDocument(schema)},
			}},
		},
		ToolChoice: &brtypes.ToolChoiceMemberTool{
			Value: brtypes.SpecificToolChoice{Name: aws.String(structuredOutputToolName)},
		},
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.defaultModel),
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: prompt}},
			},
		},
		ToolConfig: toolConfig,
	}
	if system != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: system}}
	}
	if cfg := c.inferenceConfig(temperature); cfg != nil {
		input.InferenceConfig = cfg
	}

	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return nil, generator.Response{}, fmt.Errorf("bedrock converse: %w", err)
	}

	data, err := extractStructuredOutput(output)
	if err != nil {
		return nil, generator.Response{}, err
	}

	resp := generator.Response{ModelID: c.defaultModel}
	if usage := output.Usage; usage != nil {
		resp.TokenUsage = generator.TokenUsage{
			Prompt:     int(ptrValue(usage.InputTokens)),
			Completion: int(ptrValue(usage.OutputTokens)),
			Total:      int(ptrValue(usage.TotalTokens)),
		}
	}
	return data, resp, nil
}

func (c *Client) inferenceConfig(temperature float64) *brtypes.InferenceConfiguration {
	cfg := brtypes.InferenceConfiguration{MaxTokens: aws.Int32(c.maxTokens)}
	if temperature > 0 {
		cfg.Temperature = aws.Float32(float32(temperature))
	}
	return &cfg
}

func extractStructuredOutput(output *bedrockruntime.ConverseOutput) (map[string]any, error) {
	if output == nil {
		return nil, errors.New("bedrock response is nil")
	}
	msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, errors.New("bedrock response contained no message output")
	}
	for _, block := range msg.Value.Content {
		toolUse, ok := block.(*brtypes.ContentBlockMemberToolUse)
		if !ok {
			continue
		}
		if toolUse.Value.Name == nil || *toolUse.Value.Name != structuredOutputToolName {
			continue
		}
		raw := decodeDocument(toolUse.Value.Input)
		if raw == nil {
			return nil, errors.New("bedrock structured output tool call carried no input")
		}
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("decode structured output: %w", err)
		}
		return data, nil
	}
	return nil, errors.New("bedrock response contained no structured output tool call")
}

func toDocument(schema any) document.Interface {
	if schema == nil {
		v := map[string]any{"type": "object"}
		return document.NewLazyDocument(&v)
	}
	return document.NewLazyDocument(&schema)
}

func decodeDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return nil
	}
	return json.RawMessage(data)
}

func ptrValue[T ~int32 | ~int64](ptr *T) T {
	if ptr == nil {
		return 0
	}
	return *ptr
}
