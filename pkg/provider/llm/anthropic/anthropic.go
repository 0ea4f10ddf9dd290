// Package anthropic provides an LLM provider backed by the Anthropic Messages
// API. The `llm` and `llm_backup` provider entries of the configuration
// decide whether it serves as the primary or the backup LLM.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	ant "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hellosales/coachkernel/pkg/provider/llm"
)

// Provider implements llm.Provider using the Anthropic Messages API.
type Provider struct {
	client ant.Client
	model  string
}

// New constructs a new Anthropic LLM Provider.
func New(apiKey string, model string, opts ...option.RequestOption) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anthropic: model must not be empty")
	}

	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := ant.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params := p.buildParams(req)

	stream := p.client.Messages.NewStreaming(ctx, params)

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)

		toolCallAccum := map[int]*llm.ToolCall{}
		var argBuf map[int]*strings.Builder = map[int]*strings.Builder{}

		for stream.Next() {
			event := stream.Current()

			switch variant := event.AsAny().(type) {
			case ant.ContentBlockStartEvent:
				if variant.ContentBlock.Type == "tool_use" {
					toolCallAccum[int(variant.Index)] = &llm.ToolCall{
						ID:   variant.ContentBlock.ID,
						Name: variant.ContentBlock.Name,
					}
					argBuf[int(variant.Index)] = &strings.Builder{}
				}

			case ant.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case ant.TextDelta:
					select {
					case ch <- llm.Chunk{Text: delta.Text}:
					case <-ctx.Done():
						return
					}
				case ant.InputJSONDelta:
					if b, ok := argBuf[int(variant.Index)]; ok {
						b.WriteString(delta.PartialJSON)
					}
				}

			case ant.ContentBlockStopEvent:
				if tc, ok := toolCallAccum[int(variant.Index)]; ok {
					if b, ok := argBuf[int(variant.Index)]; ok {
						tc.Arguments = b.String()
					}
				}

			case ant.MessageDeltaEvent:
				finish := mapStopReason(string(variant.Delta.StopReason))
				if finish == "" {
					continue
				}
				out := llm.Chunk{FinishReason: finish}
				for i := 0; i < len(toolCallAccum); i++ {
					if tc, ok := toolCallAccum[i]; ok {
						out.ToolCalls = append(out.ToolCalls, *tc)
					}
				}
				select {
				case ch <- out:
				case <-ctx.Done():
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params := p.buildParams(req)

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: message: %w", err)
	}

	result := &llm.CompletionResponse{
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case ant.TextBlock:
			result.Content += variant.Text
		case ant.ToolUseBlock:
			result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: string(variant.Input),
			})
		}
	}
	return result, nil
}

// CountTokens implements llm.Provider.
// TODO: use the Messages.CountTokens endpoint instead of this approximation.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

func modelCapabilities(model string) llm.ModelCapabilities {
	caps := llm.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		SupportsVision:      true,
		ContextWindow:       200_000,
		MaxOutputTokens:     8_192,
	}

	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "claude-3-opus"):
		caps.MaxOutputTokens = 4_096
	case strings.Contains(lower, "claude-3-haiku"):
		caps.SupportsVision = true
	}
	return caps
}

// buildParams converts a CompletionRequest into Anthropic SDK params.
func (p *Provider) buildParams(req llm.CompletionRequest) ant.MessageNewParams {
	var messages []ant.MessageParam

	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4_096
	}

	params := ant.MessageNewParams{
		Model:     ant.Model(p.model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}

	if req.SystemPrompt != "" {
		block := ant.TextBlockParam{Text: req.SystemPrompt}
		// A cache key requests the backend cache the system prompt / static
		// prefix across turns of the same conversation (see CompletionRequest.CacheKey).
		if req.CacheKey != "" {
			block.CacheControl = ant.CacheControlEphemeralParam{Type: "ephemeral"}
		}
		params.System = []ant.TextBlockParam{block}
	}

	if req.Temperature != 0 {
		params.Temperature = ant.Float(req.Temperature)
	}

	for _, td := range req.Tools {
		params.Tools = append(params.Tools, ant.ToolUnionParam{
			OfTool: &ant.ToolParam{
				Name:        td.Name,
				Description: ant.String(td.Description),
				InputSchema: ant.ToolInputSchemaParam{Properties: td.Parameters},
			},
		})
	}

	return params
}

func convertMessage(m llm.Message) ant.MessageParam {
	role := ant.MessageParamRoleUser
	if m.Role == "assistant" {
		role = ant.MessageParamRoleAssistant
	}

	blocks := []ant.ContentBlockParamUnion{}
	if m.Content != "" {
		blocks = append(blocks, ant.NewTextBlock(m.Content))
	}
	for _, tc := range m.ToolCalls {
		blocks = append(blocks, ant.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
	}
	if m.Role == "tool" {
		blocks = append(blocks, ant.NewToolResultBlock(m.ToolCallID, m.Content, false))
	}

	return ant.MessageParam{Role: role, Content: blocks}
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return ""
	}
}
