package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

type geminiClient struct {
	client *genai.Client
	model  string
}

// newGeminiClient creates an AgentClient using the Gemini API.
func newGeminiClient(cfg Config) (AgentClient, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	return &geminiClient{
		client: client,
		model:  model,
	}, nil
}

func (c *geminiClient) ChatWithTools(ctx context.Context, req AgentRequest) (*AgentResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	system, contents := c.convertMessages(req.Messages)

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if len(req.Tools) > 0 {
		config.Tools = c.convertTools(req.Tools)
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini chat with tools: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	result := &AgentResponse{
		FinishReason: c.mapFinishReason(candidate.FinishReason),
	}
	if resp.UsageMetadata != nil {
		result.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			result.Content += part.Text
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return nil, fmt.Errorf("marshal function call args: %w", err)
			}
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        part.FunctionCall.ID,
				Name:      part.FunctionCall.Name,
				Arguments: string(args),
			})
		}
	}
	if len(result.ToolCalls) > 0 {
		result.FinishReason = "tool_calls"
	}

	slog.DebugContext(ctx, "agent chat completed",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", result.PromptTokens,
		"completion_tokens", result.CompletionTokens,
		"finish_reason", result.FinishReason)

	return result, nil
}

func (c *geminiClient) Model() string {
	return c.model
}

// mapFinishReason converts a Gemini finish reason to the AgentResponse
// vocabulary ("stop", "tool_calls", "length"). Tool calls are detected from
// the response parts by the caller, so only stop and length map here.
func (c *geminiClient) mapFinishReason(reason genai.FinishReason) string {
	switch reason {
	case genai.FinishReasonStop:
		return "stop"
	case genai.FinishReasonMaxTokens:
		return "length"
	default:
		return string(reason)
	}
}

// convertMessages extracts system content and converts messages to Gemini format.
// Gemini takes the system prompt as a separate instruction and uses the
// "model" role for assistant turns.
func (c *geminiClient) convertMessages(msgs []Message) (string, []*genai.Content) {
	var system string
	contents := make([]*genai.Content, 0, len(msgs))

	for _, msg := range msgs {
		switch msg.Role {
		case "system":
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content

		case "user", "tool":
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Content}},
			})

		case "assistant":
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}

	return system, contents
}

func (c *geminiClient) convertTools(tools []Tool) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))

	for i, t := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGeminiSchema(t.Parameters),
		}
	}

	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// jsonSchema is the subset of JSON Schema the tool definitions use.
type jsonSchemaNode struct {
	Type        string                     `json:"type"`
	Description string                     `json:"description"`
	Properties  map[string]*jsonSchemaNode `json:"properties"`
	Items       *jsonSchemaNode            `json:"items"`
	Required    []string                   `json:"required"`
	Enum        []string                   `json:"enum"`
}

// toGeminiSchema converts a JSON Schema value (as produced by
// GenerateSchemaFrom) into the genai schema type, which spells types in
// upper case.
func toGeminiSchema(v any) *genai.Schema {
	if v == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var node jsonSchemaNode
	if err := json.Unmarshal(data, &node); err != nil {
		return nil
	}
	return schemaFromNode(&node)
}

func schemaFromNode(node *jsonSchemaNode) *genai.Schema {
	if node == nil {
		return nil
	}

	schema := &genai.Schema{
		Description: node.Description,
		Required:    node.Required,
		Enum:        node.Enum,
	}

	switch node.Type {
	case "object":
		schema.Type = genai.TypeObject
	case "array":
		schema.Type = genai.TypeArray
	case "string":
		schema.Type = genai.TypeString
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	}

	if len(node.Properties) > 0 {
		schema.Properties = make(map[string]*genai.Schema, len(node.Properties))
		for name, prop := range node.Properties {
			schema.Properties[name] = schemaFromNode(prop)
		}
	}
	if node.Items != nil {
		schema.Items = schemaFromNode(node.Items)
	}

	return schema
}
