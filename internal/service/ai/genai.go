package ai

import (
	"context"
	"fmt"
	"iter"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

// contentGenerator is the subset of *genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// GenAIGateway serves completions from Gemini through google.golang.org/genai.
type GenAIGateway struct {
	models    contentGenerator
	model     string
	costPer1K float64
	logger    *zap.Logger
}

// GenAIConfig configures NewGenAIGateway.
type GenAIConfig struct {
	APIKey          string
	Model           string
	CostPer1KTokens float64
	Logger          *zap.Logger
}

// NewGenAIGateway creates a Gemini API client.
func NewGenAIGateway(ctx context.Context, cfg GenAIConfig) (*GenAIGateway, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("genai api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return newGenAIGateway(client.Models, cfg), nil
}

func newGenAIGateway(models contentGenerator, cfg GenAIConfig) *GenAIGateway {
	name := cfg.Model
	if name == "" {
		name = "gemini-2.5-flash"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenAIGateway{
		models:    models,
		model:     name,
		costPer1K: cfg.CostPer1KTokens,
		logger:    logger.With(zap.String("component", "ai.genai")),
	}
}

// Complete implements Gateway.
func (g *GenAIGateway) Complete(ctx context.Context, req Request) (*Response, error) {
	contents, config := g.build(req)

	res, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("genai generate content: %w", err)
	}

	msg := genaiMessage(res)
	if msg.Content == "" && len(msg.ToolCalls) == 0 {
		return nil, ErrEmptyResponse
	}
	g.logger.Debug("completion generated", zap.String("model", g.model), zap.Int("length", len(msg.Content)))
	return responseFromMessage(msg, g.model, g.costPer1K), nil
}

// Stream implements StreamingGateway.
func (g *GenAIGateway) Stream(ctx context.Context, req Request) (*Stream, error) {
	contents, config := g.build(req)
	seq := g.models.GenerateContentStream(ctx, g.model, contents, config)

	reader, writer := schema.Pipe[*schema.Message](8)
	go func() {
		defer writer.Close()
		for res, err := range seq {
			if err != nil {
				writer.Send(nil, fmt.Errorf("genai stream: %w", err))
				return
			}
			if closed := writer.Send(genaiMessage(res), nil); closed {
				return
			}
		}
	}()

	return NewStream(reader, func(msg *schema.Message) *Response {
		return responseFromMessage(msg, g.model, g.costPer1K)
	}), nil
}

func (g *GenAIGateway) build(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		config.Temperature = &temp
	}
	if req.TopP > 0 {
		topP := float32(req.TopP)
		config.TopP = &topP
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	var contents []*genai.Content
	for _, turn := range req.Messages {
		switch turn.Role {
		case chat.RoleSystem:
			if turn.Content != "" {
				config.SystemInstruction = genai.NewContentFromText(turn.Content, genai.RoleUser)
			}
		case chat.RoleUser:
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleUser))
		case chat.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleModel))
		}
	}
	return contents, config
}

// genaiMessage converts one response (or stream chunk) to an eino message so
// usage and tool calls flow through the shared mapping.
func genaiMessage(res *genai.GenerateContentResponse) *schema.Message {
	msg := schema.AssistantMessage("", nil)
	if res == nil {
		return msg
	}
	msg.Content = res.Text()

	for _, call := range res.FunctionCalls() {
		if call == nil {
			continue
		}
		msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
			Function: schema.FunctionCall{Name: call.Name},
		})
	}
	if res.UsageMetadata != nil {
		msg.ResponseMeta = &schema.ResponseMeta{
			Usage: &schema.TokenUsage{TotalTokens: int(res.UsageMetadata.TotalTokenCount)},
		}
	}
	return msg
}
