package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-chat/backend/internal/service/tools"
)

// EinoGateway serves completions from an eino ChatModel (Ark in production).
type EinoGateway struct {
	chatModel    model.ChatModel
	tools        *tools.Registry
	defaultModel string
	override     bool
	costPer1K    float64
	logger       *zap.Logger
}

// EinoOption customises an EinoGateway.
type EinoOption func(*EinoGateway)

// WithToolRegistry resolves Request.Tools against registry.
func WithToolRegistry(registry *tools.Registry) EinoOption {
	return func(g *EinoGateway) { g.tools = registry }
}

// WithDefaultModel is reported when a request names no model.
func WithDefaultModel(name string) EinoOption {
	return func(g *EinoGateway) { g.defaultModel = name }
}

// WithModelOverride forwards Request.Model to the provider. Without it the
// model bound at construction is always used.
func WithModelOverride() EinoOption {
	return func(g *EinoGateway) { g.override = true }
}

// WithCostPer1KTokens prices reported token usage.
func WithCostPer1KTokens(rate float64) EinoOption {
	return func(g *EinoGateway) { g.costPer1K = rate }
}

// WithLogger 设置日志记录器。
func WithLogger(logger *zap.Logger) EinoOption {
	return func(g *EinoGateway) { g.logger = logger }
}

// NewEinoGateway wraps chatModel.
func NewEinoGateway(chatModel model.ChatModel, opts ...EinoOption) *EinoGateway {
	g := &EinoGateway{chatModel: chatModel, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(zap.String("component", "ai.eino"))
	return g
}

// Complete implements Gateway.
func (g *EinoGateway) Complete(ctx context.Context, req Request) (*Response, error) {
	msg, err := g.chatModel.Generate(ctx, ToSchemaMessages(req.Messages), g.options(req)...)
	if err != nil {
		return nil, fmt.Errorf("failed to generate completion: %w", err)
	}
	if msg == nil || (msg.Content == "" && len(msg.ToolCalls) == 0) {
		return nil, ErrEmptyResponse
	}

	resp := responseFromMessage(msg, g.modelName(req), g.costPer1K)
	g.logger.Debug("completion generated",
		zap.String("model", resp.Model),
		zap.Int("length", len(resp.Content)),
		zap.Int("tool_calls", len(resp.ToolCalls)))
	return resp, nil
}

// Stream implements StreamingGateway.
func (g *EinoGateway) Stream(ctx context.Context, req Request) (*Stream, error) {
	reader, err := g.chatModel.Stream(ctx, ToSchemaMessages(req.Messages), g.options(req)...)
	if err != nil {
		return nil, fmt.Errorf("failed to stream completion: %w", err)
	}

	name := g.modelName(req)
	return NewStream(reader, func(msg *schema.Message) *Response {
		return responseFromMessage(msg, name, g.costPer1K)
	}), nil
}

func (g *EinoGateway) options(req Request) []model.Option {
	opts := make([]model.Option, 0, 5)
	if g.override && req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}
	if req.Temperature > 0 {
		opts = append(opts, model.WithTemperature(float32(req.Temperature)))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	if req.TopP > 0 {
		opts = append(opts, model.WithTopP(float32(req.TopP)))
	}
	if g.tools != nil && len(req.Tools) > 0 {
		if infos := g.tools.Infos(req.Tools); len(infos) > 0 {
			opts = append(opts, model.WithTools(infos))
		}
	}
	return opts
}

func (g *EinoGateway) modelName(req Request) string {
	if (g.override || g.defaultModel == "") && req.Model != "" {
		return req.Model
	}
	return g.defaultModel
}
