// Package ai wraps completion providers behind a single request/response
// contract. Gateways are stateless; session state stays in the controller.
package ai

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

var ErrEmptyResponse = errors.New("completion provider returned empty content")

// Turn is one history entry sent to the provider.
type Turn struct {
	Role    chat.Role `json:"role"`
	Content string    `json:"content"`
}

// Request describes a single completion call.
type Request struct {
	Messages    []Turn   `json:"messages"`
	Model       string   `json:"model"`
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"maxTokens"`
	TopP        float64  `json:"topP,omitempty"`
	Stream      bool     `json:"stream"`
	Tools       []string `json:"tools,omitempty"`
}

// Usage reports token consumption.
type Usage struct {
	TotalTokens int `json:"totalTokens"`
}

// ToolCall names a tool the provider invoked.
type ToolCall struct {
	Name string `json:"name"`
}

// Response is the provider's answer. Streamed is set when the content was
// already delivered as stream frames and must not be added again.
type Response struct {
	Content   string     `json:"content"`
	Model     string     `json:"model"`
	Usage     *Usage     `json:"usage,omitempty"`
	Cost      *float64   `json:"cost,omitempty"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	Streamed  bool       `json:"streamed,omitempty"`
}

// Gateway performs completion calls.
type Gateway interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// StreamingGateway additionally yields incremental content.
type StreamingGateway interface {
	Gateway
	Stream(ctx context.Context, req Request) (*Stream, error)
}

// Stream is an incremental completion. Recv returns io.EOF once the provider
// is done; Response is valid afterwards.
type Stream struct {
	reader *schema.StreamReader[*schema.Message]
	finish func(*schema.Message) *Response
	chunks []*schema.Message
	result *Response
}

// NewStream adapts an eino stream. finish converts the concatenated message
// into a Response.
func NewStream(reader *schema.StreamReader[*schema.Message], finish func(*schema.Message) *Response) *Stream {
	return &Stream{reader: reader, finish: finish}
}

// Recv returns the next non-empty content fragment.
func (s *Stream) Recv() (string, error) {
	for {
		chunk, err := s.reader.Recv()
		if errors.Is(err, io.EOF) {
			if s.result == nil {
				s.result = s.conclude()
			}
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if chunk == nil {
			continue
		}
		s.chunks = append(s.chunks, chunk)
		if chunk.Content != "" {
			return chunk.Content, nil
		}
	}
}

// Response returns the aggregated result, or nil before io.EOF.
func (s *Stream) Response() *Response {
	return s.result
}

// Close releases the underlying reader.
func (s *Stream) Close() {
	s.reader.Close()
}

func (s *Stream) conclude() *Response {
	var msg *schema.Message
	if len(s.chunks) > 0 {
		merged, err := schema.ConcatMessages(s.chunks)
		if err != nil {
			var b strings.Builder
			for _, c := range s.chunks {
				b.WriteString(c.Content)
			}
			merged = schema.AssistantMessage(b.String(), nil)
		}
		msg = merged
	} else {
		msg = schema.AssistantMessage("", nil)
	}
	resp := s.finish(msg)
	resp.Streamed = true
	return resp
}

// ToSchemaMessages converts history turns for eino models. Roles other than
// system, user and assistant are dropped.
func ToSchemaMessages(turns []Turn) []*schema.Message {
	out := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case chat.RoleSystem:
			if t.Content != "" {
				out = append(out, schema.SystemMessage(t.Content))
			}
		case chat.RoleUser:
			out = append(out, schema.UserMessage(t.Content))
		case chat.RoleAssistant:
			out = append(out, schema.AssistantMessage(t.Content, nil))
		}
	}
	return out
}

// responseFromMessage maps an eino message onto Response, pricing tokens with
// costPer1K when positive.
func responseFromMessage(msg *schema.Message, model string, costPer1K float64) *Response {
	resp := &Response{Content: msg.Content, Model: model}

	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		tokens := msg.ResponseMeta.Usage.TotalTokens
		resp.Usage = &Usage{TotalTokens: tokens}
		if costPer1K > 0 {
			cost := float64(tokens) / 1000 * costPer1K
			resp.Cost = &cost
		}
	}

	for _, call := range msg.ToolCalls {
		if call.Function.Name != "" {
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{Name: call.Function.Name})
		}
	}
	return resp
}
