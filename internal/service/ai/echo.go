package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// EchoGateway answers by quoting the latest user turn. It backs offline mode
// and tests.
type EchoGateway struct {
	Model string
}

// Complete implements Gateway.
func (g EchoGateway) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return responseFromMessage(g.reply(req), g.name(req), 0), nil
}

// Stream implements StreamingGateway, emitting the reply word by word.
func (g EchoGateway) Stream(ctx context.Context, req Request) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reply := g.reply(req)
	words := strings.SplitAfter(reply.Content, " ")
	chunks := make([]*schema.Message, 0, len(words)+1)
	for _, w := range words {
		chunks = append(chunks, schema.AssistantMessage(w, nil))
	}
	chunks = append(chunks, &schema.Message{Role: schema.Assistant, ResponseMeta: reply.ResponseMeta})

	name := g.name(req)
	return NewStream(schema.StreamReaderFromArray(chunks), func(msg *schema.Message) *Response {
		return responseFromMessage(msg, name, 0)
	}), nil
}

func (g EchoGateway) reply(req Request) *schema.Message {
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = req.Messages[i].Content
			break
		}
	}

	content := fmt.Sprintf("Echo: %s", last)
	msg := schema.AssistantMessage(content, nil)
	msg.ResponseMeta = &schema.ResponseMeta{
		Usage: &schema.TokenUsage{TotalTokens: len(strings.Fields(content))},
	}
	return msg
}

func (g EchoGateway) name(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	if g.Model != "" {
		return g.Model
	}
	return "echo"
}
