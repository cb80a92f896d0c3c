package ai

import (
	"context"
	"encoding/json"
	"fmt"
)

// EventComplete is the transport event served by the completion peer.
const EventComplete = "chat:complete"

// Sender is the acknowledged send of a transport channel.
type Sender interface {
	Send(ctx context.Context, event string, payload any) (json.RawMessage, error)
}

// RemoteGateway forwards completions to a peer over the transport channel.
// When the request asks for streaming the peer emits stream frames before
// acknowledging, so the returned Response is marked Streamed.
type RemoteGateway struct {
	sender Sender
}

// NewRemoteGateway 基于传输通道创建远程网关。
func NewRemoteGateway(sender Sender) *RemoteGateway {
	return &RemoteGateway{sender: sender}
}

// Complete implements Gateway.
func (g *RemoteGateway) Complete(ctx context.Context, req Request) (*Response, error) {
	raw, err := g.sender.Send(ctx, EventComplete, req)
	if err != nil {
		return nil, fmt.Errorf("remote completion: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode remote completion: %w", err)
	}
	if !resp.Streamed && resp.Content == "" && len(resp.ToolCalls) == 0 {
		return nil, ErrEmptyResponse
	}
	return &resp, nil
}
