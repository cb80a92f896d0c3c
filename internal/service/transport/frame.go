package transport

import "encoding/json"

// Reserved event names.
const (
	EventPing        = "ping"
	EventPong        = "pong"
	EventAck         = "ack"
	EventError       = "error"
	EventStreamStart = "stream:start"
	EventStreamData  = "stream:data"
	EventStreamEnd   = "stream:end"
)

// Frame is the JSON envelope exchanged over the socket. A frame with an ID
// asks the peer for an ack frame whose AckOf echoes that ID.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	ID      string          `json:"id,omitempty"`
	AckOf   string          `json:"ackOf,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// HeartbeatPayload is carried by ping and echoed by pong.
type HeartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// NewFrame marshals payload into a frame for event.
func NewFrame(event string, payload any) (Frame, error) {
	frame := Frame{Event: event}
	if payload == nil {
		return frame, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		frame.Payload = raw
		return frame, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	frame.Payload = data
	return frame, nil
}

// AckFrame builds the acknowledgment for request.
func AckFrame(request Frame, payload any, ackErr error) (Frame, error) {
	frame, err := NewFrame(EventAck, payload)
	if err != nil {
		return Frame{}, err
	}
	frame.AckOf = request.ID
	if ackErr != nil {
		frame.Error = ackErr.Error()
	}
	return frame, nil
}
