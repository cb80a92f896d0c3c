package stream

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/session"
)

// Reserved transport events consumed by the assembler.
const (
	EventStart = "stream:start"
	EventData  = "stream:data"
	EventEnd   = "stream:end"
	EventError = "error"
)

// EventSource delivers named events with raw JSON payloads.
type EventSource interface {
	On(event string, handler func(payload json.RawMessage)) (unsubscribe func())
}

// StartPayload optionally names the message id the finalized reply will use.
type StartPayload struct {
	MessageID string `json:"messageId,omitempty"`
}

// DataPayload carries one fragment of assistant output.
type DataPayload struct {
	Content string `json:"content"`
}

// EndPayload carries the metadata attached to the finalized message.
type EndPayload struct {
	Metadata *chat.Metadata `json:"metadata,omitempty"`
}

// ErrorPayload is the body of a transport error event.
type ErrorPayload struct {
	Error string `json:"error"`
}

// Assembler folds start/data/end fragments into a single assistant message.
// Exactly one message is produced per start/end pair; an end without an
// active start is ignored.
type Assembler struct {
	mu        sync.Mutex
	store     session.Dispatcher
	logger    *zap.Logger
	now       func() time.Time
	active    bool
	messageID string
	buffer    strings.Builder
}

// NewAssembler creates an assembler that publishes into store.
func NewAssembler(store session.Dispatcher, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		store:  store,
		logger: logger.With(zap.String("component", "stream")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start begins a new accumulation. A start while another stream is active
// discards the unfinished buffer.
func (a *Assembler) Start(messageID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active {
		a.logger.Warn("stream restarted before end", zap.Int("discarded", a.buffer.Len()))
	}
	a.active = true
	a.messageID = messageID
	a.buffer.Reset()
	a.store.Dispatch(session.SetLoading{Loading: true}, session.SetStreamingBuffer{Text: ""})
}

// Append adds a fragment and publishes the live buffer. Fragments outside an
// active stream are dropped.
func (a *Assembler) Append(fragment string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active {
		a.logger.Debug("fragment without active stream dropped", zap.Int("size", len(fragment)))
		return
	}
	if fragment == "" {
		return
	}
	a.buffer.WriteString(fragment)
	a.store.Dispatch(session.SetStreamingBuffer{Text: a.buffer.String()})
}

// End finalizes the active stream. It returns the added message and true when
// the buffer held content.
func (a *Assembler) End(meta *chat.Metadata) (chat.Message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active {
		return chat.Message{}, false
	}

	content := a.buffer.String()
	id := a.messageID
	a.resetLocked()

	if content == "" {
		a.store.Dispatch(session.SetStreamingBuffer{Text: ""}, session.SetLoading{Loading: false})
		return chat.Message{}, false
	}

	if id == "" {
		id = uuid.NewString()
	}
	msg := chat.Message{
		ID:        id,
		Role:      chat.RoleAssistant,
		Content:   content,
		Timestamp: a.now(),
		Status:    chat.StatusReceived,
		Metadata:  meta.Clone(),
	}
	a.store.Dispatch(
		session.AddMessage{Message: msg},
		session.SetStreamingBuffer{Text: ""},
		session.SetLoading{Loading: false},
	)
	a.logger.Debug("stream finalized", zap.String("message_id", id), zap.Int("length", len(content)))
	return msg, true
}

// Abort drops the active stream without producing a message. A non-empty
// reason is surfaced as the session error.
func (a *Assembler) Abort(reason string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active {
		return false
	}
	a.resetLocked()

	cmds := []session.Command{session.SetStreamingBuffer{Text: ""}, session.SetLoading{Loading: false}}
	if reason != "" {
		cmds = append(cmds, session.ErrorText(reason))
	}
	a.store.Dispatch(cmds...)
	return true
}

// Active reports whether a stream is being accumulated.
func (a *Assembler) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Attach subscribes the assembler to the reserved stream events of src.
func (a *Assembler) Attach(src EventSource) (detach func()) {
	unsubs := []func(){
		src.On(EventStart, func(raw json.RawMessage) {
			var payload StartPayload
			decode(raw, &payload)
			a.Start(payload.MessageID)
		}),
		src.On(EventData, func(raw json.RawMessage) {
			var payload DataPayload
			if err := json.Unmarshal(raw, &payload); err != nil {
				a.logger.Warn("invalid stream:data payload", zap.Error(err))
				return
			}
			a.Append(payload.Content)
		}),
		src.On(EventEnd, func(raw json.RawMessage) {
			var payload EndPayload
			decode(raw, &payload)
			a.End(payload.Metadata)
		}),
		src.On(EventError, func(raw json.RawMessage) {
			var payload ErrorPayload
			decode(raw, &payload)
			if a.Abort(payload.Error) {
				a.logger.Warn("stream aborted by transport error", zap.String("error", payload.Error))
			}
		}),
	}

	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func (a *Assembler) resetLocked() {
	a.active = false
	a.messageID = ""
	a.buffer.Reset()
}

// decode tolerates empty and malformed optional payloads.
func decode(raw json.RawMessage, dst any) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, dst)
}
