// Package controller orchestrates user intents against a session store and
// a completion gateway. It is the only writer of side-effect commands.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
	"github.com/zhouzirui/z-chat/backend/internal/service/persistence"
	"github.com/zhouzirui/z-chat/backend/internal/service/session"
	"github.com/zhouzirui/z-chat/backend/internal/service/stream"
	"github.com/zhouzirui/z-chat/backend/internal/service/tools"
	"github.com/zhouzirui/z-chat/backend/internal/service/transport"
)

var (
	ErrEmptyMessage    = errors.New("message content or attachment required")
	ErrSendInProgress  = errors.New("a message is already being sent")
	ErrMessageNotFound = errors.New("message not found")
	ErrThreadNotFound  = errors.New("thread not found")
	ErrInvalidImport   = errors.New("invalid import blob")
)

// Validation failure reasons.
const (
	ReasonTooLarge        = "too_large"
	ReasonUnsupportedKind = "unsupported_kind"
	ReasonMissingName     = "missing_name"
)

// ValidationError rejects an input before it reaches the store.
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Reason, e.Detail)
}

// DefaultMaxAttachmentBytes is the per-file upload limit.
const DefaultMaxAttachmentBytes int64 = 10 << 20

// Options tunes a Controller.
type Options struct {
	MaxAttachmentBytes int64
	CompletionTimeout  time.Duration
}

// DefaultOptions returns the standard limits.
func DefaultOptions() Options {
	return Options{
		MaxAttachmentBytes: DefaultMaxAttachmentBytes,
		CompletionTimeout:  60 * time.Second,
	}
}

// Deps are the collaborators injected at construction.
type Deps struct {
	Store       session.Dispatcher
	Gateway     ai.Gateway
	Assembler   *stream.Assembler
	Tools       *tools.Registry
	Persistence *persistence.Adapter
	Logger      *zap.Logger
}

type inflight struct {
	messageID string
	cancel    context.CancelFunc
}

// Controller drives one session.
type Controller struct {
	store     session.Dispatcher
	gateway   ai.Gateway
	assembler *stream.Assembler
	tools     *tools.Registry
	persist   *persistence.Adapter
	logger    *zap.Logger
	opts      Options

	now   func() time.Time
	newID func() string

	sending *semaphore.Weighted

	mu        sync.Mutex
	current   *inflight
	cancelled map[string]bool
	detach    []func()
}

// New wires a controller. A nil Assembler gets one bound to Store.
func New(deps Deps, opts Options) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxAttachmentBytes <= 0 {
		opts.MaxAttachmentBytes = DefaultMaxAttachmentBytes
	}

	assembler := deps.Assembler
	if assembler == nil {
		assembler = stream.NewAssembler(deps.Store, logger)
	}

	return &Controller{
		store:     deps.Store,
		gateway:   deps.Gateway,
		assembler: assembler,
		tools:     deps.Tools,
		persist:   deps.Persistence,
		logger:    logger.With(zap.String("component", "controller")),
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		sending:   semaphore.NewWeighted(1),
		cancelled: make(map[string]bool),
	}
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() session.State {
	return c.store.Snapshot()
}

// Busy reports whether a send is in flight.
func (c *Controller) Busy() bool {
	if c.sending.TryAcquire(1) {
		c.sending.Release(1)
		return false
	}
	return true
}

// Hydrate restores persisted settings and threads. Missing or unreadable
// blobs leave the defaults in place; keys absent from a stored settings blob
// keep their current values.
func (c *Controller) Hydrate(ctx context.Context) {
	var cmds []session.Command

	var settings chat.SettingsPatch
	if c.persist.Load(ctx, persistence.KeySettings, &settings) {
		cmds = append(cmds, session.UpdateSettings{Patch: settings})
	}

	var threads []chat.Thread
	if c.persist.Load(ctx, persistence.KeyThreads, &threads) {
		snap := c.store.Snapshot()
		for _, thread := range threads {
			if thread.ID == "" {
				continue
			}
			if _, exists := snap.FindThread(thread.ID); exists {
				continue
			}
			cmds = append(cmds, session.AddThread{Thread: thread})
		}
	}

	if len(cmds) > 0 {
		c.store.Dispatch(cmds...)
		c.logger.Debug("session hydrated", zap.Int("commands", len(cmds)))
	}
}

// Transport is the part of a transport channel the controller listens to.
type Transport interface {
	stream.EventSource
	State() transport.State
	OnState(handler func(transport.State)) func()
}

// BindTransport mirrors the channel's connectivity into the store and feeds
// its stream frames to the assembler.
func (c *Controller) BindTransport(ch Transport) {
	c.store.Dispatch(session.SetConnected{Connected: ch.State() == transport.StateConnected})

	offState := ch.OnState(func(state transport.State) {
		c.store.Dispatch(session.SetConnected{Connected: state == transport.StateConnected})
		if state != transport.StateConnected && c.assembler.Abort("") {
			c.logger.Warn("stream aborted by connection loss")
		}
	})
	offStream := c.assembler.Attach(ch)

	c.mu.Lock()
	c.detach = append(c.detach, offState, offStream)
	c.mu.Unlock()
}

// Close cancels any in-flight completion and detaches transport listeners.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.current != nil {
		c.cancelled[c.current.messageID] = true
		c.current.cancel()
	}
	detach := c.detach
	c.detach = nil
	c.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
	c.assembler.Abort("")
}
