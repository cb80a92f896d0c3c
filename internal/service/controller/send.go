package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
	"github.com/zhouzirui/z-chat/backend/internal/service/persistence"
	"github.com/zhouzirui/z-chat/backend/internal/service/session"
)

const threadPreviewRunes = 100

// SendMessage submits a user turn and waits for the completion. A nil
// attachments slice sends the pending composition. Completion failures are
// recorded on the message and in the session error; only precondition and
// validation failures are returned.
func (c *Controller) SendMessage(ctx context.Context, content string, attachments []chat.Attachment) error {
	return c.send(ctx, content, attachments, true)
}

// RetryMessage resends the content and attachments of a previous user
// message as a new message. Unknown ids and non-user messages are ignored.
func (c *Controller) RetryMessage(ctx context.Context, id string) error {
	msg, ok := c.store.Snapshot().FindMessage(id)
	if !ok || msg.Role != chat.RoleUser {
		return nil
	}

	var attachments []chat.Attachment
	if msg.Metadata != nil {
		attachments = chat.CloneAttachments(msg.Metadata.Attachments)
	}
	return c.send(ctx, msg.Content, attachments, false)
}

// CancelMessage marks a message cancelled. When it is the message being sent
// the completion call is aborted and any late result is discarded.
func (c *Controller) CancelMessage(id string) error {
	if _, ok := c.store.Snapshot().FindMessage(id); !ok {
		return ErrMessageNotFound
	}

	var cancel func()
	c.mu.Lock()
	if c.current != nil && c.current.messageID == id {
		c.cancelled[id] = true
		cancel = c.current.cancel
	}
	c.mu.Unlock()

	c.store.Dispatch(session.UpdateMessage{ID: id, Patch: chat.StatusPatch(chat.StatusCancelled)})
	if cancel != nil {
		cancel()
		c.assembler.Abort("")
		c.logger.Info("in-flight completion cancelled", zap.String("message_id", id))
	}
	return nil
}

func (c *Controller) send(ctx context.Context, content string, attachments []chat.Attachment, fromComposer bool) error {
	if fromComposer && attachments == nil {
		attachments = c.store.Snapshot().Attachments
	}
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return ErrEmptyMessage
	}
	attachments, err := c.validateAttachments(attachments)
	if err != nil {
		return err
	}
	if !c.sending.TryAcquire(1) {
		return ErrSendInProgress
	}
	defer c.sending.Release(1)

	before := c.store.Snapshot()
	userMsg := chat.Message{
		ID:        c.newID(),
		Role:      chat.RoleUser,
		Content:   content,
		Timestamp: c.now(),
		Status:    chat.StatusSending,
	}
	if len(attachments) > 0 {
		userMsg.Metadata = &chat.Metadata{Attachments: chat.CloneAttachments(attachments)}
	}

	cmds := []session.Command{session.AddMessage{Message: userMsg}, session.SetLoading{Loading: true}}
	if fromComposer {
		cmds = append(cmds, session.SetAttachments{})
	}
	c.store.Dispatch(cmds...)

	callCtx, cancel := c.completionContext(ctx)
	c.mu.Lock()
	c.current = &inflight{messageID: userMsg.ID, cancel: cancel}
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		c.current = nil
		delete(c.cancelled, userMsg.ID)
		c.mu.Unlock()
	}()

	req := c.buildRequest(before, content)
	start := time.Now()
	resp, err := c.complete(callCtx, req, start)
	elapsed := time.Since(start)

	if c.wasCancelled(userMsg.ID) {
		c.store.Dispatch(session.SetLoading{Loading: false}, session.SetStreamingBuffer{Text: ""})
		c.logger.Debug("discarding result of cancelled message", zap.String("message_id", userMsg.ID))
		return nil
	}

	if err != nil {
		reason := c.failureReason(err)
		c.logger.Warn("completion failed", zap.String("message_id", userMsg.ID), zap.Error(err))
		c.store.Dispatch(
			session.ErrorText(reason),
			session.UpdateMessage{ID: userMsg.ID, Patch: chat.ErrorPatch(reason)},
			session.SetLoading{Loading: false},
			session.SetStreamingBuffer{Text: ""},
		)
		return nil
	}

	success := []session.Command{
		session.UpdateMessage{ID: userMsg.ID, Patch: chat.StatusPatch(chat.StatusSent)},
	}
	if !resp.Streamed {
		success = append(success, session.AddMessage{Message: chat.Message{
			ID:        c.newID(),
			Role:      chat.RoleAssistant,
			Content:   resp.Content,
			Timestamp: c.now(),
			Status:    chat.StatusReceived,
			Metadata:  metadataFor(resp, elapsed),
		}})
	}
	success = append(success,
		session.UpdateMetrics{Patch: chat.CompletionMetrics(before.Metrics, elapsed, len(resp.ToolCalls))},
		session.SetLoading{Loading: false},
		session.SetStreamingBuffer{Text: ""},
	)
	after := c.store.Dispatch(success...)

	c.touchSelectedThread(ctx, after)
	c.logger.Info("completion finished",
		zap.String("message_id", userMsg.ID),
		zap.String("model", resp.Model),
		zap.Duration("elapsed", elapsed),
		zap.Bool("streamed", resp.Streamed))
	return nil
}

func (c *Controller) completionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.CompletionTimeout > 0 {
		return context.WithTimeout(ctx, c.opts.CompletionTimeout)
	}
	return context.WithCancel(ctx)
}

func (c *Controller) wasCancelled(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled[id]
}

func (c *Controller) buildRequest(before session.State, content string) ai.Request {
	settings := before.Settings

	turns := make([]ai.Turn, 0, len(before.Messages)+2)
	turns = append(turns, ai.Turn{Role: chat.RoleSystem, Content: settings.SystemPrompt})
	for _, msg := range before.Messages {
		if msg.Role == chat.RoleUser || msg.Role == chat.RoleAssistant {
			turns = append(turns, ai.Turn{Role: msg.Role, Content: msg.Content})
		}
	}
	turns = append(turns, ai.Turn{Role: chat.RoleUser, Content: content})

	req := ai.Request{
		Messages:    turns,
		Model:       settings.SelectedModel,
		Temperature: settings.Temperature,
		MaxTokens:   settings.MaxTokens,
		TopP:        settings.TopP,
		Stream:      settings.EnableStreaming,
	}
	if settings.EnableTools && c.tools != nil {
		req.Tools = c.tools.Names()
	}
	return req
}

func (c *Controller) complete(ctx context.Context, req ai.Request, start time.Time) (*ai.Response, error) {
	if c.gateway == nil {
		return nil, errors.New("no completion gateway configured")
	}
	if req.Stream {
		if sg, ok := c.gateway.(ai.StreamingGateway); ok {
			return c.streamCompletion(ctx, sg, req, start)
		}
	}
	return c.gateway.Complete(ctx, req)
}

// streamCompletion pipes provider chunks through the assembler so the
// assistant message is created by the assembler exactly once.
func (c *Controller) streamCompletion(ctx context.Context, sg ai.StreamingGateway, req ai.Request, start time.Time) (*ai.Response, error) {
	s, err := sg.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	c.assembler.Start(c.newID())
	for {
		fragment, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			c.assembler.Abort("")
			return nil, err
		}
		if ctx.Err() != nil {
			c.assembler.Abort("")
			return nil, ctx.Err()
		}
		c.assembler.Append(fragment)
	}

	resp := s.Response()
	if _, ok := c.assembler.End(metadataFor(resp, time.Since(start))); !ok && len(resp.ToolCalls) == 0 {
		return nil, ai.ErrEmptyResponse
	}
	return resp, nil
}

func (c *Controller) failureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("completion timed out after %s", c.opts.CompletionTimeout)
	}
	return err.Error()
}

// touchSelectedThread records the latest turn on the selected thread.
func (c *Controller) touchSelectedThread(ctx context.Context, state session.State) {
	if state.SelectedThread == nil {
		return
	}
	if _, ok := state.FindThread(*state.SelectedThread); !ok {
		return
	}

	count := len(state.Messages)
	preview := ""
	if n := len(state.Messages); n > 0 {
		preview = truncateRunes(state.Messages[n-1].Content, threadPreviewRunes)
	}
	updated := c.now()

	next := c.store.Dispatch(session.UpdateThread{ID: *state.SelectedThread, Patch: chat.ThreadPatch{
		MessageCount: &count,
		LastMessage:  &preview,
		UpdatedAt:    &updated,
	}})
	c.persist.Save(ctx, persistence.KeyThreads, next.Threads)
}

func metadataFor(resp *ai.Response, elapsed time.Duration) *chat.Metadata {
	meta := &chat.Metadata{
		Model:           resp.Model,
		ExecutionTimeMs: elapsed.Milliseconds(),
	}
	if resp.Usage != nil {
		meta.Tokens = resp.Usage.TotalTokens
	}
	if resp.Cost != nil {
		meta.Cost = *resp.Cost
	}
	for _, call := range resp.ToolCalls {
		meta.Tools = append(meta.Tools, call.Name)
	}
	return meta
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
