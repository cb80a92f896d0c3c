package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/persistence"
	"github.com/zhouzirui/z-chat/backend/internal/service/session"
)

// UpdateSettings merges patch into the session settings and persists them.
func (c *Controller) UpdateSettings(ctx context.Context, patch chat.SettingsPatch) chat.Settings {
	state := c.store.Dispatch(session.UpdateSettings{Patch: patch})
	c.persist.Save(ctx, persistence.KeySettings, state.Settings)
	return state.Settings
}

// OverrideSettings 仅对当前进程生效，不写入持久化
func (c *Controller) OverrideSettings(patch chat.SettingsPatch) chat.Settings {
	return c.store.Dispatch(session.UpdateSettings{Patch: patch}).Settings
}

// DeleteMessage removes a message by id.
func (c *Controller) DeleteMessage(id string) error {
	if _, ok := c.store.Snapshot().FindMessage(id); !ok {
		return ErrMessageNotFound
	}
	c.store.Dispatch(session.DeleteMessage{ID: id})
	return nil
}

// ClearChat empties the conversation but keeps settings, metrics and threads.
func (c *Controller) ClearChat() {
	c.store.Dispatch(session.ClearChat{})
}

// ResetSession resets everything except settings and threads.
func (c *Controller) ResetSession() {
	c.assembler.Abort("")
	c.store.Dispatch(session.ResetState{At: c.now()})
}

// ExportSession serializes messages, settings and metrics.
func (c *Controller) ExportSession() (string, error) {
	state := c.store.Snapshot()
	blob := chat.ExportBlob{
		Messages:   state.Messages,
		Settings:   state.Settings,
		Metrics:    state.Metrics,
		ExportedAt: c.now(),
	}
	data, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}
	return string(data), nil
}

// ImportSession replaces the conversation with blob. The blob is validated in
// full before anything is applied; a rejected blob only sets the session
// error.
func (c *Controller) ImportSession(ctx context.Context, blob string) error {
	cmds, reason := c.parseImport(blob)
	if reason != "" {
		c.store.Dispatch(session.ErrorText("Import failed: " + reason))
		return fmt.Errorf("%w: %s", ErrInvalidImport, reason)
	}

	state := c.store.Dispatch(cmds...)
	c.persist.Save(ctx, persistence.KeySettings, state.Settings)
	return nil
}

func (c *Controller) parseImport(blob string) ([]session.Command, string) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(blob), &fields); err != nil || fields == nil {
		return nil, "blob is not a JSON object"
	}

	rawMessages, ok := fields["messages"]
	if !ok || !bytes.HasPrefix(bytes.TrimSpace(rawMessages), []byte("[")) {
		return nil, "messages must be a list"
	}
	var messages []chat.Message
	if err := json.Unmarshal(rawMessages, &messages); err != nil {
		return nil, fmt.Sprintf("messages are malformed: %v", err)
	}
	for i, msg := range messages {
		if msg.ID == "" {
			return nil, fmt.Sprintf("message %d has no id", i)
		}
		if !msg.Role.Valid() {
			return nil, fmt.Sprintf("message %s has unknown role %q", msg.ID, msg.Role)
		}
		if msg.Status != "" && !msg.Status.Valid() {
			return nil, fmt.Sprintf("message %s has unknown status %q", msg.ID, msg.Status)
		}
	}

	cmds := []session.Command{session.SetMessages{Messages: messages}}

	if raw, ok := fields["settings"]; ok && !isNull(raw) {
		var patch chat.SettingsPatch
		if err := json.Unmarshal(raw, &patch); err != nil {
			return nil, fmt.Sprintf("settings are malformed: %v", err)
		}
		cmds = append(cmds, session.UpdateSettings{Patch: patch})
	}
	if raw, ok := fields["metrics"]; ok && !isNull(raw) {
		var patch chat.MetricsPatch
		if err := json.Unmarshal(raw, &patch); err != nil {
			return nil, fmt.Sprintf("metrics are malformed: %v", err)
		}
		cmds = append(cmds, session.UpdateMetrics{Patch: patch})
	}

	return append(cmds, session.ClearError()), ""
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// CreateThread adds a thread and selects it. An empty title becomes
// "Chat N" where N follows the current thread count.
func (c *Controller) CreateThread(ctx context.Context, title string) chat.Thread {
	snap := c.store.Snapshot()
	if title == "" {
		title = fmt.Sprintf("Chat %d", len(snap.Threads)+1)
	}

	now := c.now()
	thread := chat.Thread{
		ID:        c.newID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Tags:      []string{},
	}
	id := thread.ID
	state := c.store.Dispatch(session.AddThread{Thread: thread}, session.SelectThread{ID: &id})
	c.persist.Save(ctx, persistence.KeyThreads, state.Threads)
	return thread
}

// SelectThread selects a thread, or clears the selection when id is nil.
func (c *Controller) SelectThread(id *string) error {
	if id != nil {
		if _, ok := c.store.Snapshot().FindThread(*id); !ok {
			return ErrThreadNotFound
		}
	}
	c.store.Dispatch(session.SelectThread{ID: id})
	return nil
}

// DeleteThread removes a thread; deleting the selected one clears selection.
func (c *Controller) DeleteThread(ctx context.Context, id string) error {
	if _, ok := c.store.Snapshot().FindThread(id); !ok {
		return ErrThreadNotFound
	}
	state := c.store.Dispatch(session.DeleteThread{ID: id})
	c.persist.Save(ctx, persistence.KeyThreads, state.Threads)
	return nil
}
