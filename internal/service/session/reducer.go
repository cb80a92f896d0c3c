package session

import "github.com/zhouzirui/z-chat/backend/internal/model/chat"

// Reduce applies cmd to state and returns the next state. It never panics on
// well-formed commands; unknown commands return state unchanged.
func Reduce(state State, cmd Command) State {
	switch c := cmd.(type) {
	case AddMessage:
		msg := cloneMessage(c.Message)
		state.Messages = appendCopy(state.Messages, msg)
		metrics := state.Metrics
		metrics.TotalMessages++
		if msg.Metadata != nil {
			metrics.TotalTokens += msg.Metadata.Tokens
			metrics.TotalCost += msg.Metadata.Cost
		}
		state.Metrics = metrics
		return state

	case UpdateMessage:
		idx := indexOfMessage(state.Messages, c.ID)
		if idx < 0 {
			return state
		}
		patch := c.Patch
		// 发送完成后正文只读，状态与元数据仍可更新
		if state.Messages[idx].Status != chat.StatusSending {
			patch.Content = nil
		}
		messages := append([]chat.Message(nil), state.Messages...)
		messages[idx] = patch.Apply(messages[idx])
		state.Messages = messages
		return state

	case DeleteMessage:
		if indexOfMessage(state.Messages, c.ID) < 0 {
			return state
		}
		messages := make([]chat.Message, 0, len(state.Messages)-1)
		for _, msg := range state.Messages {
			if msg.ID != c.ID {
				messages = append(messages, msg)
			}
		}
		state.Messages = messages
		return state

	case SetMessages:
		messages := make([]chat.Message, 0, len(c.Messages))
		for _, msg := range c.Messages {
			messages = append(messages, cloneMessage(msg))
		}
		state.Messages = messages
		return state

	case AddAttachment:
		state.Attachments = appendCopy(state.Attachments, c.Attachment)
		return state

	case RemoveAttachment:
		attachments := make([]chat.Attachment, 0, len(state.Attachments))
		for _, att := range state.Attachments {
			if att.ID != c.ID {
				attachments = append(attachments, att)
			}
		}
		state.Attachments = attachments
		return state

	case SetAttachments:
		state.Attachments = append([]chat.Attachment{}, c.Attachments...)
		return state

	case UpdateSettings:
		state.Settings = c.Patch.Apply(state.Settings)
		return state

	case SetLoading:
		state.IsLoading = c.Loading
		return state

	case SetConnected:
		state.IsConnected = c.Connected
		return state

	case SetStreamingBuffer:
		state.StreamingBuffer = c.Text
		return state

	case SetError:
		if c.Message == nil {
			state.Error = nil
			return state
		}
		msg := *c.Message
		state.Error = &msg
		state.Metrics.ErrorCount++
		return state

	case UpdateMetrics:
		state.Metrics = c.Patch.Apply(state.Metrics)
		return state

	case SelectThread:
		if c.ID == nil {
			state.SelectedThread = nil
			return state
		}
		id := *c.ID
		state.SelectedThread = &id
		return state

	case AddThread:
		thread := c.Thread
		thread.Tags = append([]string{}, c.Thread.Tags...)
		state.Threads = appendCopy(state.Threads, thread)
		return state

	case UpdateThread:
		threads := append([]chat.Thread(nil), state.Threads...)
		for i := range threads {
			if threads[i].ID == c.ID {
				threads[i] = c.Patch.Apply(threads[i])
				state.Threads = threads
				return state
			}
		}
		return state

	case DeleteThread:
		threads := make([]chat.Thread, 0, len(state.Threads))
		for _, thread := range state.Threads {
			if thread.ID != c.ID {
				threads = append(threads, thread)
			}
		}
		state.Threads = threads
		if state.SelectedThread != nil && *state.SelectedThread == c.ID {
			state.SelectedThread = nil
		}
		return state

	case ClearChat:
		state.Messages = []chat.Message{}
		state.Attachments = []chat.Attachment{}
		state.StreamingBuffer = ""
		state.Error = nil
		return state

	case ResetState:
		next := NewState(state.Settings, c.At)
		next.Threads = state.Threads
		next.IsConnected = state.IsConnected
		return next

	default:
		return state
	}
}

// Known reports whether Reduce understands cmd.
func Known(cmd Command) bool {
	switch cmd.(type) {
	case AddMessage, UpdateMessage, DeleteMessage, SetMessages,
		AddAttachment, RemoveAttachment, SetAttachments,
		UpdateSettings, SetLoading, SetConnected, SetStreamingBuffer,
		SetError, UpdateMetrics,
		SelectThread, AddThread, UpdateThread, DeleteThread,
		ClearChat, ResetState:
		return true
	}
	return false
}

func indexOfMessage(messages []chat.Message, id string) int {
	for i, msg := range messages {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

func cloneMessage(msg chat.Message) chat.Message {
	msg.Metadata = msg.Metadata.Clone()
	return msg
}

// appendCopy appends to a fresh backing array so earlier snapshots never see
// the new element.
func appendCopy[T any](items []T, item T) []T {
	out := make([]T, len(items), len(items)+1)
	copy(out, items)
	return append(out, item)
}
