package session

import (
	"time"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

// Command is a state transition request. The set understood by Reduce is
// closed; any other implementation is ignored.
type Command interface {
	CommandType() string
}

type AddMessage struct{ Message chat.Message }

type UpdateMessage struct {
	ID    string
	Patch chat.MessagePatch
}

type DeleteMessage struct{ ID string }

type SetMessages struct{ Messages []chat.Message }

type AddAttachment struct{ Attachment chat.Attachment }

type RemoveAttachment struct{ ID string }

type SetAttachments struct{ Attachments []chat.Attachment }

type UpdateSettings struct{ Patch chat.SettingsPatch }

type SetLoading struct{ Loading bool }

type SetConnected struct{ Connected bool }

type SetStreamingBuffer struct{ Text string }

// SetError sets or clears the session error. A non-nil message also counts
// towards Metrics.ErrorCount.
type SetError struct{ Message *string }

type UpdateMetrics struct{ Patch chat.MetricsPatch }

// SelectThread points the session at a thread; nil clears the selection.
type SelectThread struct{ ID *string }

type AddThread struct{ Thread chat.Thread }

type UpdateThread struct {
	ID    string
	Patch chat.ThreadPatch
}

type DeleteThread struct{ ID string }

// ClearChat empties the conversation but keeps settings, metrics and threads.
type ClearChat struct{}

// ResetState returns to the initial state, keeping settings and threads.
// At becomes the new session start time.
type ResetState struct{ At time.Time }

func (AddMessage) CommandType() string         { return "ADD_MESSAGE" }
func (UpdateMessage) CommandType() string      { return "UPDATE_MESSAGE" }
func (DeleteMessage) CommandType() string      { return "DELETE_MESSAGE" }
func (SetMessages) CommandType() string        { return "SET_MESSAGES" }
func (AddAttachment) CommandType() string      { return "ADD_ATTACHMENT" }
func (RemoveAttachment) CommandType() string   { return "REMOVE_ATTACHMENT" }
func (SetAttachments) CommandType() string     { return "SET_ATTACHMENTS" }
func (UpdateSettings) CommandType() string     { return "UPDATE_SETTINGS" }
func (SetLoading) CommandType() string         { return "SET_LOADING" }
func (SetConnected) CommandType() string       { return "SET_CONNECTED" }
func (SetStreamingBuffer) CommandType() string { return "SET_STREAMING_BUFFER" }
func (SetError) CommandType() string           { return "SET_ERROR" }
func (UpdateMetrics) CommandType() string      { return "UPDATE_METRICS" }
func (SelectThread) CommandType() string       { return "SELECT_THREAD" }
func (AddThread) CommandType() string          { return "ADD_THREAD" }
func (UpdateThread) CommandType() string       { return "UPDATE_THREAD" }
func (DeleteThread) CommandType() string       { return "DELETE_THREAD" }
func (ClearChat) CommandType() string          { return "CLEAR_CHAT" }
func (ResetState) CommandType() string         { return "RESET_STATE" }

// ErrorText is a helper for building SetError commands from a string.
func ErrorText(msg string) SetError {
	return SetError{Message: &msg}
}

// ClearError clears the session error.
func ClearError() SetError {
	return SetError{}
}
