package chat

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleError     Role = "error"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleError:
		return true
	}
	return false
}

// Status tracks a message through its lifecycle.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusReceived  Status = "received"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSending, StatusSent, StatusReceived, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transition leaves s.
func (s Status) Terminal() bool {
	switch s {
	case StatusReceived, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Message is one conversational turn.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status,omitempty"`
	Metadata  *Metadata `json:"metadata,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Metadata carries optional per-message details reported by the completion provider.
type Metadata struct {
	Model           string       `json:"model,omitempty"`
	Tokens          int          `json:"tokens,omitempty"`
	Cost            float64      `json:"cost,omitempty"`
	ExecutionTimeMs int64        `json:"executionTime,omitempty"`
	Tools           []string     `json:"tools,omitempty"`
	Attachments     []Attachment `json:"attachments,omitempty"`
	Thinking        string       `json:"thinking,omitempty"`
}

// Clone returns a deep copy so callers never share slices with the store.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	out.Tools = append([]string(nil), m.Tools...)
	out.Attachments = CloneAttachments(m.Attachments)
	return &out
}

// MessagePatch is a partial update; nil fields are left untouched.
type MessagePatch struct {
	Content  *string   `json:"content,omitempty"`
	Status   *Status   `json:"status,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
	Error    *string   `json:"error,omitempty"`
}

// Apply merges the patch into a copy of msg.
func (p MessagePatch) Apply(msg Message) Message {
	if p.Content != nil {
		msg.Content = *p.Content
	}
	if p.Status != nil {
		msg.Status = *p.Status
	}
	if p.Metadata != nil {
		msg.Metadata = p.Metadata.Clone()
	}
	if p.Error != nil {
		msg.Error = *p.Error
	}
	return msg
}

// StatusPatch is shorthand for a patch that only moves the status.
func StatusPatch(status Status) MessagePatch {
	return MessagePatch{Status: &status}
}

// ErrorPatch moves a message to the error state with a human readable reason.
func ErrorPatch(reason string) MessagePatch {
	status := StatusError
	return MessagePatch{Status: &status, Error: &reason}
}
