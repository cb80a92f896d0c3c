package chat

import "time"

// Thread is a named conversation container a session can be associated with.
type Thread struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
	LastMessage  string    `json:"lastMessage,omitempty"`
	Tags         []string  `json:"tags"`
}

// ThreadPatch is a partial thread update.
type ThreadPatch struct {
	Title        *string    `json:"title,omitempty"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
	MessageCount *int       `json:"messageCount,omitempty"`
	LastMessage  *string    `json:"lastMessage,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
}

// Apply merges the patch into a copy of t.
func (p ThreadPatch) Apply(t Thread) Thread {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.UpdatedAt != nil {
		t.UpdatedAt = *p.UpdatedAt
	}
	if p.MessageCount != nil {
		t.MessageCount = *p.MessageCount
	}
	if p.LastMessage != nil {
		t.LastMessage = *p.LastMessage
	}
	if p.Tags != nil {
		t.Tags = append([]string(nil), p.Tags...)
	}
	return t
}
