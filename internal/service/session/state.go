// Package session holds the authoritative state of one conversation. State
// only changes through Reduce, and Store serializes every Dispatch.
package session

import (
	"time"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

// State is a snapshot of one conversation. Reduce never mutates a State or
// its slices in place, so a snapshot stays valid after later dispatches.
type State struct {
	Messages        []chat.Message    `json:"messages"`
	Attachments     []chat.Attachment `json:"attachments"`
	Settings        chat.Settings     `json:"settings"`
	Metrics         chat.Metrics      `json:"metrics"`
	IsLoading       bool              `json:"isLoading"`
	IsConnected     bool              `json:"isConnected"`
	StreamingBuffer string            `json:"streamingMessage"`
	Error           *string           `json:"error"`
	SelectedThread  *string           `json:"selectedThread"`
	Threads         []chat.Thread     `json:"threads"`
}

// NewState returns the initial state for a session started at now.
func NewState(settings chat.Settings, now time.Time) State {
	return State{
		Messages:    []chat.Message{},
		Attachments: []chat.Attachment{},
		Settings:    settings,
		Metrics:     chat.NewMetrics(now),
		Threads:     []chat.Thread{},
	}
}

// FindMessage returns the message with the given id.
func (s State) FindMessage(id string) (chat.Message, bool) {
	for _, msg := range s.Messages {
		if msg.ID == id {
			return msg, true
		}
	}
	return chat.Message{}, false
}

// FindThread returns the thread with the given id.
func (s State) FindThread(id string) (chat.Thread, bool) {
	for _, thread := range s.Threads {
		if thread.ID == id {
			return thread, true
		}
	}
	return chat.Thread{}, false
}
