package chat

import "time"

// ExportBlob is the serialized form produced by a session export.
type ExportBlob struct {
	Messages   []Message `json:"messages"`
	Settings   Settings  `json:"settings"`
	Metrics    Metrics   `json:"metrics"`
	ExportedAt time.Time `json:"exportedAt"`
}
