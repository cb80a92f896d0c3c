package chat

import "strings"

// AttachmentKind classifies an attachment for rendering and validation.
type AttachmentKind string

const (
	KindImage    AttachmentKind = "image"
	KindDocument AttachmentKind = "document"
	KindAudio    AttachmentKind = "audio"
	KindVideo    AttachmentKind = "video"
	KindCode     AttachmentKind = "code"
)

// Valid reports whether k is a supported attachment kind.
func (k AttachmentKind) Valid() bool {
	switch k {
	case KindImage, KindDocument, KindAudio, KindVideo, KindCode:
		return true
	}
	return false
}

// Attachment references a user supplied file. LocationRef is an opaque handle
// to the underlying blob; the engine never dereferences it.
type Attachment struct {
	ID          string         `json:"id"`
	Kind        AttachmentKind `json:"type"`
	Name        string         `json:"name"`
	ByteSize    int64          `json:"size"`
	LocationRef string         `json:"url"`
	MimeType    string         `json:"mimeType,omitempty"`
}

// KindFromMIME guesses the attachment kind from a MIME type.
func KindFromMIME(mimeType string) AttachmentKind {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mt, "image/"):
		return KindImage
	case strings.HasPrefix(mt, "audio/"):
		return KindAudio
	case strings.HasPrefix(mt, "video/"):
		return KindVideo
	case strings.Contains(mt, "pdf"), strings.Contains(mt, "document"):
		return KindDocument
	default:
		return KindCode
	}
}

// CloneAttachments copies the slice; attachments hold no pointers so a shallow
// element copy is a full copy.
func CloneAttachments(in []Attachment) []Attachment {
	if len(in) == 0 {
		return nil
	}
	return append([]Attachment(nil), in...)
}
