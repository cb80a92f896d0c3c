package controller

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/session"
)

// AddAttachment validates att and adds it to the pending composition.
// Rejected attachments never reach the store.
func (c *Controller) AddAttachment(att chat.Attachment) (chat.Attachment, error) {
	att, err := c.validateAttachment(att)
	if err != nil {
		return chat.Attachment{}, err
	}

	c.store.Dispatch(session.AddAttachment{Attachment: att})
	return att, nil
}

// validateAttachment checks name, kind and size in that order. The kind is
// derived from the MIME type when absent and an id is assigned when missing.
func (c *Controller) validateAttachment(att chat.Attachment) (chat.Attachment, error) {
	att.Name = strings.TrimSpace(att.Name)
	if att.Name == "" {
		return chat.Attachment{}, &ValidationError{Reason: ReasonMissingName}
	}
	if att.Kind == "" {
		att.Kind = chat.KindFromMIME(att.MimeType)
	}
	if !att.Kind.Valid() {
		return chat.Attachment{}, &ValidationError{Reason: ReasonUnsupportedKind, Detail: string(att.Kind)}
	}
	if att.ByteSize < 0 || att.ByteSize > c.opts.MaxAttachmentBytes {
		return chat.Attachment{}, &ValidationError{
			Reason: ReasonTooLarge,
			Detail: fmt.Sprintf("%s is %d bytes, limit %d", att.Name, att.ByteSize, c.opts.MaxAttachmentBytes),
		}
	}
	if att.ID == "" {
		att.ID = c.newID()
	}
	return att, nil
}

// validateAttachments validates every attachment; the first failure rejects
// the whole set.
func (c *Controller) validateAttachments(atts []chat.Attachment) ([]chat.Attachment, error) {
	if len(atts) == 0 {
		return nil, nil
	}
	out := make([]chat.Attachment, 0, len(atts))
	for _, att := range atts {
		valid, err := c.validateAttachment(att)
		if err != nil {
			return nil, err
		}
		out = append(out, valid)
	}
	return out, nil
}

// RemoveAttachment drops a pending attachment.
func (c *Controller) RemoveAttachment(id string) {
	c.store.Dispatch(session.RemoveAttachment{ID: id})
}
