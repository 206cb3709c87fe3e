package gmail

import (
	"encoding/base64"
	"net/mail"
	"strings"
	"time"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/nhle/mailhub/internal/model"
)

// extractContent walks a full-format message into EmailContent.
func extractContent(msg *gmail.Message) *model.EmailContent {
	content := &model.EmailContent{
		ThreadID: msg.ThreadId,
		LabelIDs: msg.LabelIds,
	}

	if msg.Payload == nil {
		return content
	}

	content.Headers = model.EmailHeaders{
		From:      model.ParseAddress(headerValue(msg.Payload, "From")),
		To:        model.ParseAddressList(headerValue(msg.Payload, "To")),
		CC:        model.ParseAddressList(headerValue(msg.Payload, "Cc")),
		BCC:       model.ParseAddressList(headerValue(msg.Payload, "Bcc")),
		Subject:   headerValue(msg.Payload, "Subject"),
		Date:      messageDate(msg),
		MessageID: headerValue(msg.Payload, "Message-ID"),
	}

	walkParts(msg.Payload, content)
	return content
}

// walkParts recursively visits a MIME part tree. Text parts are decoded
// in place; anything carrying an attachment id is recorded as metadata
// without decoding; containers recurse into their sub-parts.
func walkParts(part *gmail.MessagePart, content *model.EmailContent) {
	if part == nil {
		return
	}

	if len(part.Parts) > 0 {
		for _, child := range part.Parts {
			walkParts(child, content)
		}
		return
	}

	if part.Body != nil && part.Body.AttachmentId != "" {
		content.Attachments = append(content.Attachments, model.AttachmentInfo{
			ID:          part.Body.AttachmentId,
			Filename:    part.Filename,
			ContentType: part.MimeType,
			Size:        part.Body.Size,
		})
		return
	}

	switch {
	case strings.HasPrefix(part.MimeType, "text/html"):
		if content.HTMLBody == "" {
			content.HTMLBody = decodeBody(part)
		}
	case strings.HasPrefix(part.MimeType, "text/plain"):
		if content.TextBody == "" {
			content.TextBody = decodeBody(part)
		}
	}
}

// decodeBody base64url-decodes a part body. The API emits the URL-safe
// alphabet, padded or not depending on the part.
func decodeBody(part *gmail.MessagePart) string {
	if part.Body == nil || part.Body.Data == "" {
		return ""
	}
	data := part.Body.Data
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	return ""
}

// headerValue returns a payload header by name, case-insensitively.
func headerValue(payload *gmail.MessagePart, name string) string {
	if payload == nil {
		return ""
	}
	for _, h := range payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// messageDate coalesces the message date: the internal received
// timestamp when present, otherwise the parsed Date header. Zero when
// neither exists; undated messages sort last in aggregate views.
func messageDate(msg *gmail.Message) time.Time {
	if msg.InternalDate > 0 {
		return time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload != nil {
		if raw := headerValue(msg.Payload, "Date"); raw != "" {
			if t, err := mail.ParseDate(raw); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}
