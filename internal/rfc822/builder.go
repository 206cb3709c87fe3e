// Package rfc822 builds outbound RFC 822 messages by hand: header
// block plus MIME multipart/alternative (plain+HTML) or multipart/mixed
// (with attachments). It is shared by the Gmail and Yahoo adapters so
// boundary and encoding logic exists in exactly one place.
package rfc822

import (
	"encoding/base64"
	"fmt"
	"mime"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailhub/internal/model"
)

// Message describes an outbound email to be rendered into wire form.
type Message struct {
	From    string
	To      []string
	CC      []string
	BCC     []string
	Subject string

	// Content is the message body; HTML when IsHTML is set, otherwise
	// plain text. For HTML content a text/plain alternative is derived
	// automatically by stripping tags.
	Content string
	IsHTML  bool

	// InReplyTo and References thread the message when replying.
	InReplyTo  string
	References string

	Attachments []model.OutboundAttachment

	// MessageID is the Message-ID header value without angle brackets.
	// Generated from a UUID when empty.
	MessageID string
}

// Build renders the message into its RFC 822 wire form and returns the
// bytes plus the Message-ID that was used.
func (m *Message) Build() ([]byte, string) {
	messageID := m.MessageID
	if messageID == "" {
		messageID = generateMessageID(m.From)
	}

	var b strings.Builder
	writeHeader(&b, "From", m.From)
	writeHeader(&b, "To", strings.Join(m.To, ", "))
	if len(m.CC) > 0 {
		writeHeader(&b, "Cc", strings.Join(m.CC, ", "))
	}
	if len(m.BCC) > 0 {
		writeHeader(&b, "Bcc", strings.Join(m.BCC, ", "))
	}
	writeHeader(&b, "Subject", encodeHeaderWord(m.Subject))
	writeHeader(&b, "Date", time.Now().Format(time.RFC1123Z))
	writeHeader(&b, "Message-ID", "<"+messageID+">")
	if m.InReplyTo != "" {
		writeHeader(&b, "In-Reply-To", m.InReplyTo)
	}
	if m.References != "" {
		writeHeader(&b, "References", m.References)
	}
	writeHeader(&b, "MIME-Version", "1.0")

	if len(m.Attachments) > 0 {
		mixed := newBoundary()
		writeHeader(&b, "Content-Type",
			fmt.Sprintf("multipart/mixed; boundary=%q", mixed))
		b.WriteString("\r\n")

		b.WriteString("--" + mixed + "\r\n")
		m.writeBodyPart(&b)

		for _, att := range m.Attachments {
			writeAttachment(&b, mixed, att)
		}
		b.WriteString("--" + mixed + "--\r\n")
	} else if m.IsHTML {
		alt := newBoundary()
		writeHeader(&b, "Content-Type",
			fmt.Sprintf("multipart/alternative; boundary=%q", alt))
		b.WriteString("\r\n")
		writeAlternative(&b, alt, m.Content)
	} else {
		writeHeader(&b, "Content-Type", "text/plain; charset=UTF-8")
		b.WriteString("\r\n")
		b.WriteString(m.Content)
		b.WriteString("\r\n")
	}

	return []byte(b.String()), messageID
}

// writeBodyPart writes the message body as a nested part inside a
// multipart/mixed container.
func (m *Message) writeBodyPart(b *strings.Builder) {
	if m.IsHTML {
		alt := newBoundary()
		writeHeader(b, "Content-Type",
			fmt.Sprintf("multipart/alternative; boundary=%q", alt))
		b.WriteString("\r\n")
		writeAlternative(b, alt, m.Content)
	} else {
		writeHeader(b, "Content-Type", "text/plain; charset=UTF-8")
		b.WriteString("\r\n")
		b.WriteString(m.Content)
		b.WriteString("\r\n")
	}
}

// writeAlternative writes a multipart/alternative body with a derived
// text/plain part followed by the HTML part.
func writeAlternative(b *strings.Builder, boundary, html string) {
	b.WriteString("--" + boundary + "\r\n")
	writeHeader(b, "Content-Type", "text/plain; charset=UTF-8")
	b.WriteString("\r\n")
	b.WriteString(StripHTML(html))
	b.WriteString("\r\n")

	b.WriteString("--" + boundary + "\r\n")
	writeHeader(b, "Content-Type", "text/html; charset=UTF-8")
	b.WriteString("\r\n")
	b.WriteString(html)
	b.WriteString("\r\n")

	b.WriteString("--" + boundary + "--\r\n")
}

// writeAttachment writes one base64-encoded attachment part.
func writeAttachment(b *strings.Builder, boundary string, att model.OutboundAttachment) {
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	b.WriteString("--" + boundary + "\r\n")
	writeHeader(b, "Content-Type",
		fmt.Sprintf("%s; name=%q", contentType, att.Filename))
	writeHeader(b, "Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", att.Filename))
	writeHeader(b, "Content-Transfer-Encoding", "base64")
	b.WriteString("\r\n")

	encoded := base64.StdEncoding.EncodeToString(att.Content)
	for len(encoded) > 76 {
		b.WriteString(encoded[:76])
		b.WriteString("\r\n")
		encoded = encoded[76:]
	}
	b.WriteString(encoded)
	b.WriteString("\r\n")
}

func writeHeader(b *strings.Builder, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}

// encodeHeaderWord Q-encodes a header value when it contains non-ASCII
// characters.
func encodeHeaderWord(s string) string {
	return mime.QEncoding.Encode("utf-8", s)
}

// newBoundary returns a random MIME boundary string.
func newBoundary() string {
	return "=_mailhub_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// generateMessageID builds a unique Message-ID using the sender's
// domain, falling back to a local placeholder.
func generateMessageID(from string) string {
	domain := "mailhub.local"
	if at := strings.LastIndex(from, "@"); at >= 0 {
		domain = strings.TrimRight(from[at+1:], "> ")
	}
	return uuid.NewString() + "@" + domain
}

// EncodeURLSafe base64-encodes a wire-form message with the URL-safe
// alphabet and no padding, as the Gmail raw-send endpoint expects.
func EncodeURLSafe(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// ReplySubject returns the subject for a reply, prefixing `Re: ` unless
// the original subject already carries it in any case variant.
func ReplySubject(original string) string {
	trimmed := strings.TrimSpace(original)
	if strings.HasPrefix(strings.ToLower(trimmed), "re:") {
		return trimmed
	}
	return "Re: " + trimmed
}

// htmlTagPattern matches HTML tags for stripping.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// StripHTML removes HTML tags from a string and decodes common
// entities, providing a basic plain-text rendering for the
// text/plain alternative.
func StripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := html
	for _, tag := range []string{
		"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>",
	} {
		result = strings.ReplaceAll(result, tag, "\n")
	}

	result = htmlTagPattern.ReplaceAllString(result, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	result = replacer.Replace(result)

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}
