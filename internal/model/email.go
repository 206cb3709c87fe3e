package model

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// EmailAddress is the unified recipient/sender representation. Gmail and
// Yahoo supply free-text `"Name <addr>"` headers, Outlook supplies a
// structured object per recipient; both normalize into this shape.
type EmailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// String renders the address as an RFC 5322 mailbox.
func (a EmailAddress) String() string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}

// ParseAddress parses a free-text header mailbox ("Name <addr>" or bare
// address) into an EmailAddress. Unparseable input is kept verbatim in
// the Address field rather than dropped.
func ParseAddress(s string) EmailAddress {
	s = strings.TrimSpace(s)
	if s == "" {
		return EmailAddress{}
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return EmailAddress{Address: s}
	}
	return EmailAddress{Name: addr.Name, Address: addr.Address}
}

// ParseAddressList parses a comma-separated header value into addresses.
func ParseAddressList(s string) []EmailAddress {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	list, err := mail.ParseAddressList(s)
	if err != nil {
		// Fall back to a naive split so malformed headers still surface.
		var out []EmailAddress
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, ParseAddress(part))
			}
		}
		return out
	}
	out := make([]EmailAddress, 0, len(list))
	for _, addr := range list {
		out = append(out, EmailAddress{Name: addr.Name, Address: addr.Address})
	}
	return out
}

// UnifiedEmail is the common shape every provider's raw message
// normalizes into for list views.
type UnifiedEmail struct {
	ID       string         `json:"id"`
	ThreadID string         `json:"threadId,omitempty"`
	Subject  string         `json:"subject"`
	From     EmailAddress   `json:"from"`
	To       []EmailAddress `json:"to,omitempty"`
	CC       []EmailAddress `json:"cc,omitempty"`
	BCC      []EmailAddress `json:"bcc,omitempty"`
	Snippet  string         `json:"snippet,omitempty"`

	// Date is the message date coalesced across provider-specific
	// fields. Zero when the provider supplied no usable date; undated
	// messages sort last in aggregate views.
	Date time.Time `json:"date"`

	// IsUnread is derived from provider read-state (label presence,
	// boolean flag, or IMAP flag-set membership).
	IsUnread bool `json:"isUnread"`

	Provider  Provider `json:"provider"`
	AccountID string   `json:"accountId"`
}

// EmailHeaders holds the normalized header block of a full message.
type EmailHeaders struct {
	From      EmailAddress   `json:"from"`
	To        []EmailAddress `json:"to,omitempty"`
	CC        []EmailAddress `json:"cc,omitempty"`
	BCC       []EmailAddress `json:"bcc,omitempty"`
	Subject   string         `json:"subject"`
	Date      time.Time      `json:"date"`
	MessageID string         `json:"messageId,omitempty"`
}

// AttachmentInfo describes an attachment on a received message. Content
// is fetched separately by ID; only metadata is carried here.
type AttachmentInfo struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// EmailContent is the full body of a single message.
type EmailContent struct {
	Headers     EmailHeaders     `json:"headers"`
	HTMLBody    string           `json:"html,omitempty"`
	TextBody    string           `json:"text,omitempty"`
	Attachments []AttachmentInfo `json:"attachments,omitempty"`
	ThreadID    string           `json:"threadId,omitempty"`
	LabelIDs    []string         `json:"labelIds,omitempty"`
}

// OutboundAttachment is a file attached to an outgoing message. It is
// consumed once when the outbound MIME body is built.
type OutboundAttachment struct {
	Filename    string
	Content     []byte
	ContentType string
}
