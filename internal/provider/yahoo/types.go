package yahoo

import (
	"time"

	"github.com/nhle/mailhub/internal/model"
)

// appPasswordLength is the exact length of a Yahoo-issued app password.
// Anything else is rejected before a connection is attempted.
const appPasswordLength = 16

// envelope holds the parsed envelope data from an IMAP message.
type envelope struct {
	UID       uint32
	MessageID string
	Subject   string
	From      model.EmailAddress
	To        []model.EmailAddress
	CC        []model.EmailAddress
	Date      time.Time
	Flags     []string // \Seen, \Flagged, \Answered, \Deleted
}

// parsedMessage holds the full parsed content of an email message.
type parsedMessage struct {
	Envelope    envelope
	TextBody    string
	HTMLBody    string
	Attachments []model.AttachmentInfo
}
