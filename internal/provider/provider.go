// Package provider defines the unified contract that every email
// provider adapter implements, the error taxonomy shared across them,
// and the token-refresh retry protocol that wraps every provider call.
package provider

import (
	"context"

	"github.com/nhle/mailhub/internal/model"
)

// MaxPageSize bounds a single list page across all providers.
const MaxPageSize = 50

// ListPage holds one page of normalized emails.
type ListPage struct {
	Emails []model.UnifiedEmail

	// NextPageToken is the opaque cursor for the next page. It is
	// provider-specific and must be threaded back unchanged into the
	// next call on the same adapter. Empty signals end of stream.
	NextPageToken string

	// Errors carries per-item failures from providers that fetch
	// messages individually (Gmail's list fan-out). The page itself
	// still succeeds with the remaining items.
	Errors []ItemError
}

// ItemError tags a single failed message fetch within a list page.
type ItemError struct {
	ID  string
	Err error
}

// SendRequest describes an outgoing message.
type SendRequest struct {
	To          []string
	CC          []string
	BCC         []string
	Subject     string
	Content     string
	IsHTML      bool
	Attachments []model.OutboundAttachment
}

// ReplyRequest describes a reply to an existing message. To, Subject,
// CC and BCC are optional; when absent they default from the original
// (reply-to-sender, `Re: <original subject>`).
type ReplyRequest struct {
	EmailID     string
	Content     string
	IsHTML      bool
	To          []string
	Subject     string
	CC          []string
	BCC         []string
	Attachments []model.OutboundAttachment
}

// SendResult identifies a sent message.
type SendResult struct {
	MessageID string
	ThreadID  string
}

// EmailProvider is the unified contract all three adapters implement.
type EmailProvider interface {
	// Provider returns the provider type this adapter serves.
	Provider() model.Provider

	// ListEmails returns one bounded page of messages in the
	// provider's native order (typically reverse-chronological).
	// pageToken is empty for the first page.
	ListEmails(ctx context.Context, pageToken string) (*ListPage, error)

	// GetEmail returns the full content of a single message.
	GetEmail(ctx context.Context, emailID string) (*model.EmailContent, error)

	// UpdateReadStatus sets the message's read flag at the provider.
	// Applying the same state twice is observably a no-op.
	UpdateReadStatus(ctx context.Context, emailID string, isUnread bool) error

	// SendEmail composes and sends a new message.
	SendEmail(ctx context.Context, req SendRequest) (*SendResult, error)

	// ReplyToEmail sends a threaded reply to an existing message,
	// carrying forward References/In-Reply-To or the provider's
	// native thread id.
	ReplyToEmail(ctx context.Context, req ReplyRequest) (*SendResult, error)
}

// CredentialStore is the collaborator that owns account credentials.
// Implementations must persist refreshed tokens synchronously before
// the retry protocol reuses them.
type CredentialStore interface {
	Get(ctx context.Context, accountID string) (*model.Credentials, error)
	UpdateTokens(ctx context.Context, accountID string, tokens model.Tokens) error
}
