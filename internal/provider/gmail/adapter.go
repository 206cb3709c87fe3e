// Package gmail implements the EmailProvider contract against the
// Gmail REST API.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
	"github.com/nhle/mailhub/internal/rfc822"
)

// Quota units per operation, per the Gmail API usage limits. The
// limiter keeps a page's fan-out under the per-user quota.
const (
	quotaUnitsPerList   = 5
	quotaUnitsPerGet    = 5
	quotaUnitsPerModify = 5
	quotaUnitsPerSend   = 100

	quotaUnitsPerSecond = 250
	rateLimitPerSecond  = quotaUnitsPerSecond * 0.8
	rateLimitBurst      = quotaUnitsPerSecond
)

// maxPageSize bounds the list page and therefore the per-message
// fan-out that follows it.
const maxPageSize = 20

// fanOutLimit caps concurrent per-message fetches within one page.
const fanOutLimit = 10

const unreadLabel = "UNREAD"

// Adapter implements provider.EmailProvider for Gmail.
type Adapter struct {
	creds    *model.Credentials
	retrier  *provider.Retrier
	oauth    oauth2.Config
	limiter  *rate.Limiter
	pageSize int64
	opts     []option.ClientOption
}

// NewAdapter creates a Gmail adapter bound to one account's current
// credentials snapshot. Extra client options are used by tests to point
// the adapter at a fake server.
func NewAdapter(
	creds *model.Credentials,
	store provider.CredentialStore,
	client model.OAuthClientConfig,
	pageSize int,
	opts ...option.ClientOption,
) *Adapter {
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	a := &Adapter{
		creds: creds,
		oauth: oauth2.Config{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			Endpoint:     google.Endpoint,
		},
		limiter:  rate.NewLimiter(rateLimitPerSecond, rateLimitBurst),
		pageSize: int64(pageSize),
		opts:     opts,
	}
	a.retrier = provider.NewRetrier(store, a)
	return a
}

// Provider returns the provider type this adapter serves.
func (a *Adapter) Provider() model.Provider {
	return model.ProviderGmail
}

// WithCallTimeout overrides the per-call deadline.
func (a *Adapter) WithCallTimeout(d time.Duration) *Adapter {
	a.retrier.WithTimeout(d)
	return a
}

// RefreshAccessToken exchanges the refresh token for a new access token
// via the OAuth2 refresh-token grant. Called only by the retry protocol.
func (a *Adapter) RefreshAccessToken(ctx context.Context, refreshToken string) (*model.Tokens, error) {
	src := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("gmail refresh-token exchange: %w", err)
	}
	return &model.Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}

// service builds a Gmail API client bound to the given access token.
// A new client per attempt keeps the adapter free of mutable token
// state across the refresh retry.
func (a *Adapter) service(ctx context.Context, accessToken string) (*gmail.Service, error) {
	opts := []option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: accessToken,
			TokenType:   "Bearer",
		})),
	}
	opts = append(opts, a.opts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("building gmail client: %w", err)
	}
	return svc, nil
}

// ListEmails lists one page of message ids, then fans out bounded
// concurrent metadata fetches (the list endpoint returns ids only).
// Individual fetch failures are tagged per item; the page still
// succeeds with the remaining messages.
func (a *Adapter) ListEmails(ctx context.Context, pageToken string) (*provider.ListPage, error) {
	var page *provider.ListPage

	err := a.retrier.Do(ctx, a.creds, func(ctx context.Context, accessToken string) error {
		svc, err := a.service(ctx, accessToken)
		if err != nil {
			return err
		}

		if err := a.limiter.WaitN(ctx, quotaUnitsPerList); err != nil {
			return err
		}

		call := svc.Users.Messages.List("me").
			MaxResults(a.pageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return a.classify(err, "")
		}

		emails := make([]*model.UnifiedEmail, len(resp.Messages))
		itemErrs := make([]error, len(resp.Messages))

		var g errgroup.Group
		g.SetLimit(fanOutLimit)
		for i, ref := range resp.Messages {
			g.Go(func() error {
				if err := a.limiter.WaitN(ctx, quotaUnitsPerGet); err != nil {
					itemErrs[i] = err
					return nil
				}
				msg, err := svc.Users.Messages.Get("me", ref.Id).
					Format("metadata").
					MetadataHeaders("Subject", "From", "To", "Cc", "Date").
					Context(ctx).
					Do()
				if err != nil {
					itemErrs[i] = a.classify(err, ref.Id)
					return nil
				}
				email := a.normalize(msg)
				emails[i] = &email
				return nil
			})
		}
		_ = g.Wait()

		result := &provider.ListPage{NextPageToken: resp.NextPageToken}
		for i, e := range emails {
			if e != nil {
				result.Emails = append(result.Emails, *e)
				continue
			}
			if itemErrs[i] == nil {
				continue
			}
			// A token that expired mid-page fails every remaining
			// fetch, and an elapsed deadline fails the call as a
			// whole; surface both page-level instead of tagging them
			// per item, so the protocol retries or times out the page.
			if provider.IsUnauthorized(itemErrs[i]) ||
				errors.Is(itemErrs[i], context.DeadlineExceeded) {
				return itemErrs[i]
			}
			result.Errors = append(result.Errors, provider.ItemError{
				ID:  resp.Messages[i].Id,
				Err: itemErrs[i],
			})
		}

		page = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// GetEmail fetches the full message and walks its MIME part tree.
func (a *Adapter) GetEmail(ctx context.Context, emailID string) (*model.EmailContent, error) {
	var content *model.EmailContent

	err := a.retrier.Do(ctx, a.creds, func(ctx context.Context, accessToken string) error {
		svc, err := a.service(ctx, accessToken)
		if err != nil {
			return err
		}
		if err := a.limiter.WaitN(ctx, quotaUnitsPerGet); err != nil {
			return err
		}

		msg, err := svc.Users.Messages.Get("me", emailID).
			Format("full").
			Context(ctx).
			Do()
		if err != nil {
			return a.classify(err, emailID)
		}

		content = extractContent(msg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

// UpdateReadStatus adds or removes the UNREAD label.
func (a *Adapter) UpdateReadStatus(ctx context.Context, emailID string, isUnread bool) error {
	return a.retrier.Do(ctx, a.creds, func(ctx context.Context, accessToken string) error {
		svc, err := a.service(ctx, accessToken)
		if err != nil {
			return err
		}
		if err := a.limiter.WaitN(ctx, quotaUnitsPerModify); err != nil {
			return err
		}

		req := &gmail.ModifyMessageRequest{}
		if isUnread {
			req.AddLabelIds = []string{unreadLabel}
		} else {
			req.RemoveLabelIds = []string{unreadLabel}
		}

		_, err = svc.Users.Messages.Modify("me", emailID, req).Context(ctx).Do()
		if err != nil {
			return a.classify(err, emailID)
		}
		return nil
	})
}

// SendEmail builds an RFC 822 message and hands it to the raw-send
// endpoint, base64url-encoded.
func (a *Adapter) SendEmail(ctx context.Context, req provider.SendRequest) (*provider.SendResult, error) {
	if len(req.To) == 0 {
		return nil, &provider.ValidationError{Message: "at least one recipient is required"}
	}

	msg := &rfc822.Message{
		From:        a.creds.Account.EmailAddress,
		To:          req.To,
		CC:          req.CC,
		BCC:         req.BCC,
		Subject:     req.Subject,
		Content:     req.Content,
		IsHTML:      req.IsHTML,
		Attachments: req.Attachments,
	}

	return a.sendRaw(ctx, msg)
}

// ReplyToEmail fetches the original's threading headers, builds a reply
// carrying References/In-Reply-To, and sends it on the original thread.
func (a *Adapter) ReplyToEmail(ctx context.Context, req provider.ReplyRequest) (*provider.SendResult, error) {
	if req.EmailID == "" {
		return nil, &provider.ValidationError{Message: "emailId is required"}
	}

	var result *provider.SendResult
	err := a.retrier.Do(ctx, a.creds, func(ctx context.Context, accessToken string) error {
		svc, err := a.service(ctx, accessToken)
		if err != nil {
			return err
		}
		if err := a.limiter.WaitN(ctx, quotaUnitsPerGet); err != nil {
			return err
		}

		orig, err := svc.Users.Messages.Get("me", req.EmailID).
			Format("metadata").
			MetadataHeaders("Subject", "From", "Message-ID", "References").
			Context(ctx).
			Do()
		if err != nil {
			return a.classify(err, req.EmailID)
		}

		origID := headerValue(orig.Payload, "Message-ID")
		references := headerValue(orig.Payload, "References")
		if origID != "" {
			if references == "" {
				references = origID
			} else {
				references = references + " " + origID
			}
		}

		to := req.To
		if len(to) == 0 {
			to = []string{headerValue(orig.Payload, "From")}
		}
		subject := req.Subject
		if subject == "" {
			subject = rfc822.ReplySubject(headerValue(orig.Payload, "Subject"))
		}

		msg := &rfc822.Message{
			From:        a.creds.Account.EmailAddress,
			To:          to,
			CC:          req.CC,
			BCC:         req.BCC,
			Subject:     subject,
			Content:     req.Content,
			IsHTML:      req.IsHTML,
			InReplyTo:   origID,
			References:  references,
			Attachments: req.Attachments,
		}

		raw, _ := msg.Build()
		if err := a.limiter.WaitN(ctx, quotaUnitsPerSend); err != nil {
			return err
		}
		sent, err := svc.Users.Messages.Send("me", &gmail.Message{
			Raw:      rfc822.EncodeURLSafe(raw),
			ThreadId: orig.ThreadId,
		}).Context(ctx).Do()
		if err != nil {
			return a.classify(err, "")
		}

		result = &provider.SendResult{MessageID: sent.Id, ThreadID: sent.ThreadId}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// sendRaw encodes and submits a built message. Replies do not come
// through here: they send inline with the original's thread id.
func (a *Adapter) sendRaw(ctx context.Context, msg *rfc822.Message) (*provider.SendResult, error) {
	var result *provider.SendResult

	err := a.retrier.Do(ctx, a.creds, func(ctx context.Context, accessToken string) error {
		svc, err := a.service(ctx, accessToken)
		if err != nil {
			return err
		}
		if err := a.limiter.WaitN(ctx, quotaUnitsPerSend); err != nil {
			return err
		}

		raw, _ := msg.Build()
		sent, err := svc.Users.Messages.Send("me", &gmail.Message{
			Raw: rfc822.EncodeURLSafe(raw),
		}).Context(ctx).Do()
		if err != nil {
			return a.classify(err, "")
		}

		result = &provider.SendResult{MessageID: sent.Id, ThreadID: sent.ThreadId}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// normalize maps a Gmail message (metadata format) into the unified
// shape. Read state is label-set membership; the date coalesces the
// internal timestamp and the Date header.
func (a *Adapter) normalize(msg *gmail.Message) model.UnifiedEmail {
	email := model.UnifiedEmail{
		ID:        msg.Id,
		ThreadID:  msg.ThreadId,
		Snippet:   msg.Snippet,
		Provider:  model.ProviderGmail,
		AccountID: a.creds.Account.ID,
		IsUnread:  hasLabel(msg.LabelIds, unreadLabel),
		Date:      messageDate(msg),
	}

	if msg.Payload != nil {
		email.Subject = headerValue(msg.Payload, "Subject")
		email.From = model.ParseAddress(headerValue(msg.Payload, "From"))
		email.To = model.ParseAddressList(headerValue(msg.Payload, "To"))
		email.CC = model.ParseAddressList(headerValue(msg.Payload, "Cc"))
	}

	return email
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}

// classify maps a Gmail API failure into the shared error taxonomy.
func (a *Adapter) classify(err error, id string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized:
			return &provider.UnauthorizedError{
				Provider: model.ProviderGmail,
				Message:  apiErr.Message,
			}
		case http.StatusNotFound:
			return &provider.NotFoundError{Provider: model.ProviderGmail, ID: id}
		default:
			return &provider.ProviderError{
				Provider: model.ProviderGmail,
				Status:   fmt.Sprintf("%d", apiErr.Code),
				Message:  strings.TrimSpace(apiErr.Message),
			}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &provider.ProviderError{
		Provider: model.ProviderGmail,
		Status:   "transport",
		Message:  err.Error(),
	}
}
