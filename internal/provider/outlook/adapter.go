// Package outlook implements the EmailProvider contract against the
// Microsoft Graph mail API.
package outlook

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
	"github.com/nhle/mailhub/internal/rfc822"
)

// listSelect keeps list responses to the fields normalization needs.
const listSelect = "id,conversationId,subject,bodyPreview,from," +
	"toRecipients,ccRecipients,receivedDateTime,sentDateTime,isRead"

// Adapter implements provider.EmailProvider for Outlook.
type Adapter struct {
	creds    *model.Credentials
	client   *Client
	retrier  *provider.Retrier
	oauth    oauth2.Config
	pageSize int
}

// NewAdapter creates an Outlook adapter bound to one account's current
// credentials snapshot. baseURL is empty in production; tests point it
// at a fake Graph server.
func NewAdapter(
	creds *model.Credentials,
	store provider.CredentialStore,
	client model.OAuthClientConfig,
	pageSize int,
	baseURL string,
) *Adapter {
	if pageSize < 1 || pageSize > provider.MaxPageSize {
		pageSize = provider.MaxPageSize
	}
	a := &Adapter{
		creds:  creds,
		client: NewClient(baseURL),
		oauth: oauth2.Config{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			Endpoint:     microsoft.AzureADEndpoint("common"),
			Scopes:       []string{"https://graph.microsoft.com/.default", "offline_access"},
		},
		pageSize: pageSize,
	}
	a.retrier = provider.NewRetrier(store, a)
	return a
}

// Provider returns the provider type this adapter serves.
func (a *Adapter) Provider() model.Provider {
	return model.ProviderOutlook
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
		return nil, fmt.Errorf("outlook refresh-token exchange: %w", err)
	}
	return &model.Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}

// ListEmails pages through /me/messages with a numeric skip offset as
// the cursor. The presence of a next-link in the response is the sole
// continuation signal; the next offset is computed locally.
func (a *Adapter) ListEmails(ctx context.Context, pageToken string) (*provider.ListPage, error) {
	offset := 0
	if pageToken != "" {
		parsed, err := strconv.Atoi(pageToken)
		if err != nil || parsed < 0 {
			return nil, &provider.ValidationError{
				Message: fmt.Sprintf("malformed page token %q", pageToken),
			}
		}
		offset = parsed
	}

	query := url.Values{}
	query.Set("$top", strconv.Itoa(a.pageSize))
	query.Set("$skip", strconv.Itoa(offset))
	query.Set("$orderby", "receivedDateTime DESC")
	query.Set("$select", listSelect)
	path := "/me/messages?" + query.Encode()

	var page *provider.ListPage
	err := a.retrier.Do(ctx, a.creds, func(ctx context.Context, accessToken string) error {
		var resp graphMessageList
		if err := a.client.Get(ctx, accessToken, path, &resp); err != nil {
			return err
		}

		result := &provider.ListPage{}
		for _, msg := range resp.Value {
			result.Emails = append(result.Emails, a.normalize(msg))
		}
		if resp.NextLink != "" {
			result.NextPageToken = strconv.Itoa(offset + a.pageSize)
		}

		page = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// GetEmail fetches a single message. Graph returns the body as one flat
// field, so no MIME walking is needed; attachments are listed in a
// follow-up call when the message has any.
func (a *Adapter) GetEmail(ctx context.Context, emailID string) (*model.EmailContent, error) {
	path := "/me/messages/" + url.PathEscape(emailID) +
		"?$select=" + listSelect + ",bccRecipients,body,hasAttachments,internetMessageId"

	var content *model.EmailContent
	err := a.retrier.Do(ctx, a.creds, func(ctx context.Context, accessToken string) error {
		var msg graphMessage
		if err := a.client.Get(ctx, accessToken, path, &msg); err != nil {
			return err
		}

		result := &model.EmailContent{
			Headers: model.EmailHeaders{
				From:      recipientToAddress(msg.From),
				To:        recipientsToAddresses(msg.ToRecipients),
				CC:        recipientsToAddresses(msg.CcRecipients),
				BCC:       recipientsToAddresses(msg.BccRecipients),
				Subject:   msg.Subject,
				Date:      graphDate(msg),
				MessageID: msg.InternetMessageID,
			},
			ThreadID: msg.ConversationID,
		}

		if msg.Body != nil {
			if msg.Body.ContentType == "html" {
				result.HTMLBody = msg.Body.Content
			} else {
				result.TextBody = msg.Body.Content
			}
		}

		if msg.HasAttachments {
			attachPath := "/me/messages/" + url.PathEscape(emailID) +
				"/attachments?$select=id,name,contentType,size"
			var attachments graphAttachmentList
			if err := a.client.Get(ctx, accessToken, attachPath, &attachments); err != nil {
				return err
			}
			for _, att := range attachments.Value {
				result.Attachments = append(result.Attachments, model.AttachmentInfo{
					ID:          att.ID,
					Filename:    att.Name,
					ContentType: att.ContentType,
					Size:        att.Size,
				})
			}
		}

		content = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

// UpdateReadStatus patches the message's isRead flag.
func (a *Adapter) UpdateReadStatus(ctx context.Context, emailID string, isUnread bool) error {
	isRead := !isUnread
	body := map[string]bool{"isRead": isRead}
	path := "/me/messages/" + url.PathEscape(emailID)

	return a.retrier.Do(ctx, a.creds, func(ctx context.Context, accessToken string) error {
		return a.client.Patch(ctx, accessToken, path, body, nil)
	})
}

// SendEmail creates a draft (which yields the message and conversation
// ids), uploads any attachments, then submits the draft.
func (a *Adapter) SendEmail(ctx context.Context, req provider.SendRequest) (*provider.SendResult, error) {
	if len(req.To) == 0 {
		return nil, &provider.ValidationError{Message: "at least one recipient is required"}
	}

	draft := graphMessage{
		Subject:       req.Subject,
		Body:          messageBody(req.Content, req.IsHTML),
		ToRecipients:  addressesToRecipients(req.To),
		CcRecipients:  addressesToRecipients(req.CC),
		BccRecipients: addressesToRecipients(req.BCC),
	}

	var result *provider.SendResult
	err := a.retrier.Do(ctx, a.creds, func(ctx context.Context, accessToken string) error {
		var created graphMessage
		if err := a.client.Post(ctx, accessToken, "/me/messages", draft, &created); err != nil {
			return err
		}
		if err := a.uploadAttachments(ctx, accessToken, created.ID, req.Attachments); err != nil {
			return err
		}
		sendPath := "/me/messages/" + url.PathEscape(created.ID) + "/send"
		if err := a.client.Post(ctx, accessToken, sendPath, nil, nil); err != nil {
			return err
		}

		result = &provider.SendResult{
			MessageID: created.ID,
			ThreadID:  created.ConversationID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReplyToEmail threads via Graph's native reply draft, which carries
// the conversation id forward; the body and any overrides are patched
// onto the draft before it is submitted.
func (a *Adapter) ReplyToEmail(ctx context.Context, req provider.ReplyRequest) (*provider.SendResult, error) {
	if req.EmailID == "" {
		return nil, &provider.ValidationError{Message: "emailId is required"}
	}

	var result *provider.SendResult
	err := a.retrier.Do(ctx, a.creds, func(ctx context.Context, accessToken string) error {
		replyPath := "/me/messages/" + url.PathEscape(req.EmailID) + "/createReply"
		var draft graphMessage
		if err := a.client.Post(ctx, accessToken, replyPath, nil, &draft); err != nil {
			return err
		}

		patch := graphMessage{
			Body: messageBody(req.Content, req.IsHTML),
		}
		if req.Subject != "" {
			patch.Subject = req.Subject
		} else if draft.Subject != "" {
			// createReply drafts already carry "RE: "; ReplySubject
			// leaves prefixed subjects unchanged.
			patch.Subject = rfc822.ReplySubject(draft.Subject)
		}
		if len(req.To) > 0 {
			patch.ToRecipients = addressesToRecipients(req.To)
		}
		if len(req.CC) > 0 {
			patch.CcRecipients = addressesToRecipients(req.CC)
		}
		if len(req.BCC) > 0 {
			patch.BccRecipients = addressesToRecipients(req.BCC)
		}

		draftPath := "/me/messages/" + url.PathEscape(draft.ID)
		if err := a.client.Patch(ctx, accessToken, draftPath, patch, nil); err != nil {
			return err
		}
		if err := a.uploadAttachments(ctx, accessToken, draft.ID, req.Attachments); err != nil {
			return err
		}
		if err := a.client.Post(ctx, accessToken, draftPath+"/send", nil, nil); err != nil {
			return err
		}

		result = &provider.SendResult{
			MessageID: draft.ID,
			ThreadID:  draft.ConversationID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// uploadAttachments posts each outbound attachment onto a draft.
func (a *Adapter) uploadAttachments(
	ctx context.Context,
	accessToken string,
	draftID string,
	attachments []model.OutboundAttachment,
) error {
	path := "/me/messages/" + url.PathEscape(draftID) + "/attachments"
	for _, att := range attachments {
		body := graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		}
		if err := a.client.Post(ctx, accessToken, path, body, nil); err != nil {
			return err
		}
	}
	return nil
}

// normalize maps a Graph message into the unified shape.
func (a *Adapter) normalize(msg graphMessage) model.UnifiedEmail {
	email := model.UnifiedEmail{
		ID:        msg.ID,
		ThreadID:  msg.ConversationID,
		Subject:   msg.Subject,
		Snippet:   msg.BodyPreview,
		From:      recipientToAddress(msg.From),
		To:        recipientsToAddresses(msg.ToRecipients),
		CC:        recipientsToAddresses(msg.CcRecipients),
		Date:      graphDate(msg),
		Provider:  model.ProviderOutlook,
		AccountID: a.creds.Account.ID,
	}
	if msg.IsRead != nil {
		email.IsUnread = !*msg.IsRead
	}
	return email
}

// graphDate coalesces receivedDateTime and sentDateTime. Zero when
// neither parses; undated messages sort last in aggregate views.
func graphDate(msg graphMessage) time.Time {
	for _, raw := range []string{msg.ReceivedDateTime, msg.SentDateTime} {
		if raw == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func recipientToAddress(r *graphRecipient) model.EmailAddress {
	if r == nil {
		return model.EmailAddress{}
	}
	return model.EmailAddress{
		Name:    r.EmailAddress.Name,
		Address: r.EmailAddress.Address,
	}
}

func recipientsToAddresses(recipients []graphRecipient) []model.EmailAddress {
	if len(recipients) == 0 {
		return nil
	}
	out := make([]model.EmailAddress, 0, len(recipients))
	for _, r := range recipients {
		out = append(out, recipientToAddress(&r))
	}
	return out
}

// addressesToRecipients converts free-text addresses into Graph's
// structured recipient shape.
func addressesToRecipients(addrs []string) []graphRecipient {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]graphRecipient, 0, len(addrs))
	for _, raw := range addrs {
		parsed := model.ParseAddress(raw)
		out = append(out, graphRecipient{EmailAddress: graphEmailAddress{
			Name:    parsed.Name,
			Address: parsed.Address,
		}})
	}
	return out
}

func messageBody(content string, isHTML bool) *graphBody {
	contentType := "text"
	if isHTML {
		contentType = "html"
	}
	return &graphBody{ContentType: contentType, Content: content}
}
