// Package yahoo implements the EmailProvider contract over a stateful
// IMAP session (list/read/flags) plus SMTP submission for outbound
// mail. Credential mode is either an OAuth access token or a
// 16-character provider-issued app password.
package yahoo

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"golang.org/x/oauth2"
	oauthyahoo "golang.org/x/oauth2/yahoo"

	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
	"github.com/nhle/mailhub/internal/rfc822"
)

// Adapter implements provider.EmailProvider for Yahoo.
type Adapter struct {
	creds    *model.Credentials
	cfg      model.YahooConfig
	retrier  *provider.Retrier
	oauth    oauth2.Config
	pageSize int
}

// NewAdapter creates a Yahoo adapter bound to one account's current
// credentials snapshot.
func NewAdapter(
	creds *model.Credentials,
	store provider.CredentialStore,
	cfg model.YahooConfig,
	pageSize int,
) *Adapter {
	if pageSize < 1 || pageSize > provider.MaxPageSize {
		pageSize = provider.MaxPageSize
	}
	a := &Adapter{
		creds: creds,
		cfg:   cfg,
		oauth: oauth2.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			Endpoint:     oauthyahoo.Endpoint,
		},
		pageSize: pageSize,
	}
	a.retrier = provider.NewRetrier(store, a)
	return a
}

// Provider returns the provider type this adapter serves.
func (a *Adapter) Provider() model.Provider {
	return model.ProviderYahoo
}

// WithCallTimeout overrides the per-call deadline.
func (a *Adapter) WithCallTimeout(d time.Duration) *Adapter {
	a.retrier.WithTimeout(d)
	return a
}

// RefreshAccessToken exchanges the refresh token for a new access
// token. Only reachable for OAuth-connected accounts; app-password
// accounts carry no refresh token, so their auth failures are terminal.
func (a *Adapter) RefreshAccessToken(ctx context.Context, refreshToken string) (*model.Tokens, error) {
	src := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("yahoo refresh-token exchange: %w", err)
	}
	return &model.Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}

// validateCredentials rejects malformed credentials before any network
// call: app passwords must be exactly 16 characters.
func (a *Adapter) validateCredentials() error {
	if a.creds.AccessToken == "" && a.creds.AppPassword == "" {
		return &provider.UnauthorizedError{
			Provider: model.ProviderYahoo,
			Message:  "no access token or app password on file",
		}
	}
	if a.creds.AppPassword != "" && len(a.creds.AppPassword) != appPasswordLength {
		return &provider.ValidationError{
			Message: fmt.Sprintf(
				"yahoo app password must be exactly %d characters, got %d",
				appPasswordLength, len(a.creds.AppPassword),
			),
		}
	}
	return nil
}

// session builds a fresh IMAP session configuration for one attempt.
// The retry protocol supplies the access token, so no token state lives
// on the adapter between attempts.
func (a *Adapter) session(accessToken string) *imapSession {
	s := &imapSession{
		host:     a.cfg.IMAPHost,
		port:     a.cfg.IMAPPort,
		username: a.creds.Account.EmailAddress,
	}
	if a.creds.AppPassword != "" {
		s.appPassword = a.creds.AppPassword
	} else {
		s.accessToken = accessToken
	}
	return s
}

// ListEmails pages the INBOX newest-first. The cursor is a 1-based
// numeric range start counted from the newest message; each call opens
// a fresh connection, fetches one page, and logs out.
func (a *Adapter) ListEmails(ctx context.Context, pageToken string) (*provider.ListPage, error) {
	if err := a.validateCredentials(); err != nil {
		return nil, err
	}

	start := 1
	if pageToken != "" {
		parsed, err := strconv.Atoi(pageToken)
		if err != nil || parsed < 1 {
			return nil, &provider.ValidationError{
				Message: fmt.Sprintf("malformed page token %q", pageToken),
			}
		}
		start = parsed
	}

	var page *provider.ListPage
	err := a.retrier.Do(ctx, a.creds, func(ctx context.Context, accessToken string) error {
		envelopes, total, err := a.session(accessToken).fetchRange(ctx, start, a.pageSize)
		if err != nil {
			return err
		}

		result := &provider.ListPage{}
		for _, env := range envelopes {
			result.Emails = append(result.Emails, a.normalize(env))
		}
		if start+a.pageSize <= total {
			result.NextPageToken = strconv.Itoa(start + a.pageSize)
		}

		page = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// GetEmail fetches and parses the full message for a UID.
func (a *Adapter) GetEmail(ctx context.Context, emailID string) (*model.EmailContent, error) {
	if err := a.validateCredentials(); err != nil {
		return nil, err
	}
	uid, err := parseUID(emailID)
	if err != nil {
		return nil, err
	}

	var content *model.EmailContent
	err = a.retrier.Do(ctx, a.creds, func(ctx context.Context, accessToken string) error {
		parsed, err := a.session(accessToken).fetchMessage(ctx, uid)
		if err != nil {
			return err
		}

		env := parsed.Envelope
		content = &model.EmailContent{
			Headers: model.EmailHeaders{
				From:      env.From,
				To:        env.To,
				CC:        env.CC,
				Subject:   env.Subject,
				Date:      env.Date,
				MessageID: env.MessageID,
			},
			TextBody:    parsed.TextBody,
			HTMLBody:    parsed.HTMLBody,
			Attachments: parsed.Attachments,
			// IMAP has no thread id; the Message-ID stands in so
			// replies can thread over References.
			ThreadID: env.MessageID,
			LabelIDs: env.Flags,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

// UpdateReadStatus adds or removes \Seen. Flag stores are idempotent at
// the server.
func (a *Adapter) UpdateReadStatus(ctx context.Context, emailID string, isUnread bool) error {
	if err := a.validateCredentials(); err != nil {
		return err
	}
	uid, err := parseUID(emailID)
	if err != nil {
		return err
	}

	return a.retrier.Do(ctx, a.creds, func(ctx context.Context, accessToken string) error {
		return a.session(accessToken).setFlags(
			ctx, uid, []imap.Flag{imap.FlagSeen}, !isUnread,
		)
	})
}

// SendEmail builds an RFC 822 message, submits it over SMTP, and
// copies it into the Sent mailbox.
func (a *Adapter) SendEmail(ctx context.Context, req provider.SendRequest) (*provider.SendResult, error) {
	if err := a.validateCredentials(); err != nil {
		return nil, err
	}
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

	return a.submit(ctx, msg)
}

// ReplyToEmail fetches the original's envelope, threads the reply via
// In-Reply-To/References, and submits it.
func (a *Adapter) ReplyToEmail(ctx context.Context, req provider.ReplyRequest) (*provider.SendResult, error) {
	if err := a.validateCredentials(); err != nil {
		return nil, err
	}
	uid, err := parseUID(req.EmailID)
	if err != nil {
		return nil, err
	}

	var msg *rfc822.Message
	err = a.retrier.Do(ctx, a.creds, func(ctx context.Context, accessToken string) error {
		parsed, err := a.session(accessToken).fetchMessage(ctx, uid)
		if err != nil {
			return err
		}
		env := parsed.Envelope

		to := req.To
		if len(to) == 0 && env.From.Address != "" {
			to = []string{env.From.String()}
		}
		subject := req.Subject
		if subject == "" {
			subject = rfc822.ReplySubject(env.Subject)
		}

		origID := ensureAngleBrackets(env.MessageID)
		msg = &rfc822.Message{
			From:        a.creds.Account.EmailAddress,
			To:          to,
			CC:          req.CC,
			BCC:         req.BCC,
			Subject:     subject,
			Content:     req.Content,
			IsHTML:      req.IsHTML,
			InReplyTo:   origID,
			References:  origID,
			Attachments: req.Attachments,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result, err := a.submit(ctx, msg)
	if err != nil {
		return nil, err
	}

	// Mark the original as answered; non-fatal if the store fails.
	_ = a.retrier.Do(ctx, a.creds, func(ctx context.Context, accessToken string) error {
		return a.session(accessToken).setFlags(
			ctx, uid, []imap.Flag{imap.FlagAnswered}, true,
		)
	})

	return result, nil
}

// submit renders the message, sends it over SMTP, and appends the copy
// to Sent.
func (a *Adapter) submit(ctx context.Context, msg *rfc822.Message) (*provider.SendResult, error) {
	raw, messageID := msg.Build()

	rcpts := make([]string, 0, len(msg.To)+len(msg.CC)+len(msg.BCC))
	for _, group := range [][]string{msg.To, msg.CC, msg.BCC} {
		for _, addr := range group {
			rcpts = append(rcpts, model.ParseAddress(addr).Address)
		}
	}

	err := a.retrier.Do(ctx, a.creds, func(ctx context.Context, accessToken string) error {
		if err := a.sendSMTP(accessToken, rcpts, raw); err != nil {
			return err
		}
		// The Sent copy is best effort; the message already left.
		_ = a.session(accessToken).appendSent(ctx, raw)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &provider.SendResult{
		MessageID: messageID,
		ThreadID:  msg.References,
	}, nil
}

// sendSMTP submits a message over an implicit-TLS SMTP connection.
func (a *Adapter) sendSMTP(accessToken string, rcpts []string, raw []byte) error {
	addr := a.cfg.SMTPHost + ":" + a.cfg.SMTPPort

	tlsConfig := &tls.Config{ServerName: a.cfg.SMTPHost}
	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return &provider.ProviderError{
			Provider: model.ProviderYahoo,
			Status:   "transport",
			Message:  fmt.Sprintf("TLS dial to %s: %v", addr, err),
		}
	}

	client, err := smtp.NewClient(conn, a.cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	auth := a.smtpAuth(accessToken)
	if err := client.Auth(auth); err != nil {
		if a.creds.AppPassword != "" {
			return &provider.AuthFailedError{
				Provider: model.ProviderYahoo,
				Message:  fmt.Sprintf("SMTP auth rejected: %v", err),
			}
		}
		return &provider.UnauthorizedError{
			Provider: model.ProviderYahoo,
			Message:  fmt.Sprintf("SMTP auth rejected: %v", err),
		}
	}

	from := model.ParseAddress(a.creds.Account.EmailAddress).Address
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("SMTP RCPT TO %s: %w", rcpt, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}
	if _, err := writer.Write(raw); err != nil {
		return fmt.Errorf("writing message body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing message body: %w", err)
	}

	return client.Quit()
}

// smtpAuth selects PLAIN for app passwords and XOAUTH2 for OAuth.
func (a *Adapter) smtpAuth(accessToken string) smtp.Auth {
	username := a.creds.Account.EmailAddress
	if a.creds.AppPassword != "" {
		return smtp.PlainAuth("", username, a.creds.AppPassword, a.cfg.SMTPHost)
	}
	return &xoauth2Auth{username: username, token: accessToken}
}

// xoauth2Auth implements the XOAUTH2 SASL mechanism for SMTP. net/smtp
// ships only PLAIN/CRAM-MD5, so the bearer-token initial response is
// assembled here.
type xoauth2Auth struct {
	username string
	token    string
}

func (x *xoauth2Auth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	resp := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", x.username, x.token)
	return "XOAUTH2", []byte(resp), nil
}

func (x *xoauth2Auth) Next(_ []byte, more bool) ([]byte, error) {
	if more {
		// The server sends an error payload before failing; an empty
		// response tells it to finish.
		return []byte{}, nil
	}
	return nil, nil
}

// normalize maps an IMAP envelope into the unified shape. Read state is
// \Seen flag-set membership.
func (a *Adapter) normalize(env envelope) model.UnifiedEmail {
	return model.UnifiedEmail{
		ID:        strconv.FormatUint(uint64(env.UID), 10),
		ThreadID:  env.MessageID,
		Subject:   env.Subject,
		From:      env.From,
		To:        env.To,
		CC:        env.CC,
		Date:      env.Date,
		IsUnread:  !hasFlag(env.Flags, `\Seen`),
		Provider:  model.ProviderYahoo,
		AccountID: a.creds.Account.ID,
	}
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

// parseUID converts a message id string to an IMAP UID.
func parseUID(emailID string) (uint32, error) {
	uid, err := strconv.ParseUint(emailID, 10, 32)
	if err != nil {
		return 0, &provider.ValidationError{
			Message: fmt.Sprintf("invalid yahoo message id %q", emailID),
		}
	}
	return uint32(uid), nil
}

// ensureAngleBrackets normalizes a Message-ID header value, which IMAP
// envelopes report without the surrounding brackets.
func ensureAngleBrackets(messageID string) string {
	if messageID == "" {
		return ""
	}
	if messageID[0] == '<' {
		return messageID
	}
	return "<" + messageID + ">"
}
