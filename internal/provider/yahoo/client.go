package yahoo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"

	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
)

// imapSession wraps go-imap v2 for one Yahoo account. Every operation
// opens a fresh connection, runs against INBOX, and logs out on every
// exit path; no session persists across calls.
type imapSession struct {
	host     string
	port     string
	username string

	// Exactly one of accessToken / appPassword is set per attempt.
	accessToken string
	appPassword string
}

// connect dials the IMAP server over TLS, authenticates, and returns
// the connected client. The caller must Logout the returned client.
func (s *imapSession) connect(_ context.Context) (*imapclient.Client, error) {
	addr := s.host + ":" + s.port

	client, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return nil, &provider.ProviderError{
			Provider: model.ProviderYahoo,
			Status:   "transport",
			Message:  fmt.Sprintf("connecting to IMAP %s: %v", addr, err),
		}
	}

	if s.accessToken != "" {
		saslClient := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: s.username,
			Token:    s.accessToken,
		})
		if err := client.Authenticate(saslClient); err != nil {
			_ = client.Logout().Wait()
			return nil, &provider.UnauthorizedError{
				Provider: model.ProviderYahoo,
				Message:  fmt.Sprintf("OAuth authentication failed for %s: %v", s.username, err),
			}
		}
		return client, nil
	}

	if err := client.Login(s.username, s.appPassword).Wait(); err != nil {
		_ = client.Logout().Wait()
		// App passwords have no refresh path; the failure is permanent.
		return nil, &provider.AuthFailedError{
			Provider: model.ProviderYahoo,
			Message:  fmt.Sprintf("app password rejected for %s: %v", s.username, err),
		}
	}

	return client, nil
}

// fetchRange selects INBOX and fetches envelope data for one page.
// start is the 1-based offset from the newest message; the returned
// envelopes are newest-first. total reports the mailbox size so the
// caller can compute the continuation cursor.
func (s *imapSession) fetchRange(ctx context.Context, start, count int) (envelopes []envelope, total int, err error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = client.Logout().Wait() }()

	selectData, err := client.Select("INBOX", nil).Wait()
	if err != nil {
		return nil, 0, fmt.Errorf("selecting INBOX: %w", err)
	}

	total = int(selectData.NumMessages)
	if total == 0 || start > total {
		return nil, total, nil
	}

	// Sequence numbers count from the oldest message; the cursor
	// counts from the newest.
	seqHigh := uint32(total - start + 1)
	seqLow := uint32(1)
	if int(seqHigh) > count {
		seqLow = seqHigh - uint32(count) + 1
	}

	var seqSet imap.SeqSet
	seqSet.AddRange(seqLow, seqHigh)

	fetchOpts := &imap.FetchOptions{
		Envelope: true,
		Flags:    true,
		UID:      true,
	}

	fetchCmd := client.Fetch(seqSet, fetchOpts)
	defer fetchCmd.Close()

	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		envelopes = append(envelopes, envelopeFromBuffer(buf))
	}

	if err := fetchCmd.Close(); err != nil {
		return envelopes, total, fmt.Errorf("fetching envelopes: %w", err)
	}

	// Newest first.
	for i, j := 0, len(envelopes)-1; i < j; i, j = i+1, j-1 {
		envelopes[i], envelopes[j] = envelopes[j], envelopes[i]
	}

	return envelopes, total, nil
}

// fetchMessage fetches and parses the full message body for a UID.
func (s *imapSession) fetchMessage(ctx context.Context, uid uint32) (*parsedMessage, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("selecting INBOX: %w", err)
	}

	uidSet := imap.UIDSetNum(imap.UID(uid))

	bodySection := &imap.FetchItemBodySection{
		Peek: true,
	}

	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, &provider.NotFoundError{
			Provider: model.ProviderYahoo,
			ID:       fmt.Sprintf("%d", uid),
		}
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message data: %w", err)
	}

	parsed := &parsedMessage{
		Envelope: envelopeFromBuffer(buf),
	}

	rawBody := buf.FindBodySection(bodySection)
	if rawBody != nil {
		textBody, htmlBody, attachments := parseMIMEBody(rawBody)
		parsed.TextBody = textBody
		parsed.HTMLBody = htmlBody
		parsed.Attachments = attachments
	}

	if err := fetchCmd.Close(); err != nil {
		return parsed, fmt.Errorf("closing fetch: %w", err)
	}

	return parsed, nil
}

// setFlags modifies flags on a message. If add is true, the flags are
// added; otherwise they are removed.
func (s *imapSession) setFlags(ctx context.Context, uid uint32, flags []imap.Flag, add bool) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return fmt.Errorf("selecting INBOX: %w", err)
	}

	uidSet := imap.UIDSetNum(imap.UID(uid))

	op := imap.StoreFlagsAdd
	if !add {
		op = imap.StoreFlagsDel
	}

	storeCmd := client.Store(uidSet, &imap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  flags,
	}, nil)

	return storeCmd.Close()
}

// appendSent copies an already-sent message into the Sent mailbox so
// the provider's sent view matches what went out over SMTP. Best
// effort: Yahoo names the mailbox "Sent".
func (s *imapSession) appendSent(ctx context.Context, raw []byte) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	appendCmd := client.Append("Sent", int64(len(raw)), &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagSeen},
	})
	if _, err := appendCmd.Write(raw); err != nil {
		_ = appendCmd.Close()
		return fmt.Errorf("writing to Sent: %w", err)
	}
	if err := appendCmd.Close(); err != nil {
		return fmt.Errorf("closing append: %w", err)
	}
	_, err = appendCmd.Wait()
	return err
}

// envelopeFromBuffer extracts an envelope from a FetchMessageBuffer.
func envelopeFromBuffer(buf *imapclient.FetchMessageBuffer) envelope {
	env := envelope{
		UID: uint32(buf.UID),
	}

	if buf.Envelope != nil {
		env.MessageID = buf.Envelope.MessageID
		env.Subject = buf.Envelope.Subject
		env.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			env.From = model.EmailAddress{Name: from.Name, Address: from.Addr()}
		}
		for _, to := range buf.Envelope.To {
			env.To = append(env.To, model.EmailAddress{Name: to.Name, Address: to.Addr()})
		}
		for _, cc := range buf.Envelope.Cc {
			env.CC = append(env.CC, model.EmailAddress{Name: cc.Name, Address: cc.Addr()})
		}
	}

	for _, flag := range buf.Flags {
		env.Flags = append(env.Flags, string(flag))
	}

	return env
}

// parseMIMEBody parses a raw RFC 2822 message body using go-message
// and extracts the text/plain body, text/html body, and attachment
// metadata.
func parseMIMEBody(raw []byte) (textBody string, htmlBody string, attachments []model.AttachmentInfo) {
	reader := bytes.NewReader(raw)

	mr, err := mail.CreateReader(reader)
	if err != nil {
		// If parsing fails, try treating the whole thing as plain text.
		return string(raw), "", nil
	}
	defer mr.Close()

	partIndex := 0
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		partIndex++

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html"):
				htmlBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()

			// Read to get size without storing content.
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			attachments = append(attachments, model.AttachmentInfo{
				ID:          fmt.Sprintf("part-%d", partIndex),
				Filename:    filename,
				ContentType: contentType,
				Size:        int64(len(body)),
			})
		}
	}

	return textBody, htmlBody, attachments
}
