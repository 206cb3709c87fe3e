// Package main is a thin command-line caller for the mailhub adapter
// layer: it connects accounts, lists and reads mail, toggles read
// state, and sends or replies through whichever provider backs each
// account.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nhle/mailhub/internal/accounts"
	"github.com/nhle/mailhub/internal/inbox"
	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
	"github.com/nhle/mailhub/internal/provider/factory"
	"github.com/nhle/mailhub/internal/store"
)

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to YAML configuration file")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		log.Fatalf("creating data directory: %v", err)
	}
	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("opening account store: %v", err)
	}
	defer db.Close()

	svc := accounts.NewService(db)
	app := &cli{cfg: cfg, svc: svc}

	ctx := context.Background()
	if err := app.run(ctx, args[0], args[1:]); err != nil {
		log.Fatalf("%s: %v", args[0], err)
	}
}

type cli struct {
	cfg *model.AppConfig
	svc *accounts.Service
}

func (c *cli) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "accounts":
		return c.listAccounts(ctx, args)
	case "add-account":
		return c.addAccount(ctx, args)
	case "remove-account":
		return c.removeAccount(ctx, args)
	case "inbox":
		return c.unifiedInbox(ctx, args)
	case "list":
		return c.list(ctx, args)
	case "read":
		return c.read(ctx, args)
	case "mark":
		return c.mark(ctx, args)
	case "send":
		return c.send(ctx, args)
	case "reply":
		return c.reply(ctx, args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// adapter resolves one account id into a ready provider adapter with
// freshly loaded credentials.
func (c *cli) adapter(ctx context.Context, accountID string) (provider.EmailProvider, error) {
	creds, err := c.svc.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return factory.New(c.cfg, creds, c.svc)
}

func (c *cli) listAccounts(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("accounts", flag.ExitOnError)
	userID := fs.String("user", "default", "owning user id")
	fs.Parse(args)

	list, err := c.svc.ListByUser(ctx, *userID)
	if err != nil {
		return err
	}
	for _, a := range list {
		fmt.Printf("%s\t%s\t%s\n", a.ID, a.Provider, a.EmailAddress)
	}
	return nil
}

func (c *cli) addAccount(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add-account", flag.ExitOnError)
	userID := fs.String("user", "default", "owning user id")
	providerType := fs.String("provider", "", "gmail, outlook, or yahoo")
	email := fs.String("email", "", "mailbox address")
	accessToken := fs.String("access-token", "", "OAuth access token")
	refreshToken := fs.String("refresh-token", "", "OAuth refresh token")
	appPassword := fs.String("app-password", "", "Yahoo app password (16 characters)")
	fs.Parse(args)

	account, err := c.svc.Create(ctx, accounts.CreateParams{
		UserID:       *userID,
		Provider:     model.Provider(*providerType),
		EmailAddress: *email,
		AccessToken:  *accessToken,
		RefreshToken: *refreshToken,
		AppPassword:  *appPassword,
	})
	if err != nil {
		return err
	}
	fmt.Printf("connected %s account %s (%s)\n", account.Provider, account.EmailAddress, account.ID)
	return nil
}

func (c *cli) removeAccount(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("remove-account", flag.ExitOnError)
	accountID := fs.String("account", "", "account id")
	fs.Parse(args)

	if err := c.svc.Delete(ctx, *accountID); err != nil {
		return err
	}
	fmt.Printf("removed account %s\n", *accountID)
	return nil
}

func (c *cli) unifiedInbox(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("inbox", flag.ExitOnError)
	userID := fs.String("user", "default", "owning user id")
	fs.Parse(args)

	agg := inbox.New(c.svc, func(ctx context.Context, account model.Account) (provider.EmailProvider, error) {
		return c.adapter(ctx, account.ID)
	})

	result, err := agg.ListAll(ctx, *userID)
	if err != nil {
		return err
	}

	printEmails(result.Emails)
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "warning: %s account %s failed: %s\n",
			e.Provider, e.AccountID, e.Message)
	}
	return nil
}

func (c *cli) list(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	accountID := fs.String("account", "", "account id")
	pageToken := fs.String("page", "", "page cursor from a previous call")
	fs.Parse(args)

	adapter, err := c.adapter(ctx, *accountID)
	if err != nil {
		return err
	}

	page, err := adapter.ListEmails(ctx, *pageToken)
	if err != nil {
		return err
	}

	printEmails(page.Emails)
	for _, item := range page.Errors {
		fmt.Fprintf(os.Stderr, "warning: message %s failed: %v\n", item.ID, item.Err)
	}
	if page.NextPageToken != "" {
		fmt.Printf("next page: --page %s\n", page.NextPageToken)
	}
	return nil
}

func (c *cli) read(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	accountID := fs.String("account", "", "account id")
	emailID := fs.String("id", "", "message id")
	fs.Parse(args)

	adapter, err := c.adapter(ctx, *accountID)
	if err != nil {
		return err
	}

	content, err := adapter.GetEmail(ctx, *emailID)
	if err != nil {
		return err
	}

	h := content.Headers
	fmt.Printf("From: %s\n", h.From)
	fmt.Printf("To: %s\n", joinAddresses(h.To))
	if len(h.CC) > 0 {
		fmt.Printf("Cc: %s\n", joinAddresses(h.CC))
	}
	fmt.Printf("Subject: %s\n", h.Subject)
	if !h.Date.IsZero() {
		fmt.Printf("Date: %s\n", h.Date.Format(time.RFC1123Z))
	}
	fmt.Println()
	if content.TextBody != "" {
		fmt.Println(content.TextBody)
	} else {
		fmt.Println(content.HTMLBody)
	}
	for _, att := range content.Attachments {
		fmt.Printf("[attachment] %s (%s, %d bytes)\n", att.Filename, att.ContentType, att.Size)
	}
	return nil
}

func (c *cli) mark(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mark", flag.ExitOnError)
	accountID := fs.String("account", "", "account id")
	emailID := fs.String("id", "", "message id")
	unread := fs.Bool("unread", false, "mark unread instead of read")
	fs.Parse(args)

	adapter, err := c.adapter(ctx, *accountID)
	if err != nil {
		return err
	}
	return adapter.UpdateReadStatus(ctx, *emailID, *unread)
}

func (c *cli) send(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	accountID := fs.String("account", "", "account id")
	to := fs.String("to", "", "comma-separated recipients")
	cc := fs.String("cc", "", "comma-separated cc recipients")
	subject := fs.String("subject", "", "subject line")
	body := fs.String("body", "", "message body")
	html := fs.Bool("html", false, "treat body as HTML")
	fs.Parse(args)

	adapter, err := c.adapter(ctx, *accountID)
	if err != nil {
		return err
	}

	result, err := adapter.SendEmail(ctx, provider.SendRequest{
		To:      splitList(*to),
		CC:      splitList(*cc),
		Subject: *subject,
		Content: *body,
		IsHTML:  *html,
	})
	if err != nil {
		return err
	}
	fmt.Printf("sent %s (thread %s)\n", result.MessageID, result.ThreadID)
	return nil
}

func (c *cli) reply(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reply", flag.ExitOnError)
	accountID := fs.String("account", "", "account id")
	emailID := fs.String("id", "", "message id to reply to")
	body := fs.String("body", "", "reply body")
	html := fs.Bool("html", false, "treat body as HTML")
	fs.Parse(args)

	adapter, err := c.adapter(ctx, *accountID)
	if err != nil {
		return err
	}

	result, err := adapter.ReplyToEmail(ctx, provider.ReplyRequest{
		EmailID: *emailID,
		Content: *body,
		IsHTML:  *html,
	})
	if err != nil {
		return err
	}
	fmt.Printf("replied %s (thread %s)\n", result.MessageID, result.ThreadID)
	return nil
}

func printEmails(emails []model.UnifiedEmail) {
	for _, e := range emails {
		marker := " "
		if e.IsUnread {
			marker = "*"
		}
		date := ""
		if !e.Date.IsZero() {
			date = e.Date.Format("2006-01-02 15:04")
		}
		fmt.Printf("%s %-8s %-16s %-30s %s\n", marker, e.Provider, date, e.From.Address, e.Subject)
	}
}

func joinAddresses(addrs []model.EmailAddress) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: mailhub [-config path] <command> [flags]

commands:
  accounts        list connected accounts
  add-account     connect an account (OAuth tokens or Yahoo app password)
  remove-account  disconnect an account
  inbox           unified inbox across all of a user's accounts
  list            list one account's messages (paged)
  read            print a single message
  mark            set a message's read state
  send            send a new message
  reply           reply to a message`)
}
