package inbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
)

type fakeLister struct {
	accounts []model.Account
	err      error
}

func (f *fakeLister) ListByUser(_ context.Context, _ string) ([]model.Account, error) {
	return f.accounts, f.err
}

// fakeProvider serves a fixed page (or error) for one account.
type fakeProvider struct {
	providerType model.Provider
	page         *provider.ListPage
	err          error
}

func (f *fakeProvider) Provider() model.Provider { return f.providerType }

func (f *fakeProvider) ListEmails(_ context.Context, _ string) (*provider.ListPage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

func (f *fakeProvider) GetEmail(_ context.Context, _ string) (*model.EmailContent, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProvider) UpdateReadStatus(_ context.Context, _ string, _ bool) error {
	return errors.New("not implemented")
}

func (f *fakeProvider) SendEmail(_ context.Context, _ provider.SendRequest) (*provider.SendResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProvider) ReplyToEmail(_ context.Context, _ provider.ReplyRequest) (*provider.SendResult, error) {
	return nil, errors.New("not implemented")
}

func dated(id string, p model.Provider, accountID string, date time.Time) model.UnifiedEmail {
	return model.UnifiedEmail{
		ID:        id,
		Provider:  p,
		AccountID: accountID,
		Date:      date,
	}
}

func TestListAll_MergesAndSortsAcrossAccounts(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{accounts: []model.Account{
		{ID: "acct-gmail", Provider: model.ProviderGmail},
		{ID: "acct-outlook", Provider: model.ProviderOutlook},
	}}

	providers := map[string]provider.EmailProvider{
		"acct-gmail": &fakeProvider{
			providerType: model.ProviderGmail,
			page: &provider.ListPage{Emails: []model.UnifiedEmail{
				dated("g1", model.ProviderGmail, "acct-gmail", base.Add(2*time.Hour)),
				dated("g2", model.ProviderGmail, "acct-gmail", base),
			}},
		},
		"acct-outlook": &fakeProvider{
			providerType: model.ProviderOutlook,
			page: &provider.ListPage{Emails: []model.UnifiedEmail{
				dated("o1", model.ProviderOutlook, "acct-outlook", base.Add(time.Hour)),
			}},
		},
	}

	agg := New(lister, func(_ context.Context, account model.Account) (provider.EmailProvider, error) {
		return providers[account.ID], nil
	})

	result, err := agg.ListAll(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("errors: got %v, want none", result.Errors)
	}
	if len(result.Emails) != 3 {
		t.Fatalf("email count: got %d, want 3", len(result.Emails))
	}

	wantOrder := []string{"g1", "o1", "g2"}
	for i, want := range wantOrder {
		if result.Emails[i].ID != want {
			t.Errorf("position %d: got %s, want %s", i, result.Emails[i].ID, want)
		}
	}
}

func TestListAll_FailedAccountContributesErrorNotAbort(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{accounts: []model.Account{
		{ID: "acct-ok", Provider: model.ProviderGmail},
		{ID: "acct-broken", Provider: model.ProviderYahoo},
	}}

	providers := map[string]provider.EmailProvider{
		"acct-ok": &fakeProvider{
			providerType: model.ProviderGmail,
			page: &provider.ListPage{Emails: []model.UnifiedEmail{
				dated("g1", model.ProviderGmail, "acct-ok", base),
			}},
		},
		"acct-broken": &fakeProvider{
			providerType: model.ProviderYahoo,
			err: &provider.AuthFailedError{
				Provider: model.ProviderYahoo,
				Message:  "app password rejected",
			},
		},
	}

	agg := New(lister, func(_ context.Context, account model.Account) (provider.EmailProvider, error) {
		return providers[account.ID], nil
	})

	result, err := agg.ListAll(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Emails) != 1 || result.Emails[0].ID != "g1" {
		t.Errorf("emails: got %+v, want just g1", result.Emails)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("error count: got %d, want 1", len(result.Errors))
	}

	accountErr := result.Errors[0]
	if accountErr.AccountID != "acct-broken" {
		t.Errorf("error account: got %q, want %q", accountErr.AccountID, "acct-broken")
	}
	if accountErr.Provider != model.ProviderYahoo {
		t.Errorf("error provider: got %q, want %q", accountErr.Provider, model.ProviderYahoo)
	}
	if !provider.IsAuthFailed(accountErr.Err) {
		t.Errorf("error cause: got %v, want AuthFailedError", accountErr.Err)
	}
}

func TestListAll_AdapterConstructionFailureIsPerAccount(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{accounts: []model.Account{
		{ID: "acct-1", Provider: "aol"},
	}}

	agg := New(lister, func(_ context.Context, account model.Account) (provider.EmailProvider, error) {
		return nil, &provider.UnsupportedProviderError{Provider: string(account.Provider)}
	})

	result, err := agg.ListAll(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("error count: got %d, want 1", len(result.Errors))
	}
}

func TestListAll_ListerFailureAborts(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{err: errors.New("db locked")}
	agg := New(lister, nil)

	if _, err := agg.ListAll(context.Background(), "user-1"); err == nil {
		t.Fatal("expected error from account lister")
	}
}

func TestSortByDateDesc_UndatedSortLast(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	emails := []model.UnifiedEmail{
		{ID: "undated-1"},
		{ID: "old", Date: base.Add(-time.Hour)},
		{ID: "undated-2"},
		{ID: "new", Date: base},
	}

	sortByDateDesc(emails)

	wantOrder := []string{"new", "old", "undated-1", "undated-2"}
	for i, want := range wantOrder {
		if emails[i].ID != want {
			t.Errorf("position %d: got %s, want %s", i, emails[i].ID, want)
		}
	}
}
