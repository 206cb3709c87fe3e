package factory

import (
	"context"
	"errors"
	"testing"

	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
)

type stubStore struct{}

func (stubStore) Get(_ context.Context, _ string) (*model.Credentials, error) {
	return nil, nil
}

func (stubStore) UpdateTokens(_ context.Context, _ string, _ model.Tokens) error {
	return nil
}

func testConfig() *model.AppConfig {
	return &model.AppConfig{
		PageSize: 20,
		Providers: model.ProvidersConfig{
			Gmail:   model.OAuthClientConfig{ClientID: "g", ClientSecret: "s"},
			Outlook: model.OAuthClientConfig{ClientID: "o", ClientSecret: "s"},
			Yahoo: model.YahooConfig{
				IMAPHost: "imap.mail.yahoo.com", IMAPPort: "993",
				SMTPHost: "smtp.mail.yahoo.com", SMTPPort: "465",
			},
		},
	}
}

func credsFor(p model.Provider) *model.Credentials {
	return &model.Credentials{
		Account: model.Account{
			ID: "acct-1", Provider: p, EmailAddress: "user@example.com",
		},
		AccessToken: "token",
	}
}

func TestNew_ResolvesEachProvider(t *testing.T) {
	t.Parallel()

	for _, p := range []model.Provider{
		model.ProviderGmail, model.ProviderOutlook, model.ProviderYahoo,
	} {
		adapter, err := New(testConfig(), credsFor(p), stubStore{})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", p, err)
		}
		if got := adapter.Provider(); got != p {
			t.Errorf("adapter provider: got %q, want %q", got, p)
		}
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	t.Parallel()

	_, err := New(testConfig(), credsFor("aol"), stubStore{})

	var unsupported *provider.UnsupportedProviderError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedProviderError, got %v", err)
	}
	if unsupported.Provider != "aol" {
		t.Errorf("provider in error: got %q, want %q", unsupported.Provider, "aol")
	}
}
