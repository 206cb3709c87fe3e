// Package factory resolves a stored account's provider type into a
// concrete adapter instance. It is stateless: every request constructs
// a fresh adapter from freshly loaded credentials, since tokens may
// have rotated since the last call.
package factory

import (
	"time"

	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
	"github.com/nhle/mailhub/internal/provider/gmail"
	"github.com/nhle/mailhub/internal/provider/outlook"
	"github.com/nhle/mailhub/internal/provider/yahoo"
)

// New builds the adapter for the account carried in creds. Fails with
// UnsupportedProviderError for any provider type outside
// gmail/outlook/yahoo.
func New(
	cfg *model.AppConfig,
	creds *model.Credentials,
	store provider.CredentialStore,
) (provider.EmailProvider, error) {
	timeout := time.Duration(cfg.CallTimeoutSec) * time.Second

	switch creds.Account.Provider {
	case model.ProviderGmail:
		a := gmail.NewAdapter(creds, store, cfg.Providers.Gmail, cfg.PageSize)
		if timeout > 0 {
			a.WithCallTimeout(timeout)
		}
		return a, nil
	case model.ProviderOutlook:
		a := outlook.NewAdapter(creds, store, cfg.Providers.Outlook, cfg.PageSize, "")
		if timeout > 0 {
			a.WithCallTimeout(timeout)
		}
		return a, nil
	case model.ProviderYahoo:
		a := yahoo.NewAdapter(creds, store, cfg.Providers.Yahoo, cfg.PageSize)
		if timeout > 0 {
			a.WithCallTimeout(timeout)
		}
		return a, nil
	default:
		return nil, &provider.UnsupportedProviderError{
			Provider: string(creds.Account.Provider),
		}
	}
}
