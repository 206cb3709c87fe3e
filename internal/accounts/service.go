// Package accounts composes the SQLite account store and the system
// keyring into the credential-store contract the provider adapters
// consume. Credentials are read fresh before every adapter construction
// and refreshed tokens are written back synchronously before reuse.
package accounts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailhub/internal/credential"
	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/store"
)

// Secrets abstracts the keyring so the service can be tested with an
// in-memory implementation.
type Secrets interface {
	Get(key string) (string, error)
	GetOptional(key string) string
	Set(key, value string) error
	Delete(key string) error
}

// keyringSecrets backs Secrets with the system keyring.
type keyringSecrets struct{}

func (keyringSecrets) Get(key string) (string, error) { return credential.Get(key) }
func (keyringSecrets) GetOptional(key string) string  { return credential.GetOptional(key) }
func (keyringSecrets) Set(key, value string) error    { return credential.Set(key, value) }
func (keyringSecrets) Delete(key string) error        { return credential.Delete(key) }

// Service owns account lifecycle: creation on OAuth callback or manual
// credential entry, token rotation, and removal.
type Service struct {
	store   store.AccountStore
	secrets Secrets
}

// NewService builds a Service over the given store and the system
// keyring.
func NewService(s store.AccountStore) *Service {
	return &Service{store: s, secrets: keyringSecrets{}}
}

// NewServiceWithSecrets builds a Service with a custom secret backend,
// used by tests.
func NewServiceWithSecrets(s store.AccountStore, secrets Secrets) *Service {
	return &Service{store: s, secrets: secrets}
}

// CreateParams holds everything needed to connect a new account.
type CreateParams struct {
	UserID       string
	Provider     model.Provider
	EmailAddress string

	// OAuth credential mode.
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time

	// Yahoo app-password mode.
	AppPassword string
}

// Create persists a new account: metadata to SQLite, secrets to the
// keyring.
func (s *Service) Create(ctx context.Context, p CreateParams) (*model.Account, error) {
	if !p.Provider.Valid() {
		return nil, fmt.Errorf("unknown provider %q", p.Provider)
	}
	if p.EmailAddress == "" {
		return nil, fmt.Errorf("email address is required")
	}
	if p.AccessToken == "" && p.AppPassword == "" {
		return nil, fmt.Errorf("either an access token or an app password is required")
	}

	account := model.Account{
		ID:           uuid.NewString(),
		UserID:       p.UserID,
		Provider:     p.Provider,
		EmailAddress: p.EmailAddress,
		TokenExpiry:  p.TokenExpiry,
	}

	if p.AccessToken != "" {
		if err := s.secrets.Set(credential.AccessTokenKey(account.ID), p.AccessToken); err != nil {
			return nil, err
		}
	}
	if p.RefreshToken != "" {
		if err := s.secrets.Set(credential.RefreshTokenKey(account.ID), p.RefreshToken); err != nil {
			return nil, err
		}
	}
	if p.AppPassword != "" {
		if err := s.secrets.Set(credential.AppPasswordKey(account.ID), p.AppPassword); err != nil {
			return nil, err
		}
	}

	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	return &account, nil
}

// Get loads the credentials snapshot for one account: the metadata row
// plus whatever secrets the keyring holds for it.
func (s *Service) Get(ctx context.Context, accountID string) (*model.Credentials, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account %s not found", accountID)
	}

	return &model.Credentials{
		Account:      *account,
		AccessToken:  s.secrets.GetOptional(credential.AccessTokenKey(accountID)),
		RefreshToken: s.secrets.GetOptional(credential.RefreshTokenKey(accountID)),
		AppPassword:  s.secrets.GetOptional(credential.AppPasswordKey(accountID)),
	}, nil
}

// UpdateTokens persists a rotated token set. The keyring write happens
// first so a crash between the two writes never leaves a stale secret
// behind a fresh expiry.
func (s *Service) UpdateTokens(ctx context.Context, accountID string, tokens model.Tokens) error {
	if err := s.secrets.Set(credential.AccessTokenKey(accountID), tokens.AccessToken); err != nil {
		return err
	}
	if tokens.RefreshToken != "" {
		if err := s.secrets.Set(credential.RefreshTokenKey(accountID), tokens.RefreshToken); err != nil {
			return err
		}
	}
	return s.store.UpdateTokenExpiry(ctx, accountID, tokens.ExpiresAt)
}

// ListByUser returns all accounts owned by a user.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]model.Account, error) {
	return s.store.GetAccountsByUser(ctx, userID)
}

// Delete removes the account row and all its keyring entries.
func (s *Service) Delete(ctx context.Context, accountID string) error {
	if err := s.store.DeleteAccount(ctx, accountID); err != nil {
		return err
	}
	for _, key := range []string{
		credential.AccessTokenKey(accountID),
		credential.RefreshTokenKey(accountID),
		credential.AppPasswordKey(accountID),
	} {
		if err := s.secrets.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
