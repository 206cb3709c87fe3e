package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nhle/mailhub/internal/model"
)

// defaultCallTimeout bounds a single provider operation, including the
// one permitted refresh-and-retry.
const defaultCallTimeout = 30 * time.Second

// refreshGroup collapses concurrent refreshes for the same account into
// a single token exchange, so two simultaneous 401s cannot race and
// invalidate each other's issued token.
var refreshGroup singleflight.Group

// TokenRefresher exchanges a refresh token for a new access token. Each
// OAuth adapter owns its provider-specific implementation; it is only
// invoked by the retry protocol, never by callers directly.
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*model.Tokens, error)
}

// Retrier applies the token-refresh retry protocol to a provider call:
// attempt with the current token; on an Unauthorized classification,
// refresh once, persist the new token, and retry exactly once. Any
// other failure is terminal.
type Retrier struct {
	store     CredentialStore
	refresher TokenRefresher
	timeout   time.Duration
}

// NewRetrier builds a Retrier. refresher may be nil for credential
// modes with no refresh path (Yahoo app passwords), in which case an
// Unauthorized result becomes a permanent AuthFailedError immediately.
func NewRetrier(store CredentialStore, refresher TokenRefresher) *Retrier {
	return &Retrier{
		store:     store,
		refresher: refresher,
		timeout:   defaultCallTimeout,
	}
}

// WithTimeout overrides the per-call deadline.
func (r *Retrier) WithTimeout(d time.Duration) *Retrier {
	r.timeout = d
	return r
}

// Do runs call with the credentials' current access token, applying the
// retry protocol. call receives the token to use for that attempt.
func (r *Retrier) Do(
	ctx context.Context,
	creds *model.Credentials,
	call func(ctx context.Context, accessToken string) error,
) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	provider := creds.Account.Provider

	err := call(ctx, creds.AccessToken)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Provider: provider, Status: "timeout", Message: err.Error()}
	}
	if !IsUnauthorized(err) {
		return err
	}

	if r.refresher == nil || creds.RefreshToken == "" {
		return &AuthFailedError{
			Provider: provider,
			Message:  "credentials rejected and no refresh token available",
		}
	}

	tokens, err := r.refresh(ctx, creds)
	if err != nil {
		return err
	}

	err = call(ctx, tokens.AccessToken)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Provider: provider, Status: "timeout", Message: err.Error()}
	}
	if IsUnauthorized(err) {
		// Never refresh twice per call.
		return &AuthFailedError{
			Provider: provider,
			Message:  "credentials still rejected after token refresh",
		}
	}
	return err
}

// refresh performs at most one in-flight token exchange per account and
// persists the result before it is used.
func (r *Retrier) refresh(ctx context.Context, creds *model.Credentials) (*model.Tokens, error) {
	accountID := creds.Account.ID

	v, err, _ := refreshGroup.Do(accountID, func() (interface{}, error) {
		tokens, err := r.refresher.RefreshAccessToken(ctx, creds.RefreshToken)
		if err != nil {
			return nil, err
		}
		if tokens.RefreshToken == "" {
			// Providers may omit the refresh token on renewal; keep
			// the one we already hold.
			tokens.RefreshToken = creds.RefreshToken
		}
		if err := r.store.UpdateTokens(ctx, accountID, *tokens); err != nil {
			return nil, fmt.Errorf("persisting refreshed tokens: %w", err)
		}
		return tokens, nil
	})
	if err != nil {
		return nil, &AuthFailedError{
			Provider: creds.Account.Provider,
			Message:  fmt.Sprintf("token refresh failed: %v", err),
		}
	}

	tokens := v.(*model.Tokens)
	return tokens, nil
}
