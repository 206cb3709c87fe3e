package store

import (
	"context"
	"time"

	"github.com/nhle/mailhub/internal/model"
)

// AccountStore defines the persistence interface for connected email
// account metadata. Token material is handled by the credential layer,
// not here.
type AccountStore interface {
	// CreateAccount inserts a new account row.
	CreateAccount(ctx context.Context, account model.Account) error

	// GetAccount returns the account with the given id, or nil when it
	// does not exist.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// GetAccountsByUser returns all accounts owned by a user, oldest
	// first.
	GetAccountsByUser(ctx context.Context, userID string) ([]model.Account, error)

	// UpdateTokenExpiry records the expiry of a freshly rotated access
	// token.
	UpdateTokenExpiry(ctx context.Context, id string, expiry time.Time) error

	// DeleteAccount removes an account row.
	DeleteAccount(ctx context.Context, id string) error
}
