package model

import "time"

// Provider identifies the kind of email provider backing an account.
type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
	ProviderYahoo   Provider = "yahoo"
)

// Valid reports whether p is a known provider type.
func (p Provider) Valid() bool {
	switch p {
	case ProviderGmail, ProviderOutlook, ProviderYahoo:
		return true
	}
	return false
}

// Account holds the stored metadata for a connected email account.
// Tokens themselves live in the system keyring, not in the database.
type Account struct {
	// ID is the unique identifier for this account.
	ID string `db:"id"`

	// UserID identifies the owning user.
	UserID string `db:"user_id"`

	// Provider identifies the backing provider (gmail, outlook, yahoo).
	Provider Provider `db:"provider"`

	// EmailAddress is the address of the connected mailbox.
	EmailAddress string `db:"email_address"`

	// TokenExpiry is when the current access token expires. Zero for
	// Yahoo accounts using an app password.
	TokenExpiry time.Time `db:"token_expiry"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Tokens holds a freshly issued set of provider tokens.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Credentials is the read-only snapshot an adapter borrows for a single
// call: the account row plus the secrets loaded from the keyring.
type Credentials struct {
	Account Account

	// AccessToken is the current OAuth access token. Empty for Yahoo
	// accounts in app-password mode.
	AccessToken string

	// RefreshToken is the OAuth refresh token, if the provider issued one.
	RefreshToken string

	// AppPassword is the 16-character provider-issued app password used
	// by Yahoo accounts that are not OAuth-connected.
	AppPassword string
}
