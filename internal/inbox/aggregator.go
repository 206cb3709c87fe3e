// Package inbox merges mail across a user's connected accounts into
// one view. Each account is fetched concurrently; per-account failures
// are collected alongside the partial result instead of aborting the
// aggregate.
package inbox

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
)

// AccountLister supplies the accounts to aggregate over.
type AccountLister interface {
	ListByUser(ctx context.Context, userID string) ([]model.Account, error)
}

// AdapterFunc resolves an account into a ready adapter. The aggregator
// calls it fresh per account per request so rotated tokens are picked
// up.
type AdapterFunc func(ctx context.Context, account model.Account) (provider.EmailProvider, error)

// AccountError records one account's failure during aggregation.
type AccountError struct {
	AccountID string         `json:"accountId"`
	Provider  model.Provider `json:"provider"`
	Err       error          `json:"-"`
	Message   string         `json:"error"`
}

// Result is a merged page of emails plus whatever went wrong per
// account along the way.
type Result struct {
	Emails []model.UnifiedEmail `json:"emails"`
	Errors []AccountError       `json:"errors,omitempty"`
}

// Aggregator fans list calls out across accounts and merges the pages.
type Aggregator struct {
	accounts   AccountLister
	newAdapter AdapterFunc
}

// New creates an Aggregator.
func New(accounts AccountLister, newAdapter AdapterFunc) *Aggregator {
	return &Aggregator{accounts: accounts, newAdapter: newAdapter}
}

// ListAll fetches the first page of every account belonging to userID
// concurrently and merges the results sorted by date descending.
// Undated messages sort last. An account that fails contributes an
// error entry, never an abort.
func (a *Aggregator) ListAll(ctx context.Context, userID string) (*Result, error) {
	accounts, err := a.accounts.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, account := range accounts {
		wg.Add(1)
		go func() {
			defer wg.Done()

			emails, err := a.listAccount(ctx, account)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("inbox: account %s (%s) failed: %v",
					account.ID, account.Provider, err)
				result.Errors = append(result.Errors, AccountError{
					AccountID: account.ID,
					Provider:  account.Provider,
					Err:       err,
					Message:   err.Error(),
				})
				return
			}
			result.Emails = append(result.Emails, emails...)
		}()
	}
	wg.Wait()

	sortByDateDesc(result.Emails)

	// Keep error order deterministic for callers that render them.
	sort.Slice(result.Errors, func(i, j int) bool {
		return result.Errors[i].AccountID < result.Errors[j].AccountID
	})

	return result, nil
}

// listAccount fetches one account's first page.
func (a *Aggregator) listAccount(ctx context.Context, account model.Account) ([]model.UnifiedEmail, error) {
	adapter, err := a.newAdapter(ctx, account)
	if err != nil {
		return nil, err
	}
	page, err := adapter.ListEmails(ctx, "")
	if err != nil {
		return nil, err
	}
	return page.Emails, nil
}

// sortByDateDesc orders newest first, pushing undated (zero-date)
// messages to the end rather than letting them float to the top.
func sortByDateDesc(emails []model.UnifiedEmail) {
	sort.SliceStable(emails, func(i, j int) bool {
		di, dj := emails[i].Date, emails[j].Date
		switch {
		case di.IsZero() && dj.IsZero():
			return false
		case di.IsZero():
			return false
		case dj.IsZero():
			return true
		default:
			return di.After(dj)
		}
	})
}
