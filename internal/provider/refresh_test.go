package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nhle/mailhub/internal/model"
)

type fakeStore struct {
	mu      sync.Mutex
	updates []model.Tokens
	onSave  func()
}

func (s *fakeStore) Get(_ context.Context, _ string) (*model.Credentials, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeStore) UpdateTokens(_ context.Context, _ string, tokens model.Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, tokens)
	if s.onSave != nil {
		s.onSave()
	}
	return nil
}

func (s *fakeStore) saved() []model.Tokens {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Tokens(nil), s.updates...)
}

type fakeRefresher struct {
	count  atomic.Int32
	tokens *model.Tokens
	err    error
	gate   chan struct{}
}

func (r *fakeRefresher) RefreshAccessToken(_ context.Context, _ string) (*model.Tokens, error) {
	r.count.Add(1)
	if r.gate != nil {
		<-r.gate
	}
	if r.err != nil {
		return nil, r.err
	}
	tokens := *r.tokens
	return &tokens, nil
}

func testCreds(accountID string) *model.Credentials {
	return &model.Credentials{
		Account: model.Account{
			ID:       accountID,
			Provider: model.ProviderGmail,
		},
		AccessToken:  "stale-token",
		RefreshToken: "refresh-token",
	}
}

func TestRetrierDo_SuccessWithoutRefresh(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	refresher := &fakeRefresher{tokens: &model.Tokens{AccessToken: "fresh-token"}}
	r := NewRetrier(store, refresher)

	var calls int32
	err := r.Do(context.Background(), testCreds("acct-success"), func(_ context.Context, token string) error {
		atomic.AddInt32(&calls, 1)
		if token != "stale-token" {
			t.Errorf("token: got %q, want %q", token, "stale-token")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("call count: got %d, want 1", calls)
	}
	if refresher.count.Load() != 0 {
		t.Errorf("refresh count: got %d, want 0", refresher.count.Load())
	}
}

func TestRetrierDo_RefreshThenRetrySucceeds(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var sequence []string
	record := func(event string) {
		mu.Lock()
		sequence = append(sequence, event)
		mu.Unlock()
	}

	store := &fakeStore{onSave: func() { record("persist") }}
	refresher := &fakeRefresher{tokens: &model.Tokens{
		AccessToken:  "fresh-token",
		RefreshToken: "refresh-token-2",
	}}
	r := NewRetrier(store, refresher)

	err := r.Do(context.Background(), testCreds("acct-retry"), func(_ context.Context, token string) error {
		if token == "stale-token" {
			record("attempt-stale")
			return &UnauthorizedError{Provider: model.ProviderGmail, Message: "expired"}
		}
		record("attempt-fresh")
		if token != "fresh-token" {
			t.Errorf("retry token: got %q, want %q", token, "fresh-token")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if refresher.count.Load() != 1 {
		t.Errorf("refresh count: got %d, want 1", refresher.count.Load())
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"attempt-stale", "persist", "attempt-fresh"}
	if len(sequence) != len(want) {
		t.Fatalf("sequence: got %v, want %v", sequence, want)
	}
	for i := range want {
		if sequence[i] != want[i] {
			t.Fatalf("sequence: got %v, want %v", sequence, want)
		}
	}

	saved := store.saved()
	if len(saved) != 1 {
		t.Fatalf("persisted token sets: got %d, want 1", len(saved))
	}
	if saved[0].AccessToken != "fresh-token" {
		t.Errorf("persisted access token: got %q, want %q", saved[0].AccessToken, "fresh-token")
	}
	if saved[0].RefreshToken != "refresh-token-2" {
		t.Errorf("persisted refresh token: got %q, want %q", saved[0].RefreshToken, "refresh-token-2")
	}
}

func TestRetrierDo_SecondUnauthorizedIsPermanent(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	refresher := &fakeRefresher{tokens: &model.Tokens{AccessToken: "fresh-token"}}
	r := NewRetrier(store, refresher)

	var calls int32
	err := r.Do(context.Background(), testCreds("acct-permanent"), func(_ context.Context, _ string) error {
		atomic.AddInt32(&calls, 1)
		return &UnauthorizedError{Provider: model.ProviderGmail, Message: "still rejected"}
	})

	if !IsAuthFailed(err) {
		t.Fatalf("expected AuthFailedError, got %v", err)
	}
	if calls != 2 {
		t.Errorf("call count: got %d, want 2", calls)
	}
	if refresher.count.Load() != 1 {
		t.Errorf("refresh count: got %d, want 1 (never refresh twice)", refresher.count.Load())
	}
}

func TestRetrierDo_NoRefreshTokenIsPermanent(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	refresher := &fakeRefresher{tokens: &model.Tokens{AccessToken: "fresh-token"}}
	r := NewRetrier(store, refresher)

	creds := testCreds("acct-no-refresh-token")
	creds.RefreshToken = ""

	err := r.Do(context.Background(), creds, func(_ context.Context, _ string) error {
		return &UnauthorizedError{Provider: model.ProviderGmail, Message: "expired"}
	})

	if !IsAuthFailed(err) {
		t.Fatalf("expected AuthFailedError, got %v", err)
	}
	if refresher.count.Load() != 0 {
		t.Errorf("refresh count: got %d, want 0", refresher.count.Load())
	}
}

func TestRetrierDo_NilRefresherIsPermanent(t *testing.T) {
	t.Parallel()

	r := NewRetrier(&fakeStore{}, nil)

	err := r.Do(context.Background(), testCreds("acct-nil-refresher"), func(_ context.Context, _ string) error {
		return &UnauthorizedError{Provider: model.ProviderYahoo, Message: "rejected"}
	})

	if !IsAuthFailed(err) {
		t.Fatalf("expected AuthFailedError, got %v", err)
	}
}

func TestRetrierDo_RefreshFailureIsPermanent(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	refresher := &fakeRefresher{err: errors.New("invalid_grant")}
	r := NewRetrier(store, refresher)

	err := r.Do(context.Background(), testCreds("acct-refresh-failure"), func(_ context.Context, _ string) error {
		return &UnauthorizedError{Provider: model.ProviderGmail, Message: "expired"}
	})

	if !IsAuthFailed(err) {
		t.Fatalf("expected AuthFailedError, got %v", err)
	}
	if len(store.saved()) != 0 {
		t.Errorf("persisted token sets: got %d, want 0", len(store.saved()))
	}
}

func TestRetrierDo_NonAuthErrorPassesThrough(t *testing.T) {
	t.Parallel()

	refresher := &fakeRefresher{tokens: &model.Tokens{AccessToken: "fresh-token"}}
	r := NewRetrier(&fakeStore{}, refresher)

	original := &NotFoundError{Provider: model.ProviderGmail, ID: "msg-1"}
	err := r.Do(context.Background(), testCreds("acct-passthrough"), func(_ context.Context, _ string) error {
		return original
	})

	if !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if refresher.count.Load() != 0 {
		t.Errorf("refresh count: got %d, want 0", refresher.count.Load())
	}
}

func TestRetrierDo_TimeoutBecomesProviderError(t *testing.T) {
	t.Parallel()

	r := NewRetrier(&fakeStore{}, nil).WithTimeout(20 * time.Millisecond)

	err := r.Do(context.Background(), testCreds("acct-timeout"), func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})

	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.Status != "timeout" {
		t.Errorf("status: got %q, want %q", perr.Status, "timeout")
	}
}

func TestRetrierDo_ConcurrentRefreshesCollapse(t *testing.T) {
	t.Parallel()

	const workers = 5

	store := &fakeStore{}
	refresher := &fakeRefresher{
		tokens: &model.Tokens{AccessToken: "fresh-token"},
		gate:   make(chan struct{}),
	}
	r := NewRetrier(store, refresher)

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Do(context.Background(), testCreds("acct-concurrent"), func(_ context.Context, token string) error {
				if token == "stale-token" {
					return &UnauthorizedError{Provider: model.ProviderGmail, Message: "expired"}
				}
				return nil
			})
		}(i)
	}

	// Hold the refresher until every worker has had time to hit the 401
	// and join the in-flight exchange.
	time.Sleep(50 * time.Millisecond)
	close(refresher.gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("worker %d: unexpected error: %v", i, err)
		}
	}
	if got := refresher.count.Load(); got != 1 {
		t.Errorf("refresh count: got %d, want 1", got)
	}
	if got := len(store.saved()); got != 1 {
		t.Errorf("persisted token sets: got %d, want 1", got)
	}
}

func TestRetrierDo_RenewalWithoutRefreshTokenKeepsOld(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	refresher := &fakeRefresher{tokens: &model.Tokens{AccessToken: "fresh-token"}}
	r := NewRetrier(store, refresher)

	err := r.Do(context.Background(), testCreds("acct-keep-refresh"), func(_ context.Context, token string) error {
		if token == "stale-token" {
			return &UnauthorizedError{Provider: model.ProviderGmail, Message: "expired"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	saved := store.saved()
	if len(saved) != 1 {
		t.Fatalf("persisted token sets: got %d, want 1", len(saved))
	}
	if saved[0].RefreshToken != "refresh-token" {
		t.Errorf("refresh token: got %q, want the original %q", saved[0].RefreshToken, "refresh-token")
	}
}
