package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkravtsov/authd/internal/common"
	"github.com/dkravtsov/authd/internal/logging"
	"github.com/dkravtsov/authd/internal/server/auth"
	"github.com/dkravtsov/authd/internal/server/authz"
	"github.com/dkravtsov/authd/internal/server/dispatch"
	"github.com/dkravtsov/authd/internal/server/models"
)

// memStore is an in-memory refresh-token store with the same atomicity
// guarantees as the real repositories.
type memStore struct {
	mu   sync.Mutex
	recs map[string]string // token -> userID
}

func newMemStore() *memStore {
	return &memStore{recs: map[string]string{}}
}

func (s *memStore) Insert(_ context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, exists := s.recs[token]; exists && owner == userID {
		return common.ErrorAlreadyExists
	}
	s.recs[token] = userID
	return nil
}

func (s *memStore) FindExact(_ context.Context, userID, token string) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, exists := s.recs[token]; exists && owner == userID {
		return &models.RefreshToken{UserID: userID, Token: token}, nil
	}
	return nil, common.ErrorNotFound
}

func (s *memStore) FindByToken(_ context.Context, token string) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, exists := s.recs[token]; exists {
		return &models.RefreshToken{UserID: owner, Token: token}, nil
	}
	return nil, common.ErrorNotFound
}

func (s *memStore) Delete(_ context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, exists := s.recs[token]; !exists || owner != userID {
		return common.ErrorNotFound
	}
	delete(s.recs, token)
	return nil
}

func (s *memStore) Rotate(_ context.Context, userID, oldToken, newToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, exists := s.recs[oldToken]; !exists || owner != userID {
		return common.ErrorNotFound
	}
	delete(s.recs, oldToken)
	s.recs[newToken] = userID
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

type fakeProvider struct {
	users      map[string]*models.User // keyed by id
	byLogin    map[string]*models.User // keyed by username and email
	password   string
	roles      map[string][]string
	signOutIDs []string
}

func (p *fakeProvider) Authenticate(_ context.Context, identifier, password string) (*models.User, error) {
	u, ok := p.byLogin[identifier]
	if !ok || password != p.password {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

func (p *fakeProvider) RolesOf(_ context.Context, user *models.User) ([]string, error) {
	return p.roles[user.ID], nil
}

func (p *fakeProvider) IsInRole(_ context.Context, userID, role string) (bool, error) {
	for _, r := range p.roles[userID] {
		if r == role {
			return true, nil
		}
	}
	return false, nil
}

func (p *fakeProvider) EvaluatePolicy(context.Context, string, string) (bool, error) {
	return true, nil
}

func (p *fakeProvider) FindUserByID(_ context.Context, id string) (*models.User, error) {
	u, ok := p.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

func (p *fakeProvider) SignOut(_ context.Context, userID string) error {
	p.signOutIDs = append(p.signOutIDs, userID)
	return nil
}

func newFakeProvider() *fakeProvider {
	alice := &models.User{ID: "alice-id", UserName: "alice", Email: "alice@x.com"}
	return &fakeProvider{
		users:    map[string]*models.User{"alice-id": alice},
		byLogin:  map[string]*models.User{"alice": alice, "alice@x.com": alice},
		password: "Secret1!",
		roles:    map[string][]string{"alice-id": {"RegularUser"}},
	}
}

func newTestAuthService(t *testing.T) (*AuthService, *memStore, *fakeProvider) {
	t.Helper()

	tokens, err := auth.NewTokenService(auth.Config{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		Issuer:        "authd",
		Audience:      "authd-clients",
		AccessTTL:     8 * time.Hour,
		RefreshTTL:    12 * time.Hour,
	}, nil)
	require.NoError(t, err)

	store := newMemStore()
	p := newFakeProvider()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	return NewAuthService(tokens, store, p, logger), store, p
}

func TestLogin_Success(t *testing.T) {
	s, store, _ := newTestAuthService(t)

	pair, err := s.Login(context.Background(), LoginParams{Username: "alice@x.com", Password: "Secret1!"})
	require.NoError(t, err)

	assert.NotEmpty(t, pair.AuthToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AuthToken, pair.RefreshToken)

	_, err = store.FindExact(context.Background(), "alice-id", pair.RefreshToken)
	require.NoError(t, err, "a durable record keyed by the user must exist")
}

func TestLogin_AcceptsUsernameOrEmail(t *testing.T) {
	s, _, _ := newTestAuthService(t)

	_, err := s.Login(context.Background(), LoginParams{Username: "alice", Password: "Secret1!"})
	require.NoError(t, err)

	_, err = s.Login(context.Background(), LoginParams{Username: "alice@x.com", Password: "Secret1!"})
	require.NoError(t, err)
}

func TestLogin_IncorrectCredentials(t *testing.T) {
	s, _, _ := newTestAuthService(t)

	_, err := s.Login(context.Background(), LoginParams{Username: "alice", Password: "wrong"})
	require.ErrorIs(t, err, common.ErrorBadRequest)
	assert.Contains(t, err.Error(), "incorrect username or password")

	_, err = s.Login(context.Background(), LoginParams{Username: "nobody", Password: "Secret1!"})
	require.ErrorIs(t, err, common.ErrorBadRequest)
}

func TestLogin_MissingFields(t *testing.T) {
	s, _, _ := newTestAuthService(t)

	_, err := s.Login(context.Background(), LoginParams{Username: "alice"})
	require.ErrorIs(t, err, common.ErrorBadRequest)
}

func TestLogin_KeepsEarlierSessions(t *testing.T) {
	s, store, _ := newTestAuthService(t)
	ctx := context.Background()

	first, err := s.Login(ctx, LoginParams{Username: "alice", Password: "Secret1!"})
	require.NoError(t, err)
	second, err := s.Login(ctx, LoginParams{Username: "alice", Password: "Secret1!"})
	require.NoError(t, err)

	_, err = store.FindExact(ctx, "alice-id", first.RefreshToken)
	require.NoError(t, err, "a new login must not revoke earlier refresh tokens")
	_, err = store.FindExact(ctx, "alice-id", second.RefreshToken)
	require.NoError(t, err)
}

func TestRefresh_InvalidToken(t *testing.T) {
	s, _, _ := newTestAuthService(t)

	for _, tok := range []string{"", "garbage", "a.b.c"} {
		_, err := s.Refresh(context.Background(), tok)
		require.ErrorIs(t, err, common.ErrorBadRequest)
		assert.Contains(t, err.Error(), "refresh token is not valid")
	}
}

func TestRefresh_UnknownToken(t *testing.T) {
	s, _, _ := newTestAuthService(t)

	// Cryptographically valid but never stored.
	orphan, err := s.tokens.IssueRefreshToken()
	require.NoError(t, err)

	_, err = s.Refresh(context.Background(), orphan)
	require.ErrorIs(t, err, common.ErrorNotFound)
	assert.Contains(t, err.Error(), `entity "RefreshToken"`)
}

func TestRefresh_RotatesSingleUseToken(t *testing.T) {
	s, store, _ := newTestAuthService(t)
	ctx := context.Background()

	pair, err := s.Login(ctx, LoginParams{Username: "alice", Password: "Secret1!"})
	require.NoError(t, err)

	next, err := s.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)
	assert.NotEqual(t, next.AuthToken, next.RefreshToken)

	// The consumed token is gone and cannot be replayed.
	_, err = s.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, common.ErrorNotFound)

	_, err = store.FindExact(ctx, "alice-id", next.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, 1, store.count(), "exactly one record must remain")
}

func TestRefresh_MissingUser(t *testing.T) {
	s, store, p := newTestAuthService(t)
	ctx := context.Background()

	pair, err := s.Login(ctx, LoginParams{Username: "alice", Password: "Secret1!"})
	require.NoError(t, err)

	delete(p.users, "alice-id")

	_, err = s.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, common.ErrorNotFound)
	assert.Contains(t, err.Error(), `entity "User"`)

	// The record must not have been consumed when the user lookup failed.
	_, err = store.FindExact(ctx, "alice-id", pair.RefreshToken)
	require.NoError(t, err)
}

func TestRefresh_ConcurrentSameToken(t *testing.T) {
	s, store, _ := newTestAuthService(t)
	ctx := context.Background()

	pair, err := s.Login(ctx, LoginParams{Username: "alice", Password: "Secret1!"})
	require.NoError(t, err)

	const workers = 2
	results := make(chan error, workers)
	var start sync.WaitGroup
	start.Add(1)

	for i := 0; i < workers; i++ {
		go func() {
			start.Wait()
			_, err := s.Refresh(ctx, pair.RefreshToken)
			results <- err
		}()
	}
	start.Done()

	var succeeded, notFound int
	for i := 0; i < workers; i++ {
		switch err := <-results; {
		case err == nil:
			succeeded++
		case errors.Is(err, common.ErrorNotFound):
			notFound++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded, "exactly one refresh must win")
	assert.Equal(t, 1, notFound, "the loser must get NotFound")
	assert.Equal(t, 1, store.count(), "no duplicate records may remain")
}

func TestLogout_Success(t *testing.T) {
	s, store, p := newTestAuthService(t)

	pair, err := s.Login(context.Background(), LoginParams{Username: "alice", Password: "Secret1!"})
	require.NoError(t, err)

	ctx := dispatch.WithUserID(context.Background(), "alice-id")
	require.NoError(t, s.Logout(ctx, pair.RefreshToken))

	assert.Equal(t, []string{"alice-id"}, p.signOutIDs)
	_, err = store.FindExact(ctx, "alice-id", pair.RefreshToken)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestLogout_TokenOfAnotherUser(t *testing.T) {
	s, store, _ := newTestAuthService(t)

	pair, err := s.Login(context.Background(), LoginParams{Username: "alice", Password: "Secret1!"})
	require.NoError(t, err)

	ctx := dispatch.WithUserID(context.Background(), "bob-id")
	err = s.Logout(ctx, pair.RefreshToken)

	// The composite-key miss reports the user entity, keyed by the caller.
	require.ErrorIs(t, err, common.ErrorNotFound)
	assert.Contains(t, err.Error(), `entity "User" (bob-id)`)

	_, ferr := store.FindExact(context.Background(), "alice-id", pair.RefreshToken)
	require.NoError(t, ferr, "the other user's record must survive")
}

func TestLogout_Unauthenticated(t *testing.T) {
	s, _, _ := newTestAuthService(t)

	err := s.Logout(context.Background(), "whatever")
	require.ErrorIs(t, err, common.ErrorUnauthenticated)
}

func TestLogout_ConsumedToken(t *testing.T) {
	s, _, _ := newTestAuthService(t)
	ctx := dispatch.WithUserID(context.Background(), "alice-id")

	pair, err := s.Login(ctx, LoginParams{Username: "alice", Password: "Secret1!"})
	require.NoError(t, err)

	require.NoError(t, s.Logout(ctx, pair.RefreshToken))

	err = s.Logout(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, common.ErrorNotFound)
	assert.Contains(t, err.Error(), `entity "User" (alice-id)`)
}

func TestRegisterOperations_DispatchRoundTrip(t *testing.T) {
	s, _, p := newTestAuthService(t)

	var buf bytes.Buffer
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	d := dispatch.NewDispatcher(authz.NewEvaluator(p), logger)
	require.NoError(t, s.RegisterOperations(d))

	// Login is public.
	res, err := d.Dispatch(context.Background(), OpLogin, LoginParams{Username: "alice", Password: "Secret1!"})
	require.NoError(t, err)
	pair, ok := res.(*TokenPair)
	require.True(t, ok)

	// Refresh is public.
	res, err = d.Dispatch(context.Background(), OpRefresh, RefreshParams{RefreshToken: pair.RefreshToken})
	require.NoError(t, err)
	next, ok := res.(*TokenPair)
	require.True(t, ok)

	// Logout requires authentication; the chain denies before the flow runs.
	_, err = d.Dispatch(context.Background(), OpLogout, LogoutParams{RefreshToken: next.RefreshToken})
	require.ErrorIs(t, err, common.ErrorUnauthenticated)
	assert.Empty(t, p.signOutIDs, "denied logout must never reach the provider")

	ctx := dispatch.WithUserID(context.Background(), "alice-id")
	_, err = d.Dispatch(ctx, OpLogout, LogoutParams{RefreshToken: next.RefreshToken})
	require.NoError(t, err)

	// The login password never reaches the logs unmasked.
	assert.NotContains(t, buf.String(), "Secret1!")
}
