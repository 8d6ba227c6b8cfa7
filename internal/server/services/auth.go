// Package services contains the server-side business logic for the
// credential flows: login, refresh-token rotation, and logout.
package services

import (
	"context"
	"errors"

	"github.com/dkravtsov/authd/internal/common"
	"github.com/dkravtsov/authd/internal/logging"
	"github.com/dkravtsov/authd/internal/server/auth"
	"github.com/dkravtsov/authd/internal/server/authz"
	"github.com/dkravtsov/authd/internal/server/dispatch"
	"github.com/dkravtsov/authd/internal/server/provider"
	"github.com/dkravtsov/authd/internal/server/repositories/refreshtokens"
)

// Operation names registered on the dispatcher.
const (
	OpLogin   = "Login"
	OpRefresh = "RefreshToken"
	OpLogout  = "Logout"
)

// TokenPair bundles a short-lived access token and its paired refresh token.
type TokenPair struct {
	AuthToken    string `json:"authToken"`
	RefreshToken string `json:"refreshToken"`
}

// LoginParams carries the credentials for the login flow. The identifier may
// be a username or an email address.
type LoginParams struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshParams carries the refresh token being exchanged.
type RefreshParams struct {
	RefreshToken string `json:"refreshToken"`
}

// LogoutParams carries the refresh token being revoked.
type LogoutParams struct {
	RefreshToken string `json:"refreshToken"`
}

// AuthService orchestrates the token service, the refresh-token store, and
// the credential provider into the three user-facing flows.
type AuthService struct {
	tokens   *auth.TokenService
	store    refreshtokens.Repository
	provider provider.Provider
	logger   logging.Logger
}

func NewAuthService(tokens *auth.TokenService, store refreshtokens.Repository, p provider.Provider, logger logging.Logger) *AuthService {
	return &AuthService{
		tokens:   tokens,
		store:    store,
		provider: p,
		logger:   logger.With("module", "auth_service"),
	}
}

// RegisterOperations attaches the credential flows to the dispatcher. Login
// and RefreshToken are public; Logout requires an authenticated caller.
func (s *AuthService) RegisterOperations(d *dispatch.Dispatcher) error {
	if err := d.Register(OpLogin, nil, func(ctx context.Context, params any) (any, error) {
		p, ok := params.(LoginParams)
		if !ok {
			return nil, common.BadRequestError("invalid login parameters")
		}
		return s.Login(ctx, p)
	}); err != nil {
		return err
	}

	if err := d.Register(OpRefresh, nil, func(ctx context.Context, params any) (any, error) {
		p, ok := params.(RefreshParams)
		if !ok {
			return nil, common.BadRequestError("invalid refresh parameters")
		}
		return s.Refresh(ctx, p.RefreshToken)
	}); err != nil {
		return err
	}

	return d.Register(OpLogout, []authz.Requirement{{}}, func(ctx context.Context, params any) (any, error) {
		p, ok := params.(LogoutParams)
		if !ok {
			return nil, common.BadRequestError("invalid logout parameters")
		}
		return nil, s.Logout(ctx, p.RefreshToken)
	})
}

// Login authenticates the credentials and mints a fresh token pair, storing
// the refresh token's durable record. Earlier refresh tokens for the same
// user stay valid; concurrent sessions are allowed.
func (s *AuthService) Login(ctx context.Context, params LoginParams) (*TokenPair, error) {
	if params.Username == "" || params.Password == "" {
		return nil, common.BadRequestError("username and password are required")
	}

	user, err := s.provider.Authenticate(ctx, params.Username, params.Password)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.BadRequestError("incorrect username or password")
		}
		return nil, err
	}

	roles, err := s.provider.RolesOf(ctx, user)
	if err != nil {
		return nil, err
	}

	pair, err := s.issueTokenPair(user.ID, roles)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.store.Insert(ctx, user.ID, pair.RefreshToken); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "user logged in", "user_id", user.ID)
	return pair, nil
}

// Refresh exchanges a valid, unconsumed refresh token for a new token pair.
// The presented token's durable record is deleted and the replacement
// inserted in one unit of work, so the token is single-use: of two requests
// racing on the same token, the loser gets a not-found failure rather than a
// second pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if !s.tokens.ValidateRefreshToken(refreshToken) {
		return nil, common.BadRequestError("refresh token is not valid")
	}

	rec, err := s.store.FindByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NotFoundError("RefreshToken", refreshToken)
		}
		return nil, err
	}

	user, err := s.provider.FindUserByID(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NotFoundError("User", rec.UserID)
		}
		return nil, err
	}

	roles, err := s.provider.RolesOf(ctx, user)
	if err != nil {
		return nil, err
	}

	pair, err := s.issueTokenPair(user.ID, roles)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.store.Rotate(ctx, rec.UserID, refreshToken, pair.RefreshToken); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// A concurrent refresh consumed the record first.
			return nil, common.NotFoundError("RefreshToken", refreshToken)
		}
		return nil, err
	}

	s.logger.Info(ctx, "refresh token rotated", "user_id", user.ID)
	return pair, nil
}

// Logout signs the caller out and revokes the presented refresh token. The
// record lookup is by the exact (currentUser, token) composite key, and a
// miss reports the *user* entity keyed by the current user id. That message
// shape is long-standing observable behavior; keep it.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	userID := dispatch.UserIDFromContext(ctx)
	if userID == "" {
		return common.UnauthenticatedError("user is not authenticated")
	}
	if refreshToken == "" {
		return common.BadRequestError("refresh token is required")
	}

	if err := s.provider.SignOut(ctx, userID); err != nil {
		return err
	}

	rec, err := s.store.FindExact(ctx, userID, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.NotFoundError("User", userID)
		}
		return err
	}

	if err := s.store.Delete(ctx, rec.UserID, rec.Token); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.NotFoundError("User", userID)
		}
		return err
	}

	s.logger.Info(ctx, "user logged out", "user_id", userID)
	return nil
}

func (s *AuthService) issueTokenPair(userID string, roles []string) (*TokenPair, error) {
	access, err := s.tokens.IssueAccessToken(userID, roles)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefreshToken()
	if err != nil {
		return nil, err
	}
	return &TokenPair{AuthToken: access, RefreshToken: refresh}, nil
}
