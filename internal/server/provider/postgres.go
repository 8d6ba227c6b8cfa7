package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/dkravtsov/authd/internal/common"
	"github.com/dkravtsov/authd/internal/dbx"
	"github.com/dkravtsov/authd/internal/logging"
	"github.com/dkravtsov/authd/internal/server/models"
)

// PostgresProvider verifies bcrypt password hashes against the users table
// and resolves roles through the user_roles join. The server keeps no
// session state, so SignOut only logs.
type PostgresProvider struct {
	db       dbx.DBTX
	policies map[string]PolicyFunc
	logger   logging.Logger
}

func NewPostgresProvider(db dbx.DBTX, policies map[string]PolicyFunc, logger logging.Logger) *PostgresProvider {
	if policies == nil {
		policies = map[string]PolicyFunc{}
	}
	return &PostgresProvider{
		db:       db,
		policies: policies,
		logger:   logger.With("module", "provider"),
	}
}

func (p *PostgresProvider) Authenticate(ctx context.Context, identifier, password string) (*models.User, error) {
	query := `
		SELECT id, username, email, password_hash, created_at
		FROM users
		WHERE username = $1 OR email = $1
	`
	user := &models.User{}
	err := p.db.QueryRowContext(ctx, query, identifier).
		Scan(&user.ID, &user.UserName, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, common.ErrorNotFound
	}
	return user, nil
}

func (p *PostgresProvider) RolesOf(ctx context.Context, user *models.User) ([]string, error) {
	query := `
		SELECT r.name
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`
	rows, err := p.db.QueryContext(ctx, query, user.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		roles = append(roles, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return roles, nil
}

func (p *PostgresProvider) IsInRole(ctx context.Context, userID, role string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM roles r
			JOIN user_roles ur ON ur.role_id = r.id
			WHERE ur.user_id = $1 AND r.name = $2
		)
	`
	var ok bool
	if err := p.db.QueryRowContext(ctx, query, userID, role).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

func (p *PostgresProvider) EvaluatePolicy(ctx context.Context, userID, policyName string) (bool, error) {
	policy, ok := p.policies[policyName]
	if !ok {
		p.logger.Warn(ctx, "unknown policy requested", "policy", policyName)
		return false, nil
	}
	return policy(ctx, userID)
}

func (p *PostgresProvider) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, username, email, password_hash, created_at
		FROM users
		WHERE id = $1
	`
	user := &models.User{}
	err := p.db.QueryRowContext(ctx, query, id).
		Scan(&user.ID, &user.UserName, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (p *PostgresProvider) SignOut(ctx context.Context, userID string) error {
	// No server-side session to clear; bearer tokens expire on their own and
	// the refresh record is revoked by the logout flow.
	p.logger.Info(ctx, "user signed out", "user_id", userID)
	return nil
}
