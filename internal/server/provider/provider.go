// Package provider defines the credential/role/policy boundary the auth core
// consumes, plus a PostgreSQL-backed implementation.
package provider

import (
	"context"

	"github.com/dkravtsov/authd/internal/server/models"
)

// PolicyFunc evaluates a named policy for a user. Policies are registered
// when the provider is constructed.
type PolicyFunc func(ctx context.Context, userID string) (bool, error)

// Provider authenticates users and answers role/policy questions about them.
// A failed authentication and an unknown user both surface as an error
// wrapping common.ErrorNotFound; callers translate that to their own
// taxonomy.
type Provider interface {
	// Authenticate verifies a password for a user found by username or email.
	Authenticate(ctx context.Context, identifier, password string) (*models.User, error)

	// RolesOf lists the role names the user holds.
	RolesOf(ctx context.Context, user *models.User) ([]string, error)

	// IsInRole reports whether the user holds the named role.
	IsInRole(ctx context.Context, userID, role string) (bool, error)

	// EvaluatePolicy evaluates a named policy for the user. Unknown policies
	// evaluate to false.
	EvaluatePolicy(ctx context.Context, userID, policyName string) (bool, error)

	// FindUserByID resolves a user by id.
	FindUserByID(ctx context.Context, id string) (*models.User, error)

	// SignOut releases any session state the provider holds for the user.
	SignOut(ctx context.Context, userID string) error
}
