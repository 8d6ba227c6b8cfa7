// Package refreshtokens manages the durable refresh-token records that
// authorize a signed refresh token for use. A record is single-use: Rotate
// deletes it and inserts its replacement in one unit of work, so of two
// requests racing on the same token exactly one wins.
package refreshtokens

import (
	"context"

	"github.com/dkravtsov/authd/internal/server/models"
)

// Repository is the store contract. (UserID, Token) is a composite unique
// key; Insert must fail loudly on a collision rather than overwrite.
type Repository interface {
	// Insert adds a new record. A colliding composite key yields an error
	// wrapping common.ErrorAlreadyExists.
	Insert(ctx context.Context, userID, token string) error

	// FindExact returns the record matching both user id and token value, or
	// an error wrapping common.ErrorNotFound. Exact match only.
	FindExact(ctx context.Context, userID, token string) (*models.RefreshToken, error)

	// FindByToken returns the record for a token value when the owner is not
	// yet known, or an error wrapping common.ErrorNotFound.
	FindByToken(ctx context.Context, token string) (*models.RefreshToken, error)

	// Delete removes a record. Deleting an absent record yields an error
	// wrapping common.ErrorNotFound.
	Delete(ctx context.Context, userID, token string) error

	// Rotate removes the old record and inserts its replacement atomically.
	// If the old record is already gone the rotation fails with an error
	// wrapping common.ErrorNotFound and nothing is inserted.
	Rotate(ctx context.Context, userID, oldToken, newToken string) error
}
