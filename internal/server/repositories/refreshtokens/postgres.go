package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dkravtsov/authd/internal/common"
	"github.com/dkravtsov/authd/internal/dbx"
	"github.com/dkravtsov/authd/internal/server/models"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

// PostgresRepository implements Repository over dbx.DBTX (satisfied by both
// *sql.DB and *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, userID, token string) error {
	query := `
		INSERT INTO refresh_tokens (user_id, token)
		VALUES ($1, $2)
	`
	if _, err := r.db.ExecContext(ctx, query, userID, token); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: refresh token record", common.ErrorAlreadyExists)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindExact(ctx context.Context, userID, token string) (*models.RefreshToken, error) {
	query := `
		SELECT user_id, token, created_at
		FROM refresh_tokens
		WHERE user_id = $1 AND token = $2
	`
	rec := &models.RefreshToken{}
	if err := r.db.QueryRowContext(ctx, query, userID, token).Scan(&rec.UserID, &rec.Token, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := `
		SELECT user_id, token, created_at
		FROM refresh_tokens
		WHERE token = $1
	`
	rec := &models.RefreshToken{}
	if err := r.db.QueryRowContext(ctx, query, token).Scan(&rec.UserID, &rec.Token, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID, token string) error {
	query := `
		DELETE FROM refresh_tokens
		WHERE user_id = $1 AND token = $2
	`
	res, err := r.db.ExecContext(ctx, query, userID, token)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// Rotate needs a real *sql.DB to open a transaction; a repository already
// bound to a transaction delegates to rotateIn on its handle.
func (r *PostgresRepository) Rotate(ctx context.Context, userID, oldToken, newToken string) error {
	if db, ok := r.db.(*sql.DB); ok {
		return dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			return NewPostgresRepository(tx).rotateIn(ctx, userID, oldToken, newToken)
		})
	}
	return r.rotateIn(ctx, userID, oldToken, newToken)
}

func (r *PostgresRepository) rotateIn(ctx context.Context, userID, oldToken, newToken string) error {
	if err := r.Delete(ctx, userID, oldToken); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.Insert(ctx, userID, newToken)
}
