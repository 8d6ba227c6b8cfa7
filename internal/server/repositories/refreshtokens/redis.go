package refreshtokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dkravtsov/authd/internal/common"
	"github.com/dkravtsov/authd/internal/server/models"
)

// RedisRepository implements Repository over Redis. Each record is stored
// twice: under its composite key for exact lookups, and under a token index
// so Refresh can resolve the owner from the token value alone. Both keys
// carry the refresh-token TTL so consumed-then-forgotten records expire on
// their own.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	return &RedisRepository{client: client, ttl: ttl}
}

func recordKey(userID, token string) string {
	return "refresh:record:" + userID + ":" + token
}

func indexKey(token string) string {
	return "refresh:token:" + token
}

func (r *RedisRepository) Insert(ctx context.Context, userID, token string) error {
	ok, err := r.client.SetNX(ctx, recordKey(userID, token), time.Now().UTC().Format(time.RFC3339Nano), r.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: refresh token record", common.ErrorAlreadyExists)
	}
	if err := r.client.Set(ctx, indexKey(token), userID, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (r *RedisRepository) FindExact(ctx context.Context, userID, token string) (*models.RefreshToken, error) {
	created, err := r.client.Get(ctx, recordKey(userID, token)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	return r.record(userID, token, created), nil
}

func (r *RedisRepository) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	userID, err := r.client.Get(ctx, indexKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}

	created, err := r.client.Get(ctx, recordKey(userID, token)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	return r.record(userID, token, created), nil
}

func (r *RedisRepository) Delete(ctx context.Context, userID, token string) error {
	removed, err := r.client.Del(ctx, recordKey(userID, token)).Result()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	if removed == 0 {
		return common.ErrorNotFound
	}
	if err := r.client.Del(ctx, indexKey(token)).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

// Rotate watches the old record key so a concurrent consumer aborts the
// transaction; the loser of a same-token race sees the record gone and gets
// ErrorNotFound.
func (r *RedisRepository) Rotate(ctx context.Context, userID, oldToken, newToken string) error {
	oldRecord := recordKey(userID, oldToken)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		if err := tx.Get(ctx, oldRecord).Err(); err != nil {
			if errors.Is(err, redis.Nil) {
				return common.ErrorNotFound
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, oldRecord)
			pipe.Del(ctx, indexKey(oldToken))
			pipe.Set(ctx, recordKey(userID, newToken), time.Now().UTC().Format(time.RFC3339Nano), r.ttl)
			pipe.Set(ctx, indexKey(newToken), userID, r.ttl)
			return nil
		})
		return err
	}, oldRecord)

	if errors.Is(err, redis.TxFailedErr) {
		// Another request consumed the token between watch and exec.
		return common.ErrorNotFound
	}
	if errors.Is(err, common.ErrorNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (r *RedisRepository) record(userID, token, created string) *models.RefreshToken {
	rec := &models.RefreshToken{UserID: userID, Token: token}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		rec.CreatedAt = ts
	}
	return rec
}
