package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/incident-tracker/internal/models"
	appErrors "github.com/noah-isme/incident-tracker/pkg/errors"
)

const redisTxRetries = 5

// PasswordResetRedisRepository keeps reset tokens in Redis. Each token is
// stored under <prefix>:token:<value> and the owner's current token under
// <prefix>:user:<id>; both expire with the token.
type PasswordResetRedisRepository struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewPasswordResetRedisRepository constructs the Redis token store.
func NewPasswordResetRedisRepository(client *redis.Client, prefix string, logger *zap.Logger) *PasswordResetRedisRepository {
	if prefix == "" {
		prefix = "reset"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PasswordResetRedisRepository{client: client, prefix: prefix, logger: logger}
}

func (r *PasswordResetRedisRepository) tokenKey(token string) string {
	return r.prefix + ":token:" + token
}

func (r *PasswordResetRedisRepository) userKey(userID int64) string {
	return r.prefix + ":user:" + strconv.FormatInt(userID, 10)
}

// ReplaceForUser swaps the user's token for token using WATCH/MULTI so a
// concurrent issue for the same user cannot leave two live tokens. A token
// string already held by another user is rejected with a CONFLICT error.
func (r *PasswordResetRedisRepository) ReplaceForUser(ctx context.Context, token *models.PasswordResetToken) error {
	id, err := r.client.Incr(ctx, r.prefix+":seq").Result()
	if err != nil {
		return fmt.Errorf("allocate reset token id: %w", err)
	}
	token.ID = id

	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal reset token: %w", err)
	}

	userKey := r.userKey(token.UserID)
	tokenKey := r.tokenKey(token.Token)
	txf := func(tx *redis.Tx) error {
		previous, err := tx.Get(ctx, userKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err := r.checkTokenFree(ctx, tx, tokenKey, token.UserID); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if previous != "" {
				pipe.Del(ctx, r.tokenKey(previous))
			}
			pipe.Set(ctx, tokenKey, payload, 0)
			pipe.ExpireAt(ctx, tokenKey, token.ExpiresAt)
			pipe.Set(ctx, userKey, token.Token, 0)
			pipe.ExpireAt(ctx, userKey, token.ExpiresAt)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisTxRetries; attempt++ {
		err = r.client.Watch(ctx, txf, userKey, tokenKey)
		if err == nil {
			return nil
		}
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("replace reset token: %w", err)
		}
		r.logger.Debug("reset token replace contended, retrying", zap.Int64("user_id", token.UserID), zap.Int("attempt", attempt+1))
	}
	return fmt.Errorf("replace reset token: %w", err)
}

// checkTokenFree fails when tokenKey holds a record owned by someone other
// than userID.
func (r *PasswordResetRedisRepository) checkTokenFree(ctx context.Context, tx *redis.Tx, tokenKey string, userID int64) error {
	raw, err := tx.Get(ctx, tokenKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	var existing models.PasswordResetToken
	if err := json.Unmarshal(raw, &existing); err != nil {
		return fmt.Errorf("unmarshal reset token: %w", err)
	}
	if existing.UserID != userID {
		return appErrors.Clone(appErrors.ErrConflict, "reset token already in use")
	}
	return nil
}

// FindByToken returns the stored token or sql.ErrNoRows.
func (r *PasswordResetRedisRepository) FindByToken(ctx context.Context, token string) (*models.PasswordResetToken, error) {
	raw, err := r.client.Get(ctx, r.tokenKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("redis get reset token: %w", err)
	}

	var prt models.PasswordResetToken
	if err := json.Unmarshal(raw, &prt); err != nil {
		return nil, fmt.Errorf("unmarshal reset token: %w", err)
	}
	return &prt, nil
}

// DeleteByToken removes the token and, when it is still the owner's current
// one, the owner pointer. Only the caller whose DEL removed the key succeeds;
// everyone else gets sql.ErrNoRows.
func (r *PasswordResetRedisRepository) DeleteByToken(ctx context.Context, token string) error {
	prt, err := r.FindByToken(ctx, token)
	if err != nil {
		return err
	}

	removed, err := r.client.Del(ctx, r.tokenKey(token)).Result()
	if err != nil {
		return fmt.Errorf("delete reset token: %w", err)
	}
	if removed == 0 {
		return sql.ErrNoRows
	}
	if err := r.clearOwner(ctx, prt.UserID, token); err != nil {
		return fmt.Errorf("clear reset token owner: %w", err)
	}
	return nil
}

// DeleteExpired removes tokens whose expiry has passed but whose keys are
// still present, which happens when the Redis clock lags the service clock.
func (r *PasswordResetRedisRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	iter := r.client.Scan(ctx, 0, r.prefix+":token:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return removed, fmt.Errorf("redis get %s: %w", key, err)
		}

		var prt models.PasswordResetToken
		if err := json.Unmarshal(raw, &prt); err != nil {
			r.logger.Warn("dropping unreadable reset token", zap.String("key", key), zap.Error(err))
		} else if !prt.Expired(now) {
			continue
		}

		if err := r.client.Del(ctx, key).Err(); err != nil {
			return removed, fmt.Errorf("redis delete %s: %w", key, err)
		}
		if prt.UserID != 0 {
			if err := r.clearOwner(ctx, prt.UserID, prt.Token); err != nil {
				r.logger.Warn("failed to clear reset token owner", zap.Int64("user_id", prt.UserID), zap.Error(err))
			}
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan reset tokens: %w", err)
	}
	return removed, nil
}

// clearOwner drops the user pointer when it still references token.
func (r *PasswordResetRedisRepository) clearOwner(ctx context.Context, userID int64, token string) error {
	userKey := r.userKey(userID)
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, userKey).Result()
		if errors.Is(err, redis.Nil) || (err == nil && current != token) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, userKey)
			return nil
		})
		return err
	}, userKey)
}
