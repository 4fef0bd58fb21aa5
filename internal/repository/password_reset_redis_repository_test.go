package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/incident-tracker/internal/models"
	appErrors "github.com/noah-isme/incident-tracker/pkg/errors"
)

func newRedisRepo(t *testing.T) (*PasswordResetRedisRepository, *miniredis.Miniredis) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewPasswordResetRedisRepository(client, "test", nil), srv
}

func TestRedisReplaceForUserKeepsOneToken(t *testing.T) {
	repo, srv := newRedisRepo(t)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	require.NoError(t, repo.ReplaceForUser(ctx, &models.PasswordResetToken{Token: "first", UserID: 7, ExpiresAt: expires}))
	require.NoError(t, repo.ReplaceForUser(ctx, &models.PasswordResetToken{Token: "second", UserID: 7, ExpiresAt: expires}))

	_, err := repo.FindByToken(ctx, "first")
	assert.True(t, errors.Is(err, sql.ErrNoRows))

	prt, err := repo.FindByToken(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, int64(7), prt.UserID)
	assert.Equal(t, int64(2), prt.ID)

	owner, err := srv.Get("test:user:7")
	require.NoError(t, err)
	assert.Equal(t, "second", owner)
	assert.True(t, srv.TTL("test:token:second") > 0)
}

func TestRedisDeleteByToken(t *testing.T) {
	repo, srv := newRedisRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.ReplaceForUser(ctx, &models.PasswordResetToken{Token: "tok", UserID: 3, ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, repo.DeleteByToken(ctx, "tok"))

	assert.False(t, srv.Exists("test:token:tok"))
	assert.False(t, srv.Exists("test:user:3"))
	assert.True(t, errors.Is(repo.DeleteByToken(ctx, "tok"), sql.ErrNoRows))
}

func TestRedisTokenExpiresWithTTL(t *testing.T) {
	repo, srv := newRedisRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.ReplaceForUser(ctx, &models.PasswordResetToken{Token: "tok", UserID: 3, ExpiresAt: time.Now().Add(time.Hour)}))
	srv.FastForward(time.Hour + time.Second)

	_, err := repo.FindByToken(ctx, "tok")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestRedisDeleteExpiredSweepsLaggingKeys(t *testing.T) {
	repo, srv := newRedisRepo(t)
	ctx := context.Background()
	now := time.Now()
	srv.SetTime(now.Add(-2 * time.Hour))

	require.NoError(t, repo.ReplaceForUser(ctx, &models.PasswordResetToken{Token: "old", UserID: 1, ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, repo.ReplaceForUser(ctx, &models.PasswordResetToken{Token: "fresh", UserID: 2, ExpiresAt: now.Add(time.Hour)}))

	n, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.False(t, srv.Exists("test:token:old"))
	assert.False(t, srv.Exists("test:user:1"))
	assert.True(t, srv.Exists("test:token:fresh"))
}

func TestRedisReplaceForUserRejectsTokenOwnedByAnotherUser(t *testing.T) {
	repo, srv := newRedisRepo(t)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	require.NoError(t, repo.ReplaceForUser(ctx, &models.PasswordResetToken{Token: "shared", UserID: 1, ExpiresAt: expires}))
	err := repo.ReplaceForUser(ctx, &models.PasswordResetToken{Token: "shared", UserID: 2, ExpiresAt: expires})

	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))

	prt, err := repo.FindByToken(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, int64(1), prt.UserID)
	owner, err := srv.Get("test:user:1")
	require.NoError(t, err)
	assert.Equal(t, "shared", owner)
	assert.False(t, srv.Exists("test:user:2"))
}

func TestRedisReplaceForUserReissuesOwnToken(t *testing.T) {
	repo, _ := newRedisRepo(t)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	require.NoError(t, repo.ReplaceForUser(ctx, &models.PasswordResetToken{Token: "mine", UserID: 4, ExpiresAt: expires}))
	require.NoError(t, repo.ReplaceForUser(ctx, &models.PasswordResetToken{Token: "mine", UserID: 4, ExpiresAt: expires.Add(time.Minute)}))

	prt, err := repo.FindByToken(ctx, "mine")
	require.NoError(t, err)
	assert.Equal(t, int64(4), prt.UserID)
	assert.True(t, prt.ExpiresAt.Equal(expires.Add(time.Minute)))
}
