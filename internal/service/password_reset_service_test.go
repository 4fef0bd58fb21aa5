package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/incident-tracker/internal/models"
	appErrors "github.com/noah-isme/incident-tracker/pkg/errors"
)

const strongPassword = "Renewed$Pass99"

type resetFixture struct {
	svc      *PasswordResetService
	tokens   *fakeTokenRepo
	users    *fakeUserRepo
	notifier *fakeNotifier
	metrics  *MetricsService
	now      time.Time
}

func newResetFixture(t *testing.T) *resetFixture {
	t.Helper()
	f := &resetFixture{
		tokens: newFakeTokenRepo(),
		users: newFakeUserRepo(models.User{
			ID: 1, Name: "Ana", FirstSurname: "Lopez", Email: "ana@example.com",
			Password: "$2a$10$previoushash", RoleName: models.RoleAssistant,
		}),
		notifier: &fakeNotifier{},
		metrics:  NewMetricsService(),
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewPasswordResetService(f.tokens, f.users, prefixHasher{}, f.notifier, nil, f.metrics, nil,
		PasswordResetConfig{BaseURL: "https://desk.example.com/"}).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *resetFixture) user() *models.User {
	return &models.User{ID: 1, Email: "ana@example.com"}
}

func TestIssueTokenSetsOneHourExpiry(t *testing.T) {
	f := newResetFixture(t)

	prt, err := f.svc.IssueToken(context.Background(), f.user(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(time.Hour), prt.ExpiresAt)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.tokenEvents.WithLabelValues("issued")))
}

func TestIssueTokenReplacesPreviousToken(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	_, err := f.svc.IssueToken(ctx, f.user(), "tok-1")
	require.NoError(t, err)
	_, err = f.svc.IssueToken(ctx, f.user(), "tok-2")
	require.NoError(t, err)

	owned := f.tokens.ownedBy(1)
	require.Len(t, owned, 1)
	assert.Equal(t, "tok-2", owned[0].Token)
	assert.False(t, f.svc.ValidateToken(ctx, "tok-1"))
	assert.True(t, f.svc.ValidateToken(ctx, "tok-2"))
}

func TestIssueTokenConcurrentLeavesOneToken(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.IssueToken(ctx, f.user(), uuid.NewString())
		}()
	}
	wg.Wait()

	assert.Len(t, f.tokens.ownedBy(1), 1)
}

func TestIssueTokenRejectsBadInput(t *testing.T) {
	f := newResetFixture(t)

	_, err := f.svc.IssueToken(context.Background(), nil, "tok")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	_, err = f.svc.IssueToken(context.Background(), f.user(), "  ")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, f.tokens.ownedBy(1))
}

func TestValidateTokenExpiry(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()
	_, err := f.svc.IssueToken(ctx, f.user(), "tok")
	require.NoError(t, err)

	f.now = f.now.Add(59 * time.Minute)
	assert.True(t, f.svc.ValidateToken(ctx, "tok"))

	f.now = f.now.Add(time.Minute)
	assert.False(t, f.svc.ValidateToken(ctx, "tok"), "a token is expired at its expiry instant")

	assert.False(t, f.svc.ValidateToken(ctx, "unknown"))

	_, err = f.tokens.FindByToken(ctx, "tok")
	assert.NoError(t, err, "validation must not delete the token")
}

func TestValidateTokenStorageFailure(t *testing.T) {
	f := newResetFixture(t)
	f.tokens.findErr = errors.New("connection reset")

	assert.False(t, f.svc.ValidateToken(context.Background(), "tok"))
}

func TestConsumeToken(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()
	_, err := f.svc.IssueToken(ctx, f.user(), "tok")
	require.NoError(t, err)

	ok, err := f.svc.ConsumeToken(ctx, "tok", strongPassword)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.BcryptPrefix+"test$"+strongPassword, f.users.passwords[1])

	_, err = f.tokens.FindByToken(ctx, "tok")
	assert.Error(t, err)

	ok, err = f.svc.ConsumeToken(ctx, "tok", strongPassword)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.tokenEvents.WithLabelValues("consumed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.tokenEvents.WithLabelValues("rejected")))
}

func TestConsumeExpiredTokenWritesNothing(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()
	_, err := f.svc.IssueToken(ctx, f.user(), "tok")
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour)
	ok, err := f.svc.ConsumeToken(ctx, "tok", strongPassword)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.users.passwords)
}

func TestConsumeTokenWeakPassword(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()
	_, err := f.svc.IssueToken(ctx, f.user(), "tok")
	require.NoError(t, err)

	ok, err := f.svc.ConsumeToken(ctx, "tok", "short")
	assert.False(t, ok)
	appErr := requireAppError(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Equal(t, []string{userMessages["Password"]}, appErr.Details)
	assert.Empty(t, f.users.passwords)
	assert.True(t, f.svc.ValidateToken(ctx, "tok"), "a rejected password keeps the token usable")
}

func TestRequestRecoverySendsLink(t *testing.T) {
	f := newResetFixture(t)

	require.NoError(t, f.svc.RequestRecovery(context.Background(), " ana@example.com "))

	sent := f.notifier.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "ana@example.com", sent[0].Email)
	assert.Equal(t, "Ana", sent[0].Name)
	require.True(t, strings.HasPrefix(sent[0].Link, "https://desk.example.com/reset-password?token="))

	link, err := url.Parse(sent[0].Link)
	require.NoError(t, err)
	token := link.Query().Get("token")
	_, err = uuid.Parse(token)
	require.NoError(t, err)
	assert.True(t, f.svc.ValidateToken(context.Background(), token))
}

func TestRequestRecoveryUnknownEmail(t *testing.T) {
	f := newResetFixture(t)

	require.NoError(t, f.svc.RequestRecovery(context.Background(), "nobody@example.com"))
	assert.Empty(t, f.notifier.messages())
}

func TestRequestRecoveryNotifierFailureIsSwallowed(t *testing.T) {
	f := newResetFixture(t)
	f.notifier.err = errors.New("smtp down")

	require.NoError(t, f.svc.RequestRecovery(context.Background(), "ana@example.com"))
	assert.Len(t, f.tokens.ownedBy(1), 1)
}

func TestReapExpired(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()
	_, err := f.svc.IssueToken(ctx, f.user(), "tok")
	require.NoError(t, err)

	n, err := f.svc.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.now = f.now.Add(time.Hour)
	n, err = f.svc.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.tokensReaped))
}

func TestConsumeTokenClaimFailureWritesNothing(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()
	_, err := f.svc.IssueToken(ctx, f.user(), "tok")
	require.NoError(t, err)
	f.tokens.deleteErr = errors.New("connection reset")

	ok, err := f.svc.ConsumeToken(ctx, "tok", strongPassword)
	assert.False(t, ok)
	appErr := requireAppError(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErr.Code)
	assert.Empty(t, f.users.passwords)

	f.tokens.deleteErr = nil
	assert.True(t, f.svc.ValidateToken(ctx, "tok"))
}

func TestConsumeTokenPasswordFailureRestoresToken(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()
	_, err := f.svc.IssueToken(ctx, f.user(), "tok")
	require.NoError(t, err)
	f.users.updateErr = errors.New("connection reset")

	ok, err := f.svc.ConsumeToken(ctx, "tok", strongPassword)
	assert.False(t, ok)
	assert.Error(t, err)
	assert.True(t, f.svc.ValidateToken(ctx, "tok"), "the link must keep working after a failed update")

	f.users.updateErr = nil
	ok, err = f.svc.ConsumeToken(ctx, "tok", strongPassword)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConsumeTokenConcurrentSucceedsOnce(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()
	_, err := f.svc.IssueToken(ctx, f.user(), "tok")
	require.NoError(t, err)

	const callers = 4
	var arrived sync.WaitGroup
	arrived.Add(callers)
	// Every caller sees the live token before any of them claims it.
	f.tokens.afterFind = func() {
		arrived.Done()
		arrived.Wait()
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.svc.ConsumeToken(ctx, "tok", strongPassword)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.tokenEvents.WithLabelValues("consumed")))
}

func TestIssueTokenRejectsTokenHeldByAnotherUser(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()
	_, err := f.svc.IssueToken(ctx, f.user(), "shared")
	require.NoError(t, err)

	_, err = f.svc.IssueToken(ctx, &models.User{ID: 2}, "shared")
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
	owned := f.tokens.ownedBy(1)
	require.Len(t, owned, 1)
	assert.Equal(t, "shared", owned[0].Token)
}
