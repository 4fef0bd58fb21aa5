package service

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/incident-tracker/internal/models"
	appErrors "github.com/noah-isme/incident-tracker/pkg/errors"
)

// ResetTokenTTL is the fixed lifetime of a password reset token.
const ResetTokenTTL = time.Hour

// ResetTokenRepository stores password reset tokens. ReplaceForUser must
// remove any token owned by the user and insert the new one atomically.
type ResetTokenRepository interface {
	ReplaceForUser(ctx context.Context, token *models.PasswordResetToken) error
	FindByToken(ctx context.Context, token string) (*models.PasswordResetToken, error)
	DeleteByToken(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type resetUserRepository interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
}

type resetNotifier interface {
	NotifyPasswordReset(ctx context.Context, email, name, link string) error
}

// PasswordResetConfig configures the recovery flow.
type PasswordResetConfig struct {
	BaseURL string
}

// PasswordResetService issues, validates and consumes recovery tokens.
type PasswordResetService struct {
	tokens    ResetTokenRepository
	users     resetUserRepository
	hasher    PasswordHasher
	notifier  resetNotifier
	validator *RecordValidator
	metrics   *MetricsService
	logger    *zap.Logger
	config    PasswordResetConfig
	now       func() time.Time
}

// NewPasswordResetService constructs a PasswordResetService.
func NewPasswordResetService(tokens ResetTokenRepository, users resetUserRepository, hasher PasswordHasher, notifier resetNotifier, validator *RecordValidator, metrics *MetricsService, logger *zap.Logger, config PasswordResetConfig) *PasswordResetService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validator == nil {
		validator = NewRecordValidator(nil)
	}
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &PasswordResetService{
		tokens:    tokens,
		users:     users,
		hasher:    hasher,
		notifier:  notifier,
		validator: validator,
		metrics:   metrics,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (s *PasswordResetService) WithClock(now func() time.Time) *PasswordResetService {
	if now != nil {
		s.now = now
	}
	return s
}

// IssueToken replaces any token held by the user with token, valid for one
// hour from now.
func (s *PasswordResetService) IssueToken(ctx context.Context, user *models.User, token string) (*models.PasswordResetToken, error) {
	if user == nil || user.ID == 0 {
		return nil, appErrors.Validation("invalid reset token request", []string{msgNullUser})
	}
	if strings.TrimSpace(token) == "" {
		return nil, appErrors.Validation("invalid reset token request", []string{"the reset token cannot be empty"})
	}

	prt := &models.PasswordResetToken{
		Token:     token,
		UserID:    user.ID,
		ExpiresAt: s.now().Add(ResetTokenTTL),
	}
	if err := s.tokens.ReplaceForUser(ctx, prt); err != nil {
		return nil, storageError(err, "failed to store reset token")
	}

	s.logger.Info("password reset token issued", zap.Int64("user_id", user.ID), zap.Time("expires_at", prt.ExpiresAt))
	s.metrics.RecordTokenEvent("issued")
	return prt, nil
}

// ValidateToken reports whether token exists and has not expired. It never
// writes.
func (s *PasswordResetService) ValidateToken(ctx context.Context, token string) bool {
	prt, err := s.tokens.FindByToken(ctx, token)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("failed to look up reset token", zap.Error(err))
		}
		return false
	}
	return !prt.Expired(s.now())
}

// ConsumeToken sets newPassword on the token's owner and deletes the token.
// It returns false without writing when the token is unknown or expired, and
// a validation error without writing when the password breaks the policy.
// The token is claimed by deleting it before the password changes, so of two
// concurrent calls only one succeeds.
func (s *PasswordResetService) ConsumeToken(ctx context.Context, token, newPassword string) (bool, error) {
	prt, err := s.tokens.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordTokenEvent("rejected")
			return false, nil
		}
		return false, appErrors.Internal(err, "failed to load reset token")
	}
	if prt.Expired(s.now()) {
		s.metrics.RecordTokenEvent("expired")
		return false, nil
	}

	user, err := s.users.FindByID(ctx, prt.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, appErrors.NotFound("user", prt.UserID)
		}
		return false, appErrors.Internal(err, "failed to load user")
	}

	user.Password = newPassword
	if errs := s.validator.User(user); len(errs) > 0 {
		return false, appErrors.Validation("invalid password", errs)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return false, appErrors.Internal(err, "failed to hash password")
	}

	if err := s.tokens.DeleteByToken(ctx, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordTokenEvent("rejected")
			return false, nil
		}
		return false, appErrors.Internal(err, "failed to claim reset token")
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		s.restoreToken(ctx, prt)
		return false, appErrors.Internal(err, "failed to update password")
	}

	s.logger.Info("password reset completed", zap.Int64("user_id", user.ID))
	s.metrics.RecordTokenEvent("consumed")
	return true, nil
}

// restoreToken puts back a claimed token whose password change failed so the
// emailed link keeps working.
func (s *PasswordResetService) restoreToken(ctx context.Context, prt *models.PasswordResetToken) {
	restored := *prt
	if err := s.tokens.ReplaceForUser(ctx, &restored); err != nil {
		s.logger.Error("failed to restore reset token", zap.Int64("user_id", prt.UserID), zap.Error(err))
	}
}

// RequestRecovery issues a fresh token for the user owning email and sends
// the reset link. Unknown addresses are accepted silently. Notification
// failures are logged and do not undo the issued token.
func (s *PasswordResetService) RequestRecovery(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Info("password recovery requested for unknown email")
			return nil
		}
		return appErrors.Internal(err, "failed to look up user")
	}

	token := uuid.NewString()
	if _, err := s.IssueToken(ctx, user, token); err != nil {
		return err
	}

	if s.notifier == nil {
		s.logger.Warn("no notifier configured, reset link not sent", zap.Int64("user_id", user.ID))
		return nil
	}
	if err := s.notifier.NotifyPasswordReset(ctx, user.Email, user.Name, s.resetLink(token)); err != nil {
		s.logger.Error("failed to send password reset email", zap.Int64("user_id", user.ID), zap.Error(err))
	}
	return nil
}

// ReapExpired deletes tokens whose expiry has passed.
func (s *PasswordResetService) ReapExpired(ctx context.Context) (int64, error) {
	n, err := s.tokens.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, appErrors.Internal(err, "failed to reap expired tokens")
	}
	if n > 0 {
		s.logger.Info("expired reset tokens removed", zap.Int64("count", n))
	}
	s.metrics.RecordTokensReaped(n)
	return n, nil
}

func (s *PasswordResetService) resetLink(token string) string {
	return strings.TrimRight(strings.TrimSpace(s.config.BaseURL), "/") + "/reset-password?token=" + url.QueryEscape(token)
}
