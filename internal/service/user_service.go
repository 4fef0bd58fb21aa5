package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/incident-tracker/internal/models"
	appErrors "github.com/noah-isme/incident-tracker/pkg/errors"
)

const msgDuplicateEmail = "the email is already registered"

type userRepository interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
}

// UserService covers the parts of user management that carry business rules:
// registration, password changes and resolving the acting principal.
type UserService struct {
	repo      userRepository
	hasher    PasswordHasher
	validator *RecordValidator
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, hasher PasswordHasher, validator *RecordValidator, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validator == nil {
		validator = NewRecordValidator(nil)
	}
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &UserService{repo: repo, hasher: hasher, validator: validator, logger: logger}
}

// Register validates and stores a new user. A taken email is reported as a
// validation failure before anything is written.
func (s *UserService) Register(ctx context.Context, user *models.User) (*models.User, error) {
	if user == nil {
		return nil, appErrors.Validation("invalid user", []string{msgNullUser})
	}
	user.Email = strings.TrimSpace(user.Email)

	if _, err := s.repo.FindByEmail(ctx, user.Email); err == nil {
		return nil, appErrors.Validation("invalid user", []string{msgDuplicateEmail})
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to check email uniqueness")
	}

	if errs := s.validator.User(user); len(errs) > 0 {
		return nil, appErrors.Validation("invalid user", errs)
	}

	hash, err := s.hasher.Hash(user.Password)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to hash password")
	}
	user.Password = hash

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, storageError(err, "failed to create user")
	}

	s.logger.Info("user registered", zap.Int64("user_id", user.ID))
	return user, nil
}

// ChangePassword validates the plaintext password and stores its hash.
func (s *UserService) ChangePassword(ctx context.Context, userID int64, password string) error {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}

	user.Password = password
	if errs := s.validator.User(user); len(errs) > 0 {
		return appErrors.Validation("invalid password", errs)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return appErrors.Internal(err, "failed to hash password")
	}
	if err := s.repo.UpdatePassword(ctx, userID, hash); err != nil {
		return appErrors.Internal(err, "failed to update password")
	}
	return nil
}

// Get returns a user by id.
func (s *UserService) Get(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFound("user", id)
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	return user, nil
}

// CurrentActor resolves the authenticated principal's email into an Actor.
func (s *UserService) CurrentActor(ctx context.Context, email string) (models.Actor, error) {
	user, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Actor{}, appErrors.Clone(appErrors.ErrUnauthorized, "unknown principal")
		}
		return models.Actor{}, appErrors.Internal(err, "failed to resolve principal")
	}
	return models.ActorFromUser(user), nil
}
