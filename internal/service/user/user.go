package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/palicode/nucleotid-back/internal/apperrors"
	"github.com/palicode/nucleotid-back/internal/models"
	"github.com/palicode/nucleotid-back/internal/repository"
)

// Hash compared when user does not exist, so unknown username takes as long as wrong password
const dummyPassword = "nucleotid-dummy-password"

type UserService struct {
	hasher  PasswordHasher
	storage repository.Storage

	dummyHash string
}

func NewService(hasher PasswordHasher, storage repository.Storage) (*UserService, error) {
	if hasher == nil {
		hasher = DefaultHasher
	}

	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("can't prepare password hasher. Err: %w", err)
	}

	return &UserService{
		hasher:    hasher,
		storage:   storage,
		dummyHash: dummyHash,
	}, nil
}

func (s *UserService) CreateUser(ctx context.Context, username string, password string) (models.User, error) {
	var user models.User

	if password == "" {
		return user, errors.New("password must not be empty")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	err = s.storage.InTx(ctx, func(storage repository.Storage) error {
		_, err := storage.User().GetUserByUsername(ctx, username)
		switch {
		case err == nil:
			return apperrors.ErrUserAlreadyExists
		case !errors.Is(err, apperrors.ErrUserNotFound):
			return err
		}

		user, err = storage.User().CreateUser(ctx, username, hash)
		return err
	})
	if err != nil {
		return user, fmt.Errorf("can't create user. Err: %w", err)
	}

	return user, nil
}

// Check user credentials
// Unknown user and wrong password give the same apperrors.ErrUserNotFound
func (s *UserService) Login(ctx context.Context, username string, password string) (models.User, error) {
	user, err := s.storage.User().GetUserByUsername(ctx, username)

	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrUserNotFound):
		_ = s.hasher.Compare(s.dummyHash, password)
		return models.User{}, apperrors.ErrUserNotFound
	default:
		return models.User{}, err
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		return models.User{}, apperrors.ErrUserNotFound
	}

	return user, nil
}

func (s *UserService) GetUserByID(ctx context.Context, userID int64) (models.User, error) {
	return s.storage.User().GetUserByID(ctx, userID)
}
