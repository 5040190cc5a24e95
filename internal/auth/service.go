package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
)

// ErrUsernameTaken mirrors the repository sentinel so callers need not import
// the persistence layer to classify a registration conflict.
var ErrUsernameTaken = repositories.ErrUsernameTaken

// Service registers accounts and verifies credentials against the salted
// SHA-256 scheme the desktop clients were built for.
type Service struct {
	users repositories.UserRepository
}

// NewService constructs an auth Service.
func NewService(users repositories.UserRepository) *Service {
	return &Service{users: users}
}

// Register creates a new account and returns its server-assigned id.
func (s *Service) Register(ctx context.Context, username, password string) (int64, error) {
	salt, err := newSalt()
	if err != nil {
		return 0, fmt.Errorf("generate salt: %w", err)
	}

	id, err := s.users.CreateUser(ctx, username, hashPassword(password, salt), salt)
	if err != nil {
		if errors.Is(err, repositories.ErrUsernameTaken) {
			return 0, ErrUsernameTaken
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// Authenticate verifies a password for a user id. An unknown id and a wrong
// password are both plain rejections; the caller closes the transport.
func (s *Service) Authenticate(ctx context.Context, userID int64, password string) (models.User, bool, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return models.User{}, false, nil
		}
		return models.User{}, false, fmt.Errorf("get user: %w", err)
	}

	got := hashPassword(password, user.Salt)
	if subtle.ConstantTimeCompare([]byte(got), []byte(user.PasswordHash)) != 1 {
		return models.User{}, false, nil
	}
	return user, true, nil
}

func hashPassword(password, salt string) string {
	sum := sha256.Sum256([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

func newSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
