package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/mocks"
	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestRegisterHashesPasswordWithFreshSalt(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	svc := NewService(users)

	var gotHash, gotSalt string
	users.On("CreateUser", mock.Anything, "alice", mock.AnythingOfType("string"), mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) {
			gotHash = args.String(2)
			gotSalt = args.String(3)
		}).
		Return(int64(1), nil).Once()

	id, err := svc.Register(context.Background(), "alice", "pw1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	require.Len(t, gotSalt, 32) // 16 random bytes, hex encoded
	assert.Equal(t, sha256Hex("pw1"+gotSalt), gotHash)
	users.AssertExpectations(t)
}

func TestRegisterConflict(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	svc := NewService(users)

	users.On("CreateUser", mock.Anything, "alice", mock.Anything, mock.Anything).
		Return(int64(0), repositories.ErrUsernameTaken).Once()

	_, err := svc.Register(context.Background(), "alice", "pw1")
	require.ErrorIs(t, err, ErrUsernameTaken)
	users.AssertExpectations(t)
}

func TestAuthenticate(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	svc := NewService(users)

	salt := "00112233445566778899aabbccddeeff"
	stored := models.User{
		ID:           1,
		Username:     "alice",
		PasswordHash: sha256Hex("pw1" + salt),
		Salt:         salt,
	}
	users.On("GetUser", mock.Anything, int64(1)).Return(stored, nil)

	user, ok, err := svc.Authenticate(context.Background(), 1, "pw1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alice", user.Username)

	_, ok, err = svc.Authenticate(context.Background(), 1, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthenticateUnknownUser(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	svc := NewService(users)

	users.On("GetUser", mock.Anything, int64(99)).Return(models.User{}, repositories.ErrUserNotFound).Once()

	_, ok, err := svc.Authenticate(context.Background(), 99, "pw")
	require.NoError(t, err)
	assert.False(t, ok)
	users.AssertExpectations(t)
}
