package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/koladefaj/document-intelligence-backend/config"
	"github.com/koladefaj/document-intelligence-backend/internal/model/dto"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/jwt"
	"github.com/koladefaj/document-intelligence-backend/internal/repository"
	"github.com/koladefaj/document-intelligence-backend/internal/testutil"
)

const testSecret = "test-secret-key-for-testing"

func testConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			Secret:              testSecret,
			AccessExpireMinutes: 20,
			RefreshExpireDays:   7,
		},
		Upload: config.UploadConfig{
			MaxSize:     10 * 1024 * 1024,
			PutAttempts: 3,
		},
	}
}

func setupAuthService(t *testing.T) (*AuthService, *repository.UserRepository) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	userRepo := repository.NewUserRepository(db)
	svc := NewAuthService(userRepo, testConfig())
	svc.bcryptCost = bcrypt.MinCost
	return svc, userRepo
}

func TestAuthService_Register_Success(t *testing.T) {
	svc, userRepo := setupAuthService(t)

	resp, err := svc.Register(&dto.RegisterRequest{Email: " U@Test.com ", Password: "password123"})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "u@test.com", resp.Email)
	assert.Equal(t, "user", resp.Role)

	user, err := userRepo.GetByEmail("u@test.com")
	require.NoError(t, err)
	assert.True(t, user.IsActive)
	assert.NotEqual(t, "password123", user.HashedPassword)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte("password123")))
}

func TestAuthService_Register_EmailTaken(t *testing.T) {
	svc, _ := setupAuthService(t)

	_, err := svc.Register(&dto.RegisterRequest{Email: "u@test.com", Password: "password123"})
	require.NoError(t, err)

	_, err = svc.Register(&dto.RegisterRequest{Email: "U@test.com", Password: "password456"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestAuthService_Register_PasswordTooLong(t *testing.T) {
	svc, _ := setupAuthService(t)

	_, err := svc.Register(&dto.RegisterRequest{Email: "u@test.com", Password: strings.Repeat("a", 73)})
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestAuthService_Login_Success(t *testing.T) {
	svc, _ := setupAuthService(t)
	_, err := svc.Register(&dto.RegisterRequest{Email: "u@test.com", Password: "password123"})
	require.NoError(t, err)

	resp, err := svc.Login(&dto.LoginRequest{Email: "u@test.com", Password: "password123"})
	require.NoError(t, err)

	assert.Equal(t, "bearer", resp.TokenType)
	claims, err := jwt.ParseTyped(resp.AccessToken, testSecret, jwt.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "u@test.com", claims.Email)
	assert.WithinDuration(t, time.Now().Add(20*time.Minute), claims.ExpiresAt.Time, time.Minute)

	_, err = jwt.ParseTyped(resp.RefreshToken, testSecret, jwt.TokenTypeRefresh)
	assert.NoError(t, err)
}

func TestAuthService_Login_GenericFailure(t *testing.T) {
	svc, _ := setupAuthService(t)
	_, err := svc.Register(&dto.RegisterRequest{Email: "u@test.com", Password: "password123"})
	require.NoError(t, err)

	_, wrongPassword := svc.Login(&dto.LoginRequest{Email: "u@test.com", Password: "wrong-password"})
	_, unknownEmail := svc.Login(&dto.LoginRequest{Email: "nobody@test.com", Password: "password123"})

	assert.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
	assert.ErrorIs(t, unknownEmail, ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestAuthService_Login_Disabled(t *testing.T) {
	svc, userRepo := setupAuthService(t)
	resp, err := svc.Register(&dto.RegisterRequest{Email: "u@test.com", Password: "password123"})
	require.NoError(t, err)
	require.NoError(t, userRepo.SetActive(resp.ID, false))

	_, err = svc.Login(&dto.LoginRequest{Email: "u@test.com", Password: "password123"})
	assert.ErrorIs(t, err, ErrUserDisabled)
}

func TestAuthService_Refresh(t *testing.T) {
	svc, _ := setupAuthService(t)
	_, err := svc.Register(&dto.RegisterRequest{Email: "u@test.com", Password: "password123"})
	require.NoError(t, err)
	tokens, err := svc.Login(&dto.LoginRequest{Email: "u@test.com", Password: "password123"})
	require.NoError(t, err)

	refreshed, err := svc.Refresh(&dto.RefreshRequest{RefreshToken: tokens.RefreshToken})
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)

	// an access token is not a refresh token
	_, err = svc.Refresh(&dto.RefreshRequest{RefreshToken: tokens.AccessToken})
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Refresh(&dto.RefreshRequest{RefreshToken: "garbage"})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_Authenticate(t *testing.T) {
	svc, _ := setupAuthService(t)
	reg, err := svc.Register(&dto.RegisterRequest{Email: "u@test.com", Password: "password123"})
	require.NoError(t, err)
	tokens, err := svc.Login(&dto.LoginRequest{Email: "u@test.com", Password: "password123"})
	require.NoError(t, err)

	user, err := svc.Authenticate(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, reg.ID, user.ID)

	_, err = svc.Authenticate(tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	ghost, err := jwt.GenerateAccessToken("deleted-user", "x@test.com", testSecret, time.Minute)
	require.NoError(t, err)
	_, err = svc.Authenticate(ghost)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
