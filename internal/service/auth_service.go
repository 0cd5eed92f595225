package service

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/koladefaj/document-intelligence-backend/config"
	"github.com/koladefaj/document-intelligence-backend/internal/model"
	"github.com/koladefaj/document-intelligence-backend/internal/model/dto"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/jwt"
	"github.com/koladefaj/document-intelligence-backend/internal/repository"
)

// bcrypt silently ignores anything past 72 bytes
const maxPasswordBytes = 72

type AuthService struct {
	userRepo   *repository.UserRepository
	cfg        config.JWTConfig
	bcryptCost int
	// compared against when the email is unknown so both paths cost one bcrypt
	dummyHash []byte
}

func NewAuthService(userRepo *repository.UserRepository, cfg *config.Config) *AuthService {
	s := &AuthService{
		userRepo:   userRepo,
		cfg:        cfg.JWT,
		bcryptCost: bcrypt.DefaultCost,
	}
	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password"), s.bcryptCost)
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an active user with the default role.
func (s *AuthService) Register(req *dto.RegisterRequest) (*dto.RegisterResponse, error) {
	if len(req.Password) > maxPasswordBytes {
		return nil, ErrPasswordTooLong
	}
	email := normalizeEmail(req.Email)

	exists, err := s.userRepo.ExistsByEmail(email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrEmailTaken
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Email:          email,
		HashedPassword: string(hashed),
		Role:           model.RoleUser,
		IsActive:       true,
	}
	if err := s.userRepo.Create(user); err != nil {
		// lost a race with a concurrent registration
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	return &dto.RegisterResponse{
		ID:    user.ID,
		Email: user.Email,
		Role:  user.Role,
	}, nil
}

// Login checks credentials. Unknown email and wrong password produce the
// same error.
func (s *AuthService) Login(req *dto.LoginRequest) (*dto.TokenResponse, error) {
	if len(req.Password) > maxPasswordBytes {
		return nil, ErrInvalidCredentials
	}

	user, err := s.userRepo.GetByEmail(normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(req.Password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserDisabled
	}

	return s.issueTokens(user)
}

// Refresh trades a valid refresh token for a new token pair.
func (s *AuthService) Refresh(req *dto.RefreshRequest) (*dto.TokenResponse, error) {
	claims, err := jwt.ParseTyped(req.RefreshToken, s.cfg.Secret, jwt.TokenTypeRefresh)
	if err != nil {
		return nil, ErrInvalidToken
	}

	user, err := s.userRepo.GetByID(claims.UserID())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserDisabled
	}

	return s.issueTokens(user)
}

// Authenticate resolves an access token to its user. Disabled users are
// returned as well; callers decide how to treat them.
func (s *AuthService) Authenticate(token string) (*model.User, error) {
	claims, err := jwt.ParseTyped(token, s.cfg.Secret, jwt.TokenTypeAccess)
	if err != nil {
		return nil, ErrInvalidToken
	}

	user, err := s.userRepo.GetByID(claims.UserID())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return user, nil
}

func (s *AuthService) issueTokens(user *model.User) (*dto.TokenResponse, error) {
	access, err := jwt.GenerateAccessToken(user.ID, user.Email, s.cfg.Secret, s.accessTTL())
	if err != nil {
		return nil, err
	}
	refresh, err := jwt.GenerateRefreshToken(user.ID, s.cfg.Secret, s.refreshTTL())
	if err != nil {
		return nil, err
	}
	return &dto.TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
	}, nil
}

func (s *AuthService) accessTTL() time.Duration {
	if s.cfg.AccessExpireMinutes <= 0 {
		return 20 * time.Minute
	}
	return time.Duration(s.cfg.AccessExpireMinutes) * time.Minute
}

func (s *AuthService) refreshTTL() time.Duration {
	if s.cfg.RefreshExpireDays <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(s.cfg.RefreshExpireDays) * 24 * time.Hour
}
