package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Baaaki/roomcast/internal/apperr"
	"github.com/Baaaki/roomcast/internal/models"
	"github.com/Baaaki/roomcast/internal/repository"
	"github.com/Baaaki/roomcast/internal/utils"
	"github.com/Baaaki/roomcast/pkg/logger"
	"go.uber.org/zap"
)

var (
	ErrInvalidCredentials = apperr.Unauthenticated("invalid credentials")
	ErrUsernameTaken      = apperr.Conflict("username already exists")

	usernameRegex = regexp.MustCompile(`^[\w.@+-]+$`)
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

const maxBioLength = 128

type AuthService struct {
	repos         *repository.Repositories
	jwtSecret     string
	jwtExpiration time.Duration
	environment   string
}

func NewAuthService(repos *repository.Repositories, jwtSecret string, jwtExpiration time.Duration, environment string) *AuthService {
	return &AuthService{
		repos:         repos,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
		environment:   environment,
	}
}

// IsProduction returns true if running in production environment
func (s *AuthService) IsProduction() bool {
	return s.environment == "production"
}

// TokenTTL is how long issued tokens stay valid.
func (s *AuthService) TokenTTL() time.Duration {
	return s.jwtExpiration
}

// Register creates the user and its profile in one transaction and returns
// a signed token for it.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*models.User, string, error) {
	start := time.Now()

	if err := validateRegisterInput(username, email, password); err != nil {
		logger.Log.Warn("Registration validation failed",
			zap.String("username", username),
			zap.Error(err),
		)
		return nil, "", err
	}

	exists, err := s.repos.Users.UsernameExists(ctx, username)
	if err != nil {
		return nil, "", err
	}
	if exists {
		return nil, "", ErrUsernameTaken
	}

	hashedPassword, err := utils.HashPassword(password)
	if err != nil {
		logger.Log.Error("Failed to hash password", zap.Error(err))
		return nil, "", err
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hashedPassword,
	}

	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		return tx.Users.CreateUser(ctx, user, &models.Profile{})
	})
	if err != nil {
		// lost a race against another registration with the same name
		if taken, _ := s.repos.Users.UsernameExists(ctx, username); taken {
			return nil, "", ErrUsernameTaken
		}
		logger.Log.Error("Failed to create user in database",
			zap.String("username", username),
			zap.Error(err),
		)
		return nil, "", err
	}

	token, err := utils.GenerateToken(user, s.jwtSecret, s.jwtExpiration)
	if err != nil {
		return nil, "", err
	}

	logger.Log.Info("User registered successfully",
		zap.Uint("user_id", user.ID),
		zap.String("username", username),
		zap.Duration("total_duration", time.Since(start)),
	)

	return user, token, nil
}

// Authenticate checks a username/password pair.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.repos.Users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		logger.Log.Warn("Login failed: user not found", zap.String("username", username))
		return nil, ErrInvalidCredentials
	}

	valid, err := utils.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		if errors.Is(err, utils.ErrInvalidHash) || errors.Is(err, utils.ErrIncompatibleVersion) {
			logger.Log.Warn("Login failed: unusable password hash", zap.Uint("user_id", user.ID))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !valid {
		logger.Log.Warn("Login failed: invalid password", zap.Uint("user_id", user.ID))
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

func (s *AuthService) Login(ctx context.Context, username, password string) (*models.User, string, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return nil, "", err
	}

	token, err := utils.GenerateToken(user, s.jwtSecret, s.jwtExpiration)
	if err != nil {
		return nil, "", err
	}

	logger.Log.Info("User logged in successfully",
		zap.Uint("user_id", user.ID),
		zap.String("username", user.Username),
	)
	return user, token, nil
}

// ResolveToken validates a token and returns the identity of a user that
// still exists. The superuser flag is read from the store, not the token.
func (s *AuthService) ResolveToken(ctx context.Context, token string) (models.Identity, error) {
	claims, err := utils.ValidateToken(token, s.jwtSecret)
	if err != nil {
		return models.Identity{}, apperr.Wrap(apperr.KindUnauthenticated, "invalid or expired token", err)
	}

	user, err := s.repos.Users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return models.Identity{}, err
	}
	if user == nil {
		return models.Identity{}, apperr.Unauthenticated("user no longer exists")
	}
	return user.Identity(), nil
}

func (s *AuthService) GetUser(ctx context.Context, userID uint) (*models.User, error) {
	user, err := s.repos.Users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("user not found")
	}
	return user, nil
}

// GetUserByUsername returns a user with their profile.
func (s *AuthService) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user, err := s.repos.Users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("user not found")
	}
	return user, nil
}

func (s *AuthService) UsernameExists(ctx context.Context, username string) (bool, error) {
	return s.repos.Users.UsernameExists(ctx, username)
}

func (s *AuthService) UpdateProfile(ctx context.Context, actor models.Identity, bio, avatarURL *string) (*models.User, error) {
	if bio != nil && utf8.RuneCountInString(*bio) > maxBioLength {
		return nil, apperr.Validation("bio must be at most 128 characters")
	}
	if err := s.repos.Users.UpdateProfile(ctx, actor.UserID, bio, avatarURL); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, actor.UserID)
}

func validateRegisterInput(username, email, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || len(username) > 150 {
		return apperr.Validation("username must be between 1 and 150 characters")
	}
	if !usernameRegex.MatchString(username) {
		return apperr.Validation("username may contain only letters, digits and @/./+/-/_")
	}
	if email != "" && !emailRegex.MatchString(email) {
		return apperr.Validation("invalid email format")
	}
	if len(password) < 8 {
		return apperr.Validation("password must be at least 8 characters")
	}
	if len(password) > 128 {
		return apperr.Validation("password too long")
	}
	return nil
}
