package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/repository"
)

const (
	minPasswordLength = 6
	maxDisplayName    = 100
)

type ctxKey struct{}

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// AuthService is the identity provider: registration, login and token checks.
type AuthService struct {
	userRepo  repository.UserRepository
	jwtSecret []byte
	jwtExpiry time.Duration
}

// NewAuthService creates an AuthService.
func NewAuthService(userRepo repository.UserRepository, jwtSecretKey string, jwtExpiryHours int) (*AuthService, error) {
	if userRepo == nil {
		panic("UserRepository cannot be nil for AuthService")
	}
	if jwtSecretKey == "" {
		return nil, fmt.Errorf("JWT secret key cannot be empty")
	}
	if jwtExpiryHours <= 0 {
		jwtExpiryHours = 24
	}
	return &AuthService{
		userRepo:  userRepo,
		jwtSecret: []byte(jwtSecretKey),
		jwtExpiry: time.Duration(jwtExpiryHours) * time.Hour,
	}, nil
}

// Register creates a user with a hashed password.
func (s *AuthService) Register(ctx context.Context, displayName, email, password string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	displayName = strings.TrimSpace(displayName)
	logCtx := logrus.WithFields(logrus.Fields{"email": email})

	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}
	if len(displayName) > maxDisplayName {
		return nil, fmt.Errorf("%w: display name too long", ErrInvalidInput)
	}

	hashedPassword, err := hashPassword(password)
	if err != nil {
		logCtx.WithError(err).Error("Failed to hash password during registration")
		return nil, ErrInternalServer
	}

	user := &domain.User{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		Email:       email,
		Password:    hashedPassword,
	}
	if err := s.userRepo.Save(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			logCtx.WithError(err).Warn("Registration failed: email already exists")
			return nil, ErrRegistrationFailed
		}
		logCtx.WithError(err).Error("Database error during user creation")
		return nil, mapRepoError(err)
	}

	logCtx.WithField("user_id", user.ID).Info("User registered successfully")
	user.Password = ""
	return user, nil
}

// Login checks the credentials and returns a signed token.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	logCtx := logrus.WithField("email", email)

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			logCtx.Warn("Login attempt failed: user not found")
		} else {
			logCtx.WithError(err).Warn("Login attempt failed: error finding user")
		}
		return "", nil, ErrAuthenticationFailed
	}
	if user == nil || !checkPassword(password, user.Password) {
		logCtx.Warn("Login attempt failed: invalid password")
		return "", nil, ErrAuthenticationFailed
	}

	token, err := s.generateJWT(user.ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to generate JWT token during login")
		return "", nil, ErrInternalServer
	}

	logCtx.WithField("user_id", user.ID).Info("User logged in successfully")
	user.Password = ""
	return token, user, nil
}

// CurrentUser resolves the identity carried by ctx. It fails with
// ErrAuthenticationFailed when ctx has no user.
func (s *AuthService) CurrentUser(ctx context.Context) (*domain.Identity, error) {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return nil, ErrAuthenticationFailed
	}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	id := user.Identity()
	return &id, nil
}

// Lookup returns the public identity of a user.
func (s *AuthService) Lookup(ctx context.Context, userID string) (*domain.Identity, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	id := user.Identity()
	return &id, nil
}

// ProfileUpdate lists the fields to change; nil leaves a field untouched.
type ProfileUpdate struct {
	DisplayName *string
	AvatarURL   *string
}

// UpdateProfile changes the display name and avatar of the user in ctx.
func (s *AuthService) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*domain.Identity, error) {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return nil, ErrAuthenticationFailed
	}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if upd.DisplayName != nil {
		name := strings.TrimSpace(*upd.DisplayName)
		if name == "" || len(name) > maxDisplayName {
			return nil, fmt.Errorf("%w: display name must be 1-%d characters", ErrInvalidInput, maxDisplayName)
		}
		user.DisplayName = name
	}
	if upd.AvatarURL != nil {
		user.AvatarURL = strings.TrimSpace(*upd.AvatarURL)
	}
	if err := s.userRepo.Save(ctx, user); err != nil {
		logrus.WithField("user_id", userID).WithError(err).Error("Failed to update profile")
		return nil, mapRepoError(err)
	}
	id := user.Identity()
	return &id, nil
}

// ParseToken validates a bearer token and returns its user id.
func (s *AuthService) ParseToken(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrAuthenticationFailed
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("%w: missing user_id claim", ErrAuthenticationFailed)
	}
	return userID, nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to generate hash from password: %w", err)
	}
	return string(bytes), nil
}

func checkPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (s *AuthService) generateJWT(userID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     now.Add(s.jwtExpiry).Unix(),
		"iat":     now.Unix(),
	})
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}
