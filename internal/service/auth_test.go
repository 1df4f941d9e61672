package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/repository"
	"github.com/nuhaa333/chat-app/internal/repository/mocks"
	"github.com/nuhaa333/chat-app/internal/service"
)

const testSecret = "very-secret-key"

func TestAuthService_Register_Success(t *testing.T) {
	// Arrange
	mockUserRepo := new(mocks.UserRepository)
	authService, err := service.NewAuthService(mockUserRepo, testSecret, 1)
	require.NoError(t, err)
	ctx := context.Background()

	// Register clears the hash before returning, so capture what was saved.
	var saved domain.User
	mockUserRepo.On("Save", ctx, mock.AnythingOfType("*domain.User")).
		Run(func(args mock.Arguments) {
			saved = *args.Get(1).(*domain.User)
		}).
		Return(nil).Once()

	// Act
	user, err := authService.Register(ctx, " Ada ", "Ada@Example.com", "secret1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", saved.Email)
	assert.Equal(t, "Ada", saved.DisplayName)
	assert.NotEmpty(t, saved.ID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(saved.Password), []byte("secret1")))
	assert.Equal(t, "ada@example.com", user.Email)
	assert.Empty(t, user.Password, "password hash must not leave the service")
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_Register_DefaultsDisplayNameToEmailLocalPart(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, testSecret, 1)
	mockUserRepo.On("Save", mock.Anything, mock.AnythingOfType("*domain.User")).Return(nil).Once()

	user, err := authService.Register(context.Background(), "", "grace@example.com", "secret1")

	require.NoError(t, err)
	assert.Equal(t, "grace", user.DisplayName)
}

func TestAuthService_Register_EmailTaken(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, testSecret, 1)
	mockUserRepo.On("Save", mock.Anything, mock.AnythingOfType("*domain.User")).
		Return(repository.ErrDuplicateEntry).Once()

	_, err := authService.Register(context.Background(), "Ada", "ada@example.com", "secret1")

	assert.ErrorIs(t, err, service.ErrRegistrationFailed)
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_Register_InvalidInput(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, testSecret, 1)

	_, err := authService.Register(context.Background(), "Ada", "not-an-email", "secret1")
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = authService.Register(context.Background(), "Ada", "ada@example.com", "123")
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	mockUserRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestAuthService_LoginAndParseToken(t *testing.T) {
	// Arrange
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, testSecret, 1)
	hash, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	require.NoError(t, err)
	stored := &domain.User{ID: "u-1", DisplayName: "Ada", Email: "ada@example.com", Password: string(hash)}
	mockUserRepo.On("FindByEmail", mock.Anything, "ada@example.com").Return(stored, nil).Once()

	// Act
	token, user, err := authService.Login(context.Background(), "ada@example.com", "secret1")

	// Assert
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "u-1", user.ID)
	userID, err := authService.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", userID)
}

func TestAuthService_Login_Failures(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, testSecret, 1)
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	mockUserRepo.On("FindByEmail", mock.Anything, "ada@example.com").
		Return(&domain.User{ID: "u-1", Password: string(hash)}, nil)
	mockUserRepo.On("FindByEmail", mock.Anything, "nobody@example.com").
		Return(nil, repository.ErrNotFound)

	_, _, err := authService.Login(context.Background(), "ada@example.com", "wrong-pass")
	assert.ErrorIs(t, err, service.ErrAuthenticationFailed)

	_, _, err = authService.Login(context.Background(), "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, service.ErrAuthenticationFailed)
}

func TestAuthService_ParseToken_WrongSecret(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	issuer, _ := service.NewAuthService(mockUserRepo, "other-secret", 1)
	verifier, _ := service.NewAuthService(mockUserRepo, testSecret, 1)
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	mockUserRepo.On("FindByEmail", mock.Anything, "ada@example.com").
		Return(&domain.User{ID: "u-1", Password: string(hash)}, nil)

	token, _, err := issuer.Login(context.Background(), "ada@example.com", "secret1")
	require.NoError(t, err)

	_, err = verifier.ParseToken(token)
	assert.ErrorIs(t, err, service.ErrAuthenticationFailed)
}

func TestAuthService_CurrentUserAndUpdateProfile(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, testSecret, 1)
	ctx := service.WithUserID(context.Background(), "u-1")
	mockUserRepo.On("FindByID", ctx, "u-1").
		Return(&domain.User{ID: "u-1", DisplayName: "Ada", Email: "ada@example.com"}, nil)
	mockUserRepo.On("Save", ctx, mock.AnythingOfType("*domain.User")).Return(nil).Once()

	me, err := authService.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ada", me.DisplayName)

	name, avatar := "Ada L.", "https://cdn.example.com/a.png"
	updated, err := authService.UpdateProfile(ctx, service.ProfileUpdate{DisplayName: &name, AvatarURL: &avatar})
	require.NoError(t, err)
	assert.Equal(t, name, updated.DisplayName)
	assert.Equal(t, avatar, updated.AvatarURL)

	_, err = authService.CurrentUser(context.Background())
	assert.ErrorIs(t, err, service.ErrAuthenticationFailed)
	mockUserRepo.AssertExpectations(t)
}
