package app

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/crypto/bcrypt"

	"docchat/internal/model"
	"docchat/internal/pkg/jwtutil"
)

type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id uint) (*model.User, error)
	UpdateProfile(ctx context.Context, id uint, updates map[string]interface{}) (bool, error)
	Delete(ctx context.Context, id uint) ([]string, bool, error)
}

// FileRemover deletes stored document files. It may be nil.
type FileRemover interface {
	Delete(ctx context.Context, storageURL string) error
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type AuthService struct {
	users         UserStore
	files         FileRemover
	jwtSecret     string
	jwtExpiration time.Duration
	logger        *slog.Logger
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

func (in RegisterInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Username, validation.Required, validation.Length(3, 64)),
		validation.Field(&in.Email, validation.Required, validation.Length(3, 128), validation.Match(emailPattern)),
		validation.Field(&in.Password, validation.Required, validation.Length(8, 128)),
	)
}

type LoginInput struct {
	Username string
	Password string
}

type AuthResult struct {
	Token string
	User  *model.User
}

func NewAuthService(users UserStore, files FileRemover, jwtSecret string, jwtExpiration time.Duration, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		users:         users,
		files:         files,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
		logger:        logger.With("component", "auth"),
	}
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))
	input.Password = strings.TrimSpace(input.Password)
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	existingByName, err := s.users.GetByUsername(ctx, input.Username)
	if err != nil {
		return nil, err
	}
	if existingByName != nil {
		return nil, ErrUsernameExists
	}

	existingByEmail, err := s.users.GetByEmail(ctx, input.Email)
	if err != nil {
		return nil, err
	}
	if existingByEmail != nil {
		return nil, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password failed: %w", err)
	}

	user := &model.User{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return s.issue(user)
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	password := strings.TrimSpace(input.Password)
	if username == "" || password == "" {
		return nil, ErrInvalidInput
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredential
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredential
	}
	return s.issue(user)
}

func (s *AuthService) GetUserByID(ctx context.Context, id uint) (*model.User, error) {
	if id == 0 {
		return nil, ErrInvalidInput
	}
	return s.users.GetByID(ctx, id)
}

// UpdateProfileInput carries the personalization fields to change. A nil
// field is left alone and a blank one is cleared.
type UpdateProfileInput struct {
	UserID           uint
	NickName         *string
	Occupation       *string
	StylePreferences *string
}

func (in UpdateProfileInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.UserID, validation.Required),
		validation.Field(&in.NickName, validation.RuneLength(0, model.MaxNickNameLength)),
		validation.Field(&in.Occupation, validation.RuneLength(0, model.MaxOccupationLength)),
		validation.Field(&in.StylePreferences, validation.RuneLength(0, model.MaxStylePreferencesLength)),
	)
}

func (s *AuthService) UpdateProfile(ctx context.Context, input UpdateProfileInput) (*model.User, error) {
	updates := map[string]interface{}{}
	for column, field := range map[string]**string{
		"nick_name":         &input.NickName,
		"occupation":        &input.Occupation,
		"style_preferences": &input.StylePreferences,
	} {
		if *field == nil {
			continue
		}
		trimmed := strings.TrimSpace(**field)
		*field = &trimmed
		if trimmed == "" {
			updates[column] = nil
		} else {
			updates[column] = trimmed
		}
	}
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if len(updates) > 0 {
		ok, err := s.users.UpdateProfile(ctx, input.UserID, updates)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrUserNotFound
		}
	}
	user, err := s.users.GetByID(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// DeleteAccount removes the user with everything they own. Stored files are
// removed afterwards on a best-effort basis.
func (s *AuthService) DeleteAccount(ctx context.Context, userID uint) error {
	if userID == 0 {
		return ErrInvalidInput
	}
	urls, ok, err := s.users.Delete(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserNotFound
	}
	if s.files == nil {
		return nil
	}
	for _, url := range urls {
		if err := s.files.Delete(ctx, url); err != nil {
			s.logger.Warn("delete stored file failed", "user_id", userID, "error", err)
		}
	}
	return nil
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := jwtutil.GenerateToken(s.jwtSecret, s.jwtExpiration, user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user}, nil
}
