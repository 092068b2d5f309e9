// Package auth はユーザー登録、認証、トークン発行、プロフィール更新を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/chatman/internal/model"
	"github.com/hitoshi/chatman/internal/repository"
)

// Service は認証・ユーザー管理のビジネスロジックを提供する。
type Service struct {
	userRepo  repository.UserRepository
	tokenRepo repository.TokenRepository
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, tokenRepo repository.TokenRepository) *Service {
	return &Service{
		userRepo:  userRepo,
		tokenRepo: tokenRepo,
	}
}

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	Password2 string
}

// Register は新規ユーザーを作成し、APIトークンを発行する。
// 入力検証に失敗した場合は*model.ValidationErrorを返し、ユーザーは作成しない。
func (s *Service) Register(ctx context.Context, input RegisterInput) (*model.User, *model.Token, error) {
	v := model.NewValidationError()

	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(input.Email)

	if username == "" {
		v.Add("username", "This field is required.")
	}
	if email == "" {
		v.Add("email", "This field is required.")
	}
	if input.Password == "" {
		v.Add("password", "This field is required.")
	} else if err := ValidatePassword(input.Password); err != nil {
		v.Add("password", err.Error())
	}
	if input.Password2 != input.Password {
		v.Add("password2", "Passwords don't match")
	}
	if v.HasErrors() {
		return nil, nil, v
	}

	// 重複チェック
	existing, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check username: %w", err)
	}
	if existing != nil {
		v.Add("username", "This username is already taken")
	}

	existing, err = s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check email: %w", err)
	}
	if existing != nil {
		v.Add("email", "This email is already registered")
	}
	if v.HasErrors() {
		return nil, nil, v
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.getOrCreateToken(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("new user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return user, token, nil
}

// Authenticate はユーザー名とパスワードを検証し、APIトークンを返す。
// 既存トークンがあれば再利用する。認証失敗の理由は区別せず同じエラーを返す。
func (s *Service) Authenticate(ctx context.Context, username, password string) (*model.User, *model.Token, error) {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !CheckPassword(user.PasswordHash, password) {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	token, err := s.getOrCreateToken(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))

	return user, token, nil
}

// GetUser は指定IDのユーザーを取得する。
func (s *Service) GetUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// UpdateProfileInput はプロフィール更新の入力。
// nilのフィールドは更新しない。パスワード変更はCurrentPasswordの照合が必要。
type UpdateProfileInput struct {
	Email           *string
	FirstName       *string
	LastName        *string
	CurrentPassword string
	NewPassword     string
}

// UpdateProfile はユーザーのプロフィールを更新する。
// ユーザー名は変更不可。メールアドレスは自分以外との重複を拒否する。
func (s *Service) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	v := model.NewValidationError()

	if input.NewPassword != "" {
		if input.CurrentPassword == "" {
			v.Add("current_password", "Current password is required to set a new password")
		} else if !CheckPassword(user.PasswordHash, input.CurrentPassword) {
			v.Add("current_password", "Current password is incorrect")
		}
		if err := ValidatePassword(input.NewPassword); err != nil {
			v.Add("new_password", err.Error())
		}
	}

	if input.Email != nil {
		email := strings.TrimSpace(*input.Email)
		if email == "" {
			v.Add("email", "This field may not be blank.")
		} else if email != user.Email {
			existing, err := s.userRepo.FindByEmail(ctx, email)
			if err != nil {
				return nil, fmt.Errorf("failed to check email: %w", err)
			}
			if existing != nil && existing.ID != user.ID {
				v.Add("email", "This email is already in use.")
			} else {
				user.Email = email
			}
		}
	}

	if v.HasErrors() {
		return nil, v
	}

	if input.FirstName != nil {
		user.FirstName = *input.FirstName
	}
	if input.LastName != nil {
		user.LastName = *input.LastName
	}
	if input.NewPassword != "" {
		hash, err := HashPassword(input.NewPassword)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}
	user.UpdatedAt = time.Now()

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	slog.Info("profile updated", slog.String("user_id", user.ID))

	return user, nil
}

// Logout はユーザーのAPIトークンを破棄する。
// 次回ログイン時には新しいトークンが発行される。
func (s *Service) Logout(ctx context.Context, userID string) error {
	if err := s.tokenRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	slog.Info("user logged out", slog.String("user_id", userID))
	return nil
}

// getOrCreateToken は既存トークンを取得し、なければ新規発行する。
func (s *Service) getOrCreateToken(ctx context.Context, userID string) (*model.Token, error) {
	token, err := s.tokenRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find token: %w", err)
	}
	if token != nil {
		return token, nil
	}

	key, err := generateTokenKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token key: %w", err)
	}

	token = &model.Token{
		Key:       key,
		UserID:    userID,
		CreatedAt: time.Now(),
	}

	if err := s.tokenRepo.Create(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}

	return token, nil
}

// generateTokenKey は暗号的に安全な40文字のトークンキーを生成する。
func generateTokenKey() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
