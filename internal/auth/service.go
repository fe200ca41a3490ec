// Package auth はユーザー登録・ログイン、JWTトークンの発行と検証を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
)

// EventPublisher はユーザーイベント発行のインターフェース。
// rabbitmq.Publisherの部分集合として定義する。
type EventPublisher interface {
	// PublishUserEvent は指定種別のユーザーイベントを発行する。
	PublishUserEvent(ctx context.Context, eventType string, user *model.User) error
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo  repository.UserRepository
	publisher EventPublisher
	tokens    *TokenService
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, publisher EventPublisher, tokens *TokenService) *Service {
	return &Service{
		userRepo:  userRepo,
		publisher: publisher,
		tokens:    tokens,
	}
}

// Register は新規ユーザーを登録し、トークンを発行する。
// ユーザー行のコミット後にuser.createdイベントを発行する。
// イベント発行の失敗は警告ログに記録するのみで、登録自体は成功扱いとする。
// （イベントは冪等に再発行可能であり、後から帯域外の修復で同期できる）
func (s *Service) Register(ctx context.Context, username, email, password string) (*model.User, string, error) {
	// 1. 重複チェック
	existing, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, "", fmt.Errorf("failed to check username: %w", err)
	}
	if existing != nil {
		return nil, "", model.NewDuplicateUsernameError()
	}

	existing, err = s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("failed to check email: %w", err)
	}
	if existing != nil {
		return nil, "", model.NewDuplicateEmailError()
	}

	// 2. パスワードハッシュ化とユーザー作成
	hash, err := HashPassword(password)
	if err != nil {
		return nil, "", err
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
		return nil, "", err
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)

	// 3. user.createdイベントを発行（失敗しても登録はロールバックしない）
	if err := s.publisher.PublishUserEvent(ctx, model.EventUserCreated, user); err != nil {
		slog.Warn("failed to publish user.created event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	// 4. トークン発行
	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, "", err
	}

	return user, token, nil
}

// Login はユーザー名とパスワードを検証し、トークンを発行する。
// ユーザー不明とパスワード不一致は区別せず、同一のエラーを返す。
func (s *Service) Login(ctx context.Context, username, password string) (*model.User, string, error) {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, "", fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, "", model.NewInvalidCredentialsError()
	}

	if !VerifyPassword(user.PasswordHash, password) {
		return nil, "", model.NewInvalidCredentialsError()
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, "", err
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))

	return user, token, nil
}

// GetCurrentUser は指定IDのユーザーを取得する。
// 見つからない場合はAPIErrorを返す。
func (s *Service) GetCurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}
