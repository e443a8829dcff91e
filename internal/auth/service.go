// Package auth はサインアップ、ログイン、アクセストークン検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/healthsync/internal/model"
	"github.com/hitoshi/healthsync/internal/repository"
	"github.com/hitoshi/healthsync/internal/security"
)

// TokenTypeBearer はログイン応答のtoken_type。
const TokenTypeBearer = "bearer"

// SignupInput はサインアップの入力。
type SignupInput struct {
	Email    string
	Password string
	FullName *string
}

// Token はログイン成功時に発行されるアクセストークン。
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int // 秒
}

// PasswordHasher はパスワードのハッシュ化と照合を行う。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hashed, password string) error
}

// TextSanitizer は自由記述テキストを無害化する。
type TextSanitizer interface {
	SanitizePtr(text *string) *string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo  repository.UserRepository
	hasher    PasswordHasher
	sanitizer TextSanitizer
	tokens    *TokenIssuer
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	hasher PasswordHasher,
	sanitizer TextSanitizer,
	tokens *TokenIssuer,
) *Service {
	return &Service{
		userRepo:  userRepo,
		hasher:    hasher,
		sanitizer: sanitizer,
		tokens:    tokens,
		now:       time.Now,
	}
}

// Signup はユーザーを登録する。
// 登録済みのメールアドレスの場合はパスワードに関係なく競合エラーを返す。
func (s *Service) Signup(ctx context.Context, in SignupInput) (*model.User, error) {
	email := model.NormalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, model.NewInvalidSignupError("有効なメールアドレスを指定してください。")
	}
	if utf8.RuneCountInString(email) > model.MaxEmailLength {
		return nil, model.NewInvalidSignupError(fmt.Sprintf("メールアドレスは%d文字以内で指定してください。", model.MaxEmailLength))
	}
	if in.Password == "" {
		return nil, model.NewInvalidSignupError("パスワードは必須です。")
	}
	if len(in.Password) > model.MaxPasswordBytes {
		return nil, model.NewInvalidSignupError(fmt.Sprintf("パスワードは%dバイト以内で指定してください。", model.MaxPasswordBytes))
	}
	fullName := s.sanitizer.SanitizePtr(in.FullName)
	if fullName != nil && utf8.RuneCountInString(*fullName) > model.MaxFullNameLength {
		return nil, model.NewInvalidSignupError(fmt.Sprintf("氏名は%d文字以内で指定してください。", model.MaxFullNameLength))
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailAlreadyRegisteredError()
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		ID:             uuid.New().String(),
		Email:          email,
		HashedPassword: hashed,
		FullName:       fullName,
		CreatedAt:      s.now().UTC(),
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		// 事前チェック後に同じメールアドレスで登録された場合
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailAlreadyRegisteredError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user created", slog.String("user_id", user.ID))
	return user, nil
}

// Login はメールアドレスとパスワードを検証し、アクセストークンを発行する。
// 未登録のメールアドレスと誤ったパスワードは区別せずINVALID_CREDENTIALSとする。
func (s *Service) Login(ctx context.Context, email, password string) (*Token, error) {
	user, err := s.userRepo.FindByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		if errors.Is(err, security.ErrPasswordMismatch) {
			return nil, model.NewInvalidCredentialsError()
		}
		return nil, err
	}

	accessToken, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return &Token{
		AccessToken: accessToken,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int(s.tokens.TTL().Seconds()),
	}, nil
}

// VerifyToken はアクセストークンを検証し、subjectのユーザーを返す。
// 検証失敗とユーザー不在はいずれもINVALID_TOKENとする。
func (s *Service) VerifyToken(ctx context.Context, token string) (*model.User, error) {
	userID, err := s.tokens.Parse(token)
	if err != nil {
		return nil, model.NewInvalidTokenError()
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidTokenError()
	}
	return user, nil
}

// GetUser は指定IDのユーザーを返す。
func (s *Service) GetUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}
	return user, nil
}
