// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/healthsync/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// ErrNoCredentials はリクエストに認証情報が含まれないことを表す。
var ErrNoCredentials = errors.New("no credentials")

// IdentityResolver はリクエストから現在のユーザーIDを解決する。
// ハンドラーは解決方式に依存せず、UserIDFromContextのみを参照する。
type IdentityResolver interface {
	ResolveIdentity(r *http.Request) (string, error)
}

// TokenVerifier はアクセストークンを検証してユーザーを返す。
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*model.User, error)
}

// BearerTokenResolver はAuthorization: Bearer ヘッダーのトークンからユーザーを解決する。
type BearerTokenResolver struct {
	verifier TokenVerifier
}

// NewBearerTokenResolver はBearerTokenResolverを生成する。
func NewBearerTokenResolver(verifier TokenVerifier) *BearerTokenResolver {
	return &BearerTokenResolver{verifier: verifier}
}

// ResolveIdentity はトークンを検証し、ユーザーIDを返す。
func (b *BearerTokenResolver) ResolveIdentity(r *http.Request) (string, error) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return "", ErrNoCredentials
	}

	user, err := b.verifier.VerifyToken(r.Context(), token)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// bearerToken は"Bearer <token>"形式のヘッダー値からトークンを取り出す。
// スキーム名の大文字小文字は区別しない。
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// NewIdentityMiddleware はリクエストごとに一度だけ現在のユーザーを解決し、
// ユーザーIDをリクエストコンテキストに注入するミドルウェアを返す。
// 解決できない場合は401 Unauthorizedを返す。
func NewIdentityMiddleware(resolver IdentityResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := resolver.ResolveIdentity(r)
			if err != nil {
				writeUnauthorized(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}

// writeUnauthorized は認証失敗の種類に応じた401レスポンスを書き込む。
func writeUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", "Bearer")

	var apiErr *model.APIError
	switch {
	case errors.Is(err, ErrNoCredentials):
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
	case errors.As(err, &apiErr) && apiErr.Category == "auth":
		WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
	default:
		slog.Error("failed to resolve identity",
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// ロギングミドルウェアの内側で呼ばれた場合はアクセスログにも反映される。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if info := requestInfoFromContext(ctx); info != nil {
		info.setUserID(userID)
	}
	return context.WithValue(ctx, userIDContextKey, userID)
}
