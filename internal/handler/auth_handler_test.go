package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/hitoshi/healthsync/internal/auth"
	"github.com/hitoshi/healthsync/internal/model"
)

func decodeAPIError(t *testing.T, body []byte) apiErrorResponse {
	t.Helper()
	var resp apiErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("failed to decode error body: %v\nraw: %s", err, body)
	}
	return resp
}

func TestAuthHandler_Signup_Returns201(t *testing.T) {
	var gotInput auth.SignupInput
	svc := &mockAuthService{
		signupFn: func(ctx context.Context, in auth.SignupInput) (*model.User, error) {
			gotInput = in
			return &model.User{
				ID:             "user-1",
				Email:          "alice@example.com",
				HashedPassword: "$2a$10$secret",
				FullName:       in.FullName,
			}, nil
		},
	}
	router := newTestRouter(t, svc, &mockHealthService{})

	w := doRequest(router, http.MethodPost, "/api/v1/auth/signup",
		`{"email":"Alice@Example.com","password":"pw","full_name":"Alice"}`, "")

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusCreated, w.Body.String())
	}
	if gotInput.Email != "Alice@Example.com" || gotInput.Password != "pw" {
		t.Errorf("service input = %+v", gotInput)
	}

	var raw map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if raw["id"] != "user-1" || raw["email"] != "alice@example.com" || raw["full_name"] != "Alice" {
		t.Errorf("body = %v", raw)
	}
	if _, ok := raw["hashed_password"]; ok {
		t.Error("response must not include hashed_password")
	}
}

func TestAuthHandler_Signup_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"重複", model.NewEmailAlreadyRegisteredError(), http.StatusConflict, model.ErrCodeEmailAlreadyRegistered},
		{"入力不備", model.NewInvalidSignupError("メールアドレスが不正です"), http.StatusBadRequest, model.ErrCodeInvalidSignup},
		{"内部エラー", context.DeadlineExceeded, http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				signupFn: func(ctx context.Context, in auth.SignupInput) (*model.User, error) {
					return nil, tt.err
				},
			}
			router := newTestRouter(t, svc, &mockHealthService{})

			w := doRequest(router, http.MethodPost, "/api/v1/auth/signup", `{"email":"a@example.com","password":"pw"}`, "")

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decodeAPIError(t, w.Body.Bytes())
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestAuthHandler_Signup_InvalidJSON_Returns400(t *testing.T) {
	router := newTestRouter(t, &mockAuthService{}, &mockHealthService{})

	w := doRequest(router, http.MethodPost, "/api/v1/auth/signup", `{"email":`, "")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeAPIError(t, w.Body.Bytes()); body.Code != model.ErrCodeInvalidRequest {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidRequest)
	}
}

func TestAuthHandler_Login_ReturnsToken(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, email, password string) (*auth.Token, error) {
			if email != "alice@example.com" || password != "pw" {
				return nil, model.NewInvalidCredentialsError()
			}
			return &auth.Token{AccessToken: "jwt-token", TokenType: auth.TokenTypeBearer, ExpiresIn: 3600}, nil
		},
	}
	router := newTestRouter(t, svc, &mockHealthService{})

	w := doRequest(router, http.MethodPost, "/api/v1/auth/login", `{"email":"alice@example.com","password":"pw"}`, "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp tokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.AccessToken != "jwt-token" || resp.TokenType != "bearer" || resp.ExpiresIn != 3600 {
		t.Errorf("token = %+v", resp)
	}
}

func TestAuthHandler_Login_InvalidCredentials_Returns401(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, email, password string) (*auth.Token, error) {
			return nil, model.NewInvalidCredentialsError()
		},
	}
	router := newTestRouter(t, svc, &mockHealthService{})

	w := doRequest(router, http.MethodPost, "/api/v1/auth/login", `{"email":"alice@example.com","password":"wrong"}`, "")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if got := w.Header().Get("WWW-Authenticate"); got != "Bearer" {
		t.Errorf("WWW-Authenticate = %q, want %q", got, "Bearer")
	}
	if body := decodeAPIError(t, w.Body.Bytes()); body.Code != model.ErrCodeInvalidCredentials {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidCredentials)
	}
}

func TestAuthHandler_Me(t *testing.T) {
	svc := &mockAuthService{
		getUserFn: func(ctx context.Context, userID string) (*model.User, error) {
			return &model.User{ID: userID, Email: "bob@example.com"}, nil
		},
	}
	router := newTestRouter(t, svc, &mockHealthService{})

	t.Run("認証済み", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/api/v1/auth/me", "", "token-user-9")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		var resp userResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		if resp.ID != "user-9" || resp.Email != "bob@example.com" {
			t.Errorf("user = %+v", resp)
		}
	})

	t.Run("未認証", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/api/v1/auth/me", "", "")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}
