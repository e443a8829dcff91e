package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/healthsync/internal/auth"
	"github.com/hitoshi/healthsync/internal/middleware"
	"github.com/hitoshi/healthsync/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	signupFn  func(ctx context.Context, in auth.SignupInput) (*model.User, error)
	loginFn   func(ctx context.Context, email, password string) (*auth.Token, error)
	getUserFn func(ctx context.Context, userID string) (*model.User, error)
}

func (m *mockAuthService) Signup(ctx context.Context, in auth.SignupInput) (*model.User, error) {
	if m.signupFn != nil {
		return m.signupFn(ctx, in)
	}
	return nil, errors.New("signup not configured")
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.Token, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, errors.New("login not configured")
}

func (m *mockAuthService) GetUser(ctx context.Context, userID string) (*model.User, error) {
	if m.getUserFn != nil {
		return m.getUserFn(ctx, userID)
	}
	return &model.User{ID: userID, Email: "test@example.com"}, nil
}

type mockHealthService struct {
	createFn   func(ctx context.Context, userID string, in model.HealthRecordInput) (*model.HealthRecord, error)
	listFn     func(ctx context.Context, userID string) ([]*model.HealthRecord, error)
	latestFn   func(ctx context.Context, userID string) (*model.HealthRecord, error)
	syncZeppFn func(ctx context.Context, userID string) (*model.HealthRecord, error)
}

func (m *mockHealthService) Create(ctx context.Context, userID string, in model.HealthRecordInput) (*model.HealthRecord, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, in)
	}
	return nil, errors.New("create not configured")
}

func (m *mockHealthService) List(ctx context.Context, userID string) ([]*model.HealthRecord, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return []*model.HealthRecord{}, nil
}

func (m *mockHealthService) Latest(ctx context.Context, userID string) (*model.HealthRecord, error) {
	if m.latestFn != nil {
		return m.latestFn(ctx, userID)
	}
	return nil, model.NewRecordNotFoundError()
}

func (m *mockHealthService) SyncZepp(ctx context.Context, userID string) (*model.HealthRecord, error) {
	if m.syncZeppFn != nil {
		return m.syncZeppFn(ctx, userID)
	}
	return nil, model.NewSyncNotConfiguredError()
}

// mockTokenVerifier はトークン文字列"token-<userID>"をそのユーザーとして受け付ける。
type mockTokenVerifier struct{}

func (mockTokenVerifier) VerifyToken(ctx context.Context, token string) (*model.User, error) {
	userID, ok := strings.CutPrefix(token, "token-")
	if !ok || userID == "" {
		return nil, model.NewInvalidTokenError()
	}
	return &model.User{ID: userID}, nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

// compile-time interface check
var (
	_ AuthServiceInterface     = (*mockAuthService)(nil)
	_ HealthServiceInterface   = (*mockHealthService)(nil)
	_ middleware.TokenVerifier = mockTokenVerifier{}
	_ HealthChecker            = (*mockHealthChecker)(nil)
)

// --- ヘルパー ---

func newTestDeps(authSvc *mockAuthService, healthSvc *mockHealthService) *RouterDeps {
	return &RouterDeps{
		ProjectName:        "Health Tracker",
		APIPrefix:          "/api/v1",
		HealthChecker:      &mockHealthChecker{},
		MetricsHandler:     http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("# metrics")) }),
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		RateLimiter:        middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig()),
		TokenVerifier:      mockTokenVerifier{},
		AuthService:        authSvc,
		HealthService:      healthSvc,
	}
}

func newTestRouter(t *testing.T, authSvc *mockAuthService, healthSvc *mockHealthService) http.Handler {
	t.Helper()
	deps := newTestDeps(authSvc, healthSvc)
	t.Cleanup(deps.RateLimiter.Stop)
	return NewRouter(deps)
}

func doRequest(handler http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func sampleRecord(userID string, source model.RecordSource) *model.HealthRecord {
	return &model.HealthRecord{
		ID:               "record-1",
		UserID:           userID,
		CaloriesBurned:   2100.5,
		ExerciseMinutes:  45,
		StandHours:       12,
		RestingHeartRate: intPtr(58),
		SleepQuality:     intPtr(4),
		Source:           source,
		RecordedDate:     time.Date(2026, 10, 1, 7, 30, 0, 0, time.UTC),
	}
}
