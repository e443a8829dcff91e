package health

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/healthsync/internal/metrics"
	"github.com/hitoshi/healthsync/internal/model"
	"github.com/hitoshi/healthsync/internal/repository"
	"github.com/hitoshi/healthsync/internal/zepp"
)

// --- モック定義 ---

// memoryRecordRepo はメモリ上で記録を保持するHealthRecordRepositoryのモック。
type memoryRecordRepo struct {
	mu       sync.Mutex
	records  []*model.HealthRecord
	createFn func(ctx context.Context, record *model.HealthRecord) error
}

func (m *memoryRecordRepo) Create(ctx context.Context, record *model.HealthRecord) error {
	if m.createFn != nil {
		return m.createFn(ctx, record)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *memoryRecordRepo) ListByUserID(_ context.Context, userID string) ([]*model.HealthRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.HealthRecord, 0)
	for _, r := range m.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecordedDate.After(out[j].RecordedDate)
	})
	return out, nil
}

func (m *memoryRecordRepo) FindLatestByUserID(ctx context.Context, userID string) (*model.HealthRecord, error) {
	list, _ := m.ListByUserID(ctx, userID)
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

var _ repository.HealthRecordRepository = (*memoryRecordRepo)(nil)

type mockVendor struct {
	loginFn func(ctx context.Context, phone, password string) (*zepp.Session, error)
	fetchFn func(ctx context.Context, session *zepp.Session) (*zepp.Summary, error)
}

func (m *mockVendor) Login(ctx context.Context, phone, password string) (*zepp.Session, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, phone, password)
	}
	return &zepp.Session{UserID: "1", LoginToken: "L", AppToken: "A"}, nil
}

func (m *mockVendor) FetchLatest(ctx context.Context, session *zepp.Session) (*zepp.Summary, error) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, session)
	}
	return &zepp.Summary{Calories: 120}, nil
}

var _ VendorClient = (*mockVendor)(nil)

type mockMetrics struct {
	successes int
	failures  []string
	created   []string
	latencies int
}

func (m *mockMetrics) RecordSyncSuccess() { m.successes++ }
func (m *mockMetrics) RecordSyncFailure(kind string) { m.failures = append(m.failures, kind) }
func (m *mockMetrics) RecordSyncLatency(_ time.Duration) { m.latencies++ }
func (m *mockMetrics) RecordRecordCreated(source string) { m.created = append(m.created, source) }
func (m *mockMetrics) RecordHTTPStatus(_ int) {}

var _ metrics.MetricsCollector = (*mockMetrics)(nil)

var testCreds = Credentials{Phone: "13800000000", Password: "secret"}

func newTestService(repo repository.HealthRecordRepository, vendor VendorClient, creds Credentials, m *mockMetrics) *Service {
	return NewService(repo, vendor, creds, m)
}

// steppingClock は呼び出しごとに1分進む時計。
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Minute)
		return current
	}
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v (%T), want *model.APIError", err, err)
	}
	if apiErr.Code != code {
		t.Errorf("Code = %q, want %q", apiErr.Code, code)
	}
}

func intPtr(v int) *int { return &v }

// --- Create ---

func TestCreate_BoundaryValuesAccepted(t *testing.T) {
	repo := &memoryRecordRepo{}
	m := &mockMetrics{}
	svc := newTestService(repo, &mockVendor{}, testCreds, m)

	inputs := []model.HealthRecordInput{
		{StandHours: 0},
		{StandHours: 24},
		{SleepQuality: intPtr(1)},
		{SleepQuality: intPtr(5)},
		{RestingHeartRate: intPtr(0)},
		{RestingHeartRate: intPtr(300)},
	}
	for _, in := range inputs {
		record, err := svc.Create(context.Background(), "user-1", in)
		if err != nil {
			t.Fatalf("Create(%+v) returned error: %v", in, err)
		}
		if record.Source != model.RecordSourceManual {
			t.Errorf("Source = %q, want manual", record.Source)
		}
		if record.UserID != "user-1" {
			t.Errorf("UserID = %q, want user-1", record.UserID)
		}
		if record.ID == "" || record.RecordedDate.IsZero() {
			t.Error("ID and RecordedDate must be assigned")
		}
	}
	if len(repo.records) != len(inputs) {
		t.Errorf("stored = %d, want %d", len(repo.records), len(inputs))
	}
	if len(m.created) != len(inputs) {
		t.Errorf("created metric = %d, want %d", len(m.created), len(inputs))
	}
}

func TestCreate_OutOfRangeRejectedBeforePersistence(t *testing.T) {
	repo := &memoryRecordRepo{}
	svc := newTestService(repo, &mockVendor{}, testCreds, &mockMetrics{})

	inputs := []model.HealthRecordInput{
		{StandHours: -1},
		{StandHours: 25},
		{SleepQuality: intPtr(0)},
		{SleepQuality: intPtr(6)},
		{RestingHeartRate: intPtr(-1)},
		{RestingHeartRate: intPtr(301)},
	}
	for _, in := range inputs {
		_, err := svc.Create(context.Background(), "user-1", in)
		assertAPIErrorCode(t, err, model.ErrCodeInvalidHealthRecord)
	}
	if len(repo.records) != 0 {
		t.Errorf("stored = %d, want 0", len(repo.records))
	}
}

// TestCreate_StoresSleepStagesVerbatim はsleep_stagesが送信されたままの文字列で保存されることを検証する。
func TestCreate_StoresSleepStagesVerbatim(t *testing.T) {
	tests := []struct {
		name   string
		stages string
	}{
		{"タグ風の文字列", "deep<rem>light"},
		{"HTMLエンティティ", "a &amp; b"},
		{"空白のみ", "  "},
		{"不等号", "x<y>z"},
		{"JSON文字列", `{"deep":90,"light":210,"rem":60}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &memoryRecordRepo{}
			svc := newTestService(repo, &mockVendor{}, testCreds, &mockMetrics{})

			stages := tt.stages
			record, err := svc.Create(context.Background(), "user-1", model.HealthRecordInput{SleepStages: &stages})
			if err != nil {
				t.Fatalf("Create returned error: %v", err)
			}
			if record.SleepStages == nil || *record.SleepStages != tt.stages {
				t.Errorf("SleepStages = %v, want %q", record.SleepStages, tt.stages)
			}

			latest, err := svc.Latest(context.Background(), "user-1")
			if err != nil {
				t.Fatalf("Latest returned error: %v", err)
			}
			if latest.SleepStages == nil || *latest.SleepStages != tt.stages {
				t.Errorf("stored SleepStages = %v, want %q", latest.SleepStages, tt.stages)
			}
		})
	}
}

func TestCreate_RepositoryError(t *testing.T) {
	repo := &memoryRecordRepo{createFn: func(context.Context, *model.HealthRecord) error {
		return errors.New("db down")
	}}
	svc := newTestService(repo, &mockVendor{}, testCreds, &mockMetrics{})

	_, err := svc.Create(context.Background(), "user-1", model.HealthRecordInput{})
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("repository failure should not be an APIError: %v", apiErr)
	}
}

// --- Latest / List ---

// TestLatest_ReturnsMostRecent はT1<T2<T3の記録に対してT3を返すことを検証する。
func TestLatest_ReturnsMostRecent(t *testing.T) {
	repo := &memoryRecordRepo{}
	svc := newTestService(repo, &mockVendor{}, testCreds, &mockMetrics{})
	svc.now = steppingClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	var last *model.HealthRecord
	for _, cal := range []float64{100, 200, 300} {
		r, err := svc.Create(ctx, "user-1", model.HealthRecordInput{CaloriesBurned: cal})
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		last = r
	}

	latest, err := svc.Latest(ctx, "user-1")
	if err != nil {
		t.Fatalf("Latest returned error: %v", err)
	}
	if latest.ID != last.ID || latest.CaloriesBurned != 300 {
		t.Errorf("latest = %+v, want T3 record", latest)
	}
}

func TestLatest_NoRecords(t *testing.T) {
	svc := newTestService(&memoryRecordRepo{}, &mockVendor{}, testCreds, &mockMetrics{})

	_, err := svc.Latest(context.Background(), "user-1")
	assertAPIErrorCode(t, err, model.ErrCodeRecordNotFound)
}

func TestListAndLatest_CrossUserIsolation(t *testing.T) {
	repo := &memoryRecordRepo{}
	svc := newTestService(repo, &mockVendor{}, testCreds, &mockMetrics{})
	svc.now = steppingClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	if _, err := svc.Create(ctx, "alice", model.HealthRecordInput{CaloriesBurned: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(ctx, "bob", model.HealthRecordInput{CaloriesBurned: 2}); err != nil {
		t.Fatal(err)
	}

	list, err := svc.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(list) != 1 || list[0].UserID != "alice" {
		t.Errorf("alice list = %+v", list)
	}

	latest, err := svc.Latest(ctx, "alice")
	if err != nil {
		t.Fatalf("Latest returned error: %v", err)
	}
	if latest.UserID != "alice" {
		t.Errorf("alice latest belongs to %q", latest.UserID)
	}

	if _, err := svc.Latest(ctx, "carol"); err == nil {
		t.Error("carol has no records; Latest should fail")
	}
}

// --- SyncZepp ---

func TestSyncZepp_Success(t *testing.T) {
	repo := &memoryRecordRepo{}
	m := &mockMetrics{}
	var gotSession *zepp.Session
	vendor := &mockVendor{
		loginFn: func(_ context.Context, phone, password string) (*zepp.Session, error) {
			if phone != testCreds.Phone || password != testCreds.Password {
				t.Errorf("credentials = %q/%q", phone, password)
			}
			return &zepp.Session{UserID: "z1", LoginToken: "L", AppToken: "A"}, nil
		},
		fetchFn: func(_ context.Context, s *zepp.Session) (*zepp.Summary, error) {
			gotSession = s
			return &zepp.Summary{Calories: 120, Steps: 4000}, nil
		},
	}
	svc := newTestService(repo, vendor, testCreds, m)

	record, err := svc.SyncZepp(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("SyncZepp returned error: %v", err)
	}
	if gotSession == nil || gotSession.UserID != "z1" {
		t.Errorf("FetchLatest should receive the session from Login, got %+v", gotSession)
	}
	if record.Source != model.RecordSourceZepp || record.UserID != "user-1" {
		t.Errorf("record = %+v", record)
	}
	if record.CaloriesBurned != 120 || record.ExerciseMinutes != 0 || record.StandHours != 0 {
		t.Errorf("record metrics = %+v", record)
	}
	if record.RestingHeartRate != nil || record.SleepDuration != nil || record.SleepQuality != nil {
		t.Errorf("optional metrics must be absent: %+v", record)
	}
	if m.successes != 1 || len(m.failures) != 0 || m.latencies != 1 {
		t.Errorf("metrics = %+v", m)
	}
	if len(m.created) != 1 || m.created[0] != "zepp" {
		t.Errorf("created = %v, want [zepp]", m.created)
	}
}

func TestSyncZepp_NotConfigured(t *testing.T) {
	called := false
	vendor := &mockVendor{loginFn: func(context.Context, string, string) (*zepp.Session, error) {
		called = true
		return nil, nil
	}}
	m := &mockMetrics{}

	for _, creds := range []Credentials{{}, {Phone: "1"}, {Password: "p"}} {
		svc := newTestService(&memoryRecordRepo{}, vendor, creds, m)
		_, err := svc.SyncZepp(context.Background(), "user-1")
		assertAPIErrorCode(t, err, model.ErrCodeSyncNotConfigured)
	}
	if called {
		t.Error("vendor must not be called without credentials")
	}
	if len(m.failures) != 3 || m.failures[0] != "not_configured" {
		t.Errorf("failures = %v", m.failures)
	}
}

func TestSyncZepp_VendorFailures(t *testing.T) {
	tests := []struct {
		name     string
		loginErr error
		fetchErr error
		wantCode string
		wantKind string
	}{
		{
			name:     "ログイン失敗（リダイレクトなし）",
			loginErr: &zepp.Error{Kind: zepp.KindNoRedirect, Step: zepp.StepAccessCode},
			wantCode: model.ErrCodeVendorAuthFailed,
			wantKind: "no_redirect",
		},
		{
			name:     "ログイン失敗（トークンなし）",
			loginErr: &zepp.Error{Kind: zepp.KindNoToken, Step: zepp.StepLoginToken},
			wantCode: model.ErrCodeVendorAuthFailed,
			wantKind: "no_token",
		},
		{
			name:     "データなし",
			fetchErr: &zepp.Error{Kind: zepp.KindNoData, Step: zepp.StepBandData},
			wantCode: model.ErrCodeVendorNoData,
			wantKind: "no_data",
		},
		{
			name:     "未認証セッション",
			fetchErr: &zepp.Error{Kind: zepp.KindNotAuthenticated, Step: zepp.StepBandData},
			wantCode: model.ErrCodeVendorFetchFailed,
			wantKind: "not_authenticated",
		},
		{
			name:     "不正なペイロード",
			fetchErr: &zepp.Error{Kind: zepp.KindMalformedPayload, Step: zepp.StepBandData},
			wantCode: model.ErrCodeVendorFetchFailed,
			wantKind: "malformed_payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &memoryRecordRepo{}
			m := &mockMetrics{}
			vendor := &mockVendor{
				loginFn: func(context.Context, string, string) (*zepp.Session, error) {
					if tt.loginErr != nil {
						return nil, tt.loginErr
					}
					return &zepp.Session{UserID: "z1", AppToken: "A"}, nil
				},
				fetchFn: func(context.Context, *zepp.Session) (*zepp.Summary, error) {
					if tt.fetchErr != nil {
						return nil, tt.fetchErr
					}
					return &zepp.Summary{}, nil
				},
			}
			svc := newTestService(repo, vendor, testCreds, m)

			_, err := svc.SyncZepp(context.Background(), "user-1")
			assertAPIErrorCode(t, err, tt.wantCode)
			if len(repo.records) != 0 {
				t.Error("nothing must be stored on failure")
			}
			if len(m.failures) != 1 || m.failures[0] != tt.wantKind {
				t.Errorf("failures = %v, want [%s]", m.failures, tt.wantKind)
			}
		})
	}
}

func TestSyncZepp_InvalidVendorValues(t *testing.T) {
	repo := &memoryRecordRepo{}
	m := &mockMetrics{}
	vendor := &mockVendor{fetchFn: func(context.Context, *zepp.Session) (*zepp.Summary, error) {
		return &zepp.Summary{Calories: -5}, nil
	}}
	svc := newTestService(repo, vendor, testCreds, m)

	_, err := svc.SyncZepp(context.Background(), "user-1")
	assertAPIErrorCode(t, err, model.ErrCodeVendorFetchFailed)
	if len(repo.records) != 0 {
		t.Error("invalid vendor values must not be stored")
	}
	if len(m.failures) != 1 || m.failures[0] != "invalid_record" {
		t.Errorf("failures = %v", m.failures)
	}
}
