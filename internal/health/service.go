// Package health は健康記録の登録・参照とZepp同期のドメインロジックを提供する。
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/healthsync/internal/metrics"
	"github.com/hitoshi/healthsync/internal/model"
	"github.com/hitoshi/healthsync/internal/repository"
	"github.com/hitoshi/healthsync/internal/zepp"
)

// 同期失敗のメトリクス種別のうちZepp以外に由来するもの。
const (
	failureNotConfigured = "not_configured"
	failureInvalidRecord = "invalid_record"
	failureStore         = "store"
)

// VendorClient はZeppクライアントのインターフェース。
type VendorClient interface {
	Login(ctx context.Context, phone, password string) (*zepp.Session, error)
	FetchLatest(ctx context.Context, session *zepp.Session) (*zepp.Summary, error)
}

// Credentials はZeppアカウントの認証情報。
type Credentials struct {
	Phone    string
	Password string
}

// Configured は電話番号とパスワードの両方が設定されているかを返す。
func (c Credentials) Configured() bool {
	return c.Phone != "" && c.Password != ""
}

// Service は健康記録のサービス層。
// 参照・登録はすべてユーザーIDでスコープされる。
type Service struct {
	repo    repository.HealthRecordRepository
	vendor  VendorClient
	creds   Credentials
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.HealthRecordRepository,
	vendor VendorClient,
	creds Credentials,
	collector metrics.MetricsCollector,
) *Service {
	return &Service{
		repo:    repo,
		vendor:  vendor,
		creds:   creds,
		metrics: collector,
		now:     time.Now,
	}
}

// Create は手動登録の健康記録を作成する。
func (s *Service) Create(ctx context.Context, userID string, in model.HealthRecordInput) (*model.HealthRecord, error) {
	return s.store(ctx, userID, in, model.RecordSourceManual)
}

// List はユーザーの健康記録を新しい順に返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.HealthRecord, error) {
	records, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("健康記録一覧の取得に失敗しました: %w", err)
	}
	return records, nil
}

// Latest はrecorded_dateが最も新しい記録を返す。
// 記録が無い場合はRECORD_NOT_FOUNDを返す。
func (s *Service) Latest(ctx context.Context, userID string) (*model.HealthRecord, error) {
	record, err := s.repo.FindLatestByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("最新の健康記録の取得に失敗しました: %w", err)
	}
	if record == nil {
		return nil, model.NewRecordNotFoundError()
	}
	return record, nil
}

// SyncZepp はZeppにログインして最新サマリーを取得し、ユーザーの記録として保存する。
// ログインと取得は順に行い、セッションは呼び出しごとに作り直す。
func (s *Service) SyncZepp(ctx context.Context, userID string) (*model.HealthRecord, error) {
	start := s.now()
	defer func() {
		s.metrics.RecordSyncLatency(s.now().Sub(start))
	}()

	if !s.creds.Configured() {
		s.metrics.RecordSyncFailure(failureNotConfigured)
		return nil, model.NewSyncNotConfiguredError()
	}

	session, err := s.vendor.Login(ctx, s.creds.Phone, s.creds.Password)
	if err != nil {
		kind := vendorKind(err)
		s.metrics.RecordSyncFailure(kind)
		slog.Warn("Zeppへのログインに失敗しました",
			slog.String("user_id", userID),
			slog.String("kind", kind),
		)
		return nil, model.NewVendorAuthFailedError(kind)
	}

	summary, err := s.vendor.FetchLatest(ctx, session)
	if err != nil {
		kind := vendorKind(err)
		s.metrics.RecordSyncFailure(kind)
		slog.Warn("Zeppからのデータ取得に失敗しました",
			slog.String("user_id", userID),
			slog.String("kind", kind),
		)
		if errors.Is(err, zepp.ErrNoData) {
			return nil, model.NewVendorNoDataError()
		}
		return nil, model.NewVendorFetchFailedError(kind)
	}

	record, err := s.store(ctx, userID, summary.ToRecordInput(), model.RecordSourceZepp)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			s.metrics.RecordSyncFailure(failureInvalidRecord)
			return nil, model.NewVendorFetchFailedError(apiErr.Message)
		}
		s.metrics.RecordSyncFailure(failureStore)
		return nil, err
	}

	s.metrics.RecordSyncSuccess()
	slog.Info("Zeppから健康データを同期しました",
		slog.String("user_id", userID),
		slog.String("record_id", record.ID),
		slog.Int64("steps", summary.Steps),
	)
	return record, nil
}

// store は入力を検証して記録を保存する。
func (s *Service) store(ctx context.Context, userID string, in model.HealthRecordInput, source model.RecordSource) (*model.HealthRecord, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	record := &model.HealthRecord{
		ID:               uuid.New().String(),
		UserID:           userID,
		CaloriesBurned:   in.CaloriesBurned,
		ExerciseMinutes:  in.ExerciseMinutes,
		StandHours:       in.StandHours,
		RestingHeartRate: in.RestingHeartRate,
		RespiratoryRate:  in.RespiratoryRate,
		SleepDuration:    in.SleepDuration,
		SleepQuality:     in.SleepQuality,
		SleepStages:      in.SleepStages,
		Source:           source,
		// PostgreSQLのtimestamptzはマイクロ秒精度
		RecordedDate: s.now().UTC().Truncate(time.Microsecond),
	}

	if err := s.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("健康記録の保存に失敗しました: %w", err)
	}

	s.metrics.RecordRecordCreated(string(source))
	return record, nil
}

// vendorKind はZeppのエラー種別をメトリクス・メッセージ用の文字列にする。
func vendorKind(err error) string {
	var zerr *zepp.Error
	if errors.As(err, &zerr) {
		return string(zerr.Kind)
	}
	return "unknown"
}
