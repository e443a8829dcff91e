package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hitoshi/healthsync/internal/middleware"
	"github.com/hitoshi/healthsync/internal/model"
)

// HealthServiceInterface は健康データハンドラーが必要とするサービスインターフェース。
type HealthServiceInterface interface {
	Create(ctx context.Context, userID string, in model.HealthRecordInput) (*model.HealthRecord, error)
	List(ctx context.Context, userID string) ([]*model.HealthRecord, error)
	Latest(ctx context.Context, userID string) (*model.HealthRecord, error)
	SyncZepp(ctx context.Context, userID string) (*model.HealthRecord, error)
}

// HealthHandler は健康データのHTTPハンドラー。
type HealthHandler struct {
	service HealthServiceInterface
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(service HealthServiceInterface) *HealthHandler {
	return &HealthHandler{service: service}
}

// createRecordRequest は健康記録作成リクエストのボディ。
// 省略された必須数値項目は0として扱う。
type createRecordRequest struct {
	CaloriesBurned   float64  `json:"calories_burned"`
	ExerciseMinutes  int      `json:"exercise_minutes"`
	StandHours       int      `json:"stand_hours"`
	RestingHeartRate *int     `json:"resting_heart_rate"`
	RespiratoryRate  *float64 `json:"respiratory_rate"`
	SleepDuration    *float64 `json:"sleep_duration"`
	SleepQuality     *int     `json:"sleep_quality"`
	SleepStages      *string  `json:"sleep_stages"`
}

// recordResponse は健康記録のAPIレスポンス。
type recordResponse struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	CaloriesBurned   float64   `json:"calories_burned"`
	ExerciseMinutes  int       `json:"exercise_minutes"`
	StandHours       int       `json:"stand_hours"`
	RestingHeartRate *int      `json:"resting_heart_rate"`
	RespiratoryRate  *float64  `json:"respiratory_rate"`
	SleepDuration    *float64  `json:"sleep_duration"`
	SleepQuality     *int      `json:"sleep_quality"`
	SleepStages      *string   `json:"sleep_stages"`
	Source           string    `json:"source"`
	RecordedDate     time.Time `json:"recorded_date"`
}

// summaryResponse は最新記録のAPIレスポンス。
type summaryResponse struct {
	Latest recordResponse `json:"latest"`
}

// syncResponse はZepp同期のAPIレスポンス。
type syncResponse struct {
	Message string         `json:"message"`
	Data    recordResponse `json:"data"`
	Source  string         `json:"source"`
}

// CreateRecord は健康記録を手動登録する。
// POST {prefix}/health-data/
func (h *HealthHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createRecordRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		// 型の不一致は値の不正として扱う
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			writeAPIErrorResponse(w, http.StatusUnprocessableEntity,
				model.NewInvalidHealthRecordError(typeErr.Field, "型が不正です"))
			return
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	record, err := h.service.Create(r.Context(), userID, model.HealthRecordInput{
		CaloriesBurned:   req.CaloriesBurned,
		ExerciseMinutes:  req.ExerciseMinutes,
		StandHours:       req.StandHours,
		RestingHeartRate: req.RestingHeartRate,
		RespiratoryRate:  req.RespiratoryRate,
		SleepDuration:    req.SleepDuration,
		SleepQuality:     req.SleepQuality,
		SleepStages:      req.SleepStages,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toRecordResponse(record))
}

// ListRecords はユーザーの健康記録を新しい順に返す。
// GET {prefix}/health-data/
func (h *HealthHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	records, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]recordResponse, len(records))
	for i, record := range records {
		resp[i] = toRecordResponse(record)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Summary はユーザーの最新の健康記録を返す。
// GET {prefix}/health-data/summary
func (h *HealthHandler) Summary(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	record, err := h.service.Latest(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, summaryResponse{Latest: toRecordResponse(record)})
}

// SyncZepp はZeppから最新サマリーを取り込む。
// POST {prefix}/health-data/sync-zepp
func (h *HealthHandler) SyncZepp(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	record, err := h.service.SyncZepp(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, syncResponse{
		Message: "Zeppからのデータ同期に成功しました。",
		Data:    toRecordResponse(record),
		Source:  string(model.RecordSourceZepp),
	})
}

// requireUserID はコンテキストからユーザーIDを取得する。
// 取得できない場合は401を書き込みfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

func toRecordResponse(record *model.HealthRecord) recordResponse {
	return recordResponse{
		ID:               record.ID,
		UserID:           record.UserID,
		CaloriesBurned:   record.CaloriesBurned,
		ExerciseMinutes:  record.ExerciseMinutes,
		StandHours:       record.StandHours,
		RestingHeartRate: record.RestingHeartRate,
		RespiratoryRate:  record.RespiratoryRate,
		SleepDuration:    record.SleepDuration,
		SleepQuality:     record.SleepQuality,
		SleepStages:      record.SleepStages,
		Source:           string(record.Source),
		RecordedDate:     record.RecordedDate,
	}
}
