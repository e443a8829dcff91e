package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// RecordSource は健康記録の登録経路を表す。
type RecordSource string

const (
	// RecordSourceManual はAPI経由で手動登録された記録。
	RecordSourceManual RecordSource = "manual"
	// RecordSourceZepp はZepp同期で取り込まれた記録。
	RecordSourceZepp RecordSource = "zepp"
)

// 値の許容範囲
const (
	MaxStandHours       = 24
	MaxRestingHeartRate = 300
	MinSleepQuality     = 1
	MaxSleepQuality     = 5
)

// HealthRecord はあるユーザーのある時点の健康指標スナップショット。
// 作成後は変更されない。
type HealthRecord struct {
	ID               string
	UserID           string
	CaloriesBurned   float64
	ExerciseMinutes  int
	StandHours       int
	RestingHeartRate *int
	RespiratoryRate  *float64
	SleepDuration    *float64
	SleepQuality     *int
	SleepStages      *string
	Source           RecordSource
	RecordedDate     time.Time
}

// HealthRecordInput は健康記録の作成入力。
// 手動登録と同期取り込みの両方で使用する。
type HealthRecordInput struct {
	CaloriesBurned   float64
	ExerciseMinutes  int
	StandHours       int
	RestingHeartRate *int
	RespiratoryRate  *float64
	SleepDuration    *float64
	SleepQuality     *int
	SleepStages      *string
}

// Validate は各項目が許容範囲内かを検証する。
// 境界値は許容する。最初に見つかった違反を返す。
func (in HealthRecordInput) Validate() error {
	if err := nonNegativeFloat("calories_burned", in.CaloriesBurned); err != nil {
		return err
	}
	if in.ExerciseMinutes < 0 {
		return NewInvalidHealthRecordError("exercise_minutes", "0以上である必要があります")
	}
	if in.StandHours < 0 || in.StandHours > MaxStandHours {
		return NewInvalidHealthRecordError("stand_hours", fmt.Sprintf("0から%dの範囲である必要があります", MaxStandHours))
	}
	if in.RestingHeartRate != nil {
		if v := *in.RestingHeartRate; v < 0 || v > MaxRestingHeartRate {
			return NewInvalidHealthRecordError("resting_heart_rate", fmt.Sprintf("0から%dの範囲である必要があります", MaxRestingHeartRate))
		}
	}
	if in.RespiratoryRate != nil {
		if err := nonNegativeFloat("respiratory_rate", *in.RespiratoryRate); err != nil {
			return err
		}
	}
	if in.SleepDuration != nil {
		if err := nonNegativeFloat("sleep_duration", *in.SleepDuration); err != nil {
			return err
		}
	}
	if in.SleepStages != nil && strings.ContainsRune(*in.SleepStages, 0) {
		return NewInvalidHealthRecordError("sleep_stages", "NUL文字は使用できません")
	}
	if in.SleepQuality != nil {
		if v := *in.SleepQuality; v < MinSleepQuality || v > MaxSleepQuality {
			return NewInvalidHealthRecordError("sleep_quality", fmt.Sprintf("%dから%dの範囲である必要があります", MinSleepQuality, MaxSleepQuality))
		}
	}
	return nil
}

func nonNegativeFloat(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NewInvalidHealthRecordError(field, "有限の数値である必要があります")
	}
	if v < 0 {
		return NewInvalidHealthRecordError(field, "0以上である必要があります")
	}
	return nil
}
