package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/healthsync/internal/model"
)

// healthRecordColumns はSELECT対象カラム。scanHealthRecordの順序と一致させること。
const healthRecordColumns = `id, user_id, calories_burned, exercise_minutes, stand_hours,
	resting_heart_rate, respiratory_rate, sleep_duration, sleep_quality, sleep_stages,
	source, recorded_date`

// PostgresHealthRecordRepo はPostgreSQLを使用した健康記録リポジトリ。
type PostgresHealthRecordRepo struct {
	db *sql.DB
}

// NewPostgresHealthRecordRepo はPostgresHealthRecordRepoを生成する。
func NewPostgresHealthRecordRepo(db *sql.DB) *PostgresHealthRecordRepo {
	return &PostgresHealthRecordRepo{db: db}
}

// Create は健康記録を作成する。
func (r *PostgresHealthRecordRepo) Create(ctx context.Context, record *model.HealthRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO health_records (
			id, user_id, calories_burned, exercise_minutes, stand_hours,
			resting_heart_rate, respiratory_rate, sleep_duration, sleep_quality, sleep_stages,
			source, recorded_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		record.ID, record.UserID, record.CaloriesBurned, record.ExerciseMinutes, record.StandHours,
		record.RestingHeartRate, record.RespiratoryRate, record.SleepDuration, record.SleepQuality, record.SleepStages,
		string(record.Source), record.RecordedDate,
	)
	if err != nil {
		return fmt.Errorf("failed to insert health record: %w", err)
	}
	return nil
}

// ListByUserID はユーザーの健康記録をrecorded_date降順で返す。
// recorded_dateが同じ記録は後に挿入されたものが先になる。
func (r *PostgresHealthRecordRepo) ListByUserID(ctx context.Context, userID string) ([]*model.HealthRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+healthRecordColumns+`
		 FROM health_records
		 WHERE user_id = $1
		 ORDER BY recorded_date DESC, seq DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list health records: %w", err)
	}
	defer rows.Close()

	records := make([]*model.HealthRecord, 0)
	for rows.Next() {
		record, err := scanHealthRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate health records: %w", err)
	}

	return records, nil
}

// FindLatestByUserID はrecorded_dateが最大の記録を返す。記録が無い場合はnilを返す。
// recorded_dateが同じ場合は最後に挿入された記録を返す。
func (r *PostgresHealthRecordRepo) FindLatestByUserID(ctx context.Context, userID string) (*model.HealthRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+healthRecordColumns+`
		 FROM health_records
		 WHERE user_id = $1
		 ORDER BY recorded_date DESC, seq DESC
		 LIMIT 1`,
		userID,
	)

	record, err := scanHealthRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanHealthRecord は1行を健康記録に変換する。
// sql.ErrNoRowsはラップせずに返す。
func scanHealthRecord(row rowScanner) (*model.HealthRecord, error) {
	var (
		record           model.HealthRecord
		restingHeartRate sql.NullInt64
		respiratoryRate  sql.NullFloat64
		sleepDuration    sql.NullFloat64
		sleepQuality     sql.NullInt64
		sleepStages      sql.NullString
		source           string
	)

	err := row.Scan(
		&record.ID, &record.UserID, &record.CaloriesBurned, &record.ExerciseMinutes, &record.StandHours,
		&restingHeartRate, &respiratoryRate, &sleepDuration, &sleepQuality, &sleepStages,
		&source, &record.RecordedDate,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan health record: %w", err)
	}

	if restingHeartRate.Valid {
		v := int(restingHeartRate.Int64)
		record.RestingHeartRate = &v
	}
	if respiratoryRate.Valid {
		record.RespiratoryRate = &respiratoryRate.Float64
	}
	if sleepDuration.Valid {
		record.SleepDuration = &sleepDuration.Float64
	}
	if sleepQuality.Valid {
		v := int(sleepQuality.Int64)
		record.SleepQuality = &v
	}
	if sleepStages.Valid {
		record.SleepStages = &sleepStages.String
	}
	record.Source = model.RecordSource(source)

	return &record, nil
}

// compile-time interface check
var _ HealthRecordRepository = (*PostgresHealthRecordRepo)(nil)
