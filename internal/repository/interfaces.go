// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/healthsync/internal/model"
)

// ErrDuplicateEmail はメールアドレスの一意制約違反を表す。
// 事前チェックをすり抜けた同時サインアップでも返される。
var ErrDuplicateEmail = errors.New("email already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	// メールアドレスが重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error
}

// HealthRecordRepository は健康記録の永続化インターフェース。
// すべての読み取りはユーザーIDでスコープされる。
type HealthRecordRepository interface {
	// Create は健康記録を作成する。記録は作成後に変更されない。
	Create(ctx context.Context, record *model.HealthRecord) error

	// ListByUserID はユーザーの健康記録をrecorded_date降順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.HealthRecord, error)

	// FindLatestByUserID はrecorded_dateが最大の記録を返す。記録が無い場合はnilを返す。
	FindLatestByUserID(ctx context.Context, userID string) (*model.HealthRecord, error)
}
