// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// 入力長の上限。メールアドレスと氏名はusersテーブルのカラム長（文字数）に合わせる。
// パスワードはbcryptが扱えるバイト数が上限。
const (
	MaxEmailLength    = 320
	MaxFullNameLength = 255
	MaxPasswordBytes  = 72
)

// User はサービス利用ユーザーを表す。
// サインアップ時に作成され、以降は更新・削除されない。
type User struct {
	ID             string
	Email          string
	HashedPassword string
	FullName       *string
	CreatedAt      time.Time
}

// NormalizeEmail はメールアドレスの前後空白を除去し小文字化する。
// 一意性判定は正規化後の値で行う。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
