// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, conflict, integration, record, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
	ErrCodeInvalidSignup          = "INVALID_SIGNUP"
	ErrCodeInvalidHealthRecord    = "INVALID_HEALTH_RECORD"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeInvalidToken           = "INVALID_TOKEN"
	ErrCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	ErrCodeEmailAlreadyRegistered = "EMAIL_ALREADY_REGISTERED"
	ErrCodeSyncNotConfigured      = "SYNC_NOT_CONFIGURED"
	ErrCodeVendorAuthFailed       = "VENDOR_AUTH_FAILED"
	ErrCodeVendorFetchFailed      = "VENDOR_FETCH_FAILED"
	ErrCodeVendorNoData           = "VENDOR_NO_DATA"
	ErrCodeRecordNotFound         = "RECORD_NOT_FOUND"
	ErrCodeInternal               = "INTERNAL_ERROR"
	ErrCodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
)

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInvalidSignupError はサインアップ入力の不備エラーを生成する。
func NewInvalidSignupError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSignup,
		Message:  fmt.Sprintf("登録内容が不正です: %s", reason),
		Category: "validation",
		Action:   "メールアドレスとパスワードを入力してください。",
	}
}

// NewInvalidHealthRecordError は健康記録の値が範囲外の場合のエラーを生成する。
func NewInvalidHealthRecordError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidHealthRecord,
		Message:  fmt.Sprintf("%s が不正です: %s", field, reason),
		Category: "validation",
		Action:   "各項目を許容範囲内の値で入力してください。",
	}
}

// NewUnauthorizedError は認証情報が無い場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidTokenError はトークン検証失敗エラーを生成する。
// 署名不一致・期限切れ・ユーザー不在を区別しない。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "認証情報を検証できませんでした。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワード不一致のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewEmailAlreadyRegisteredError は登録済みメールアドレスでのサインアップエラーを生成する。
func NewEmailAlreadyRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyRegistered,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "conflict",
		Action:   "ログインするか、別のメールアドレスを使用してください。",
	}
}

// NewSyncNotConfiguredError は外部連携の認証情報が未設定の場合のエラーを生成する。
func NewSyncNotConfiguredError() *APIError {
	return &APIError{
		Code:     ErrCodeSyncNotConfigured,
		Message:  "Zepp連携の認証情報が設定されていません。",
		Category: "integration",
		Action:   "ZEPP_PHONE と ZEPP_PASSWORD 環境変数を設定してください。",
	}
}

// NewVendorAuthFailedError は外部サービスへのログイン失敗エラーを生成する。
func NewVendorAuthFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeVendorAuthFailed,
		Message:  fmt.Sprintf("Zeppへの認証に失敗しました: %s", reason),
		Category: "integration",
		Action:   "Zeppアカウントの認証情報を確認してください。",
	}
}

// NewVendorFetchFailedError は外部サービスからのデータ取得失敗エラーを生成する。
func NewVendorFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeVendorFetchFailed,
		Message:  fmt.Sprintf("Zeppからのデータ取得に失敗しました: %s", reason),
		Category: "integration",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewVendorNoDataError は外部サービスにデータが存在しない場合のエラーを生成する。
func NewVendorNoDataError() *APIError {
	return &APIError{
		Code:     ErrCodeVendorNoData,
		Message:  "Zeppに健康データが見つかりませんでした。",
		Category: "integration",
		Action:   "デバイスを同期してから再度お試しください。",
	}
}

// NewRecordNotFoundError は集計対象の記録が存在しない場合のエラーを生成する。
func NewRecordNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeRecordNotFound,
		Message:  "健康記録がまだありません。",
		Category: "record",
		Action:   "記録を登録するか、Zeppから同期してください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
	}
}
