package zepp

import "fmt"

// Kind はZepp連携の失敗種別。
type Kind string

const (
	// KindNetwork は通信エラー（接続失敗、タイムアウト、キャンセル）。
	KindNetwork Kind = "network"
	// KindNoRedirect はアクセスコード取得でリダイレクト(302)が返らなかったことを表す。
	KindNoRedirect Kind = "no_redirect"
	// KindNoAccessCode はリダイレクト先にaccess=が含まれなかったことを表す。
	KindNoAccessCode Kind = "no_access_code"
	// KindNoToken はログイン応答にトークン情報が含まれなかったことを表す。
	KindNoToken Kind = "no_token"
	// KindUnexpectedStatus は想定外のHTTPステータスを表す。
	KindUnexpectedStatus Kind = "unexpected_status"
	// KindMalformedPayload は応答ボディを解釈できなかったことを表す。
	KindMalformedPayload Kind = "malformed_payload"
	// KindNotAuthenticated はアプリトークンまたはユーザーIDを持たないセッションで取得しようとしたことを表す。
	KindNotAuthenticated Kind = "not_authenticated"
	// KindNoData はデータ一覧が空だったことを表す。
	KindNoData Kind = "no_data"
)

// Step は失敗が発生した通信段階。
type Step string

const (
	StepAccessCode Step = "access_code"
	StepLoginToken Step = "login_token"
	StepAppToken   Step = "app_token"
	StepTimestamp  Step = "timestamp"
	StepBandData   Step = "band_data"
)

// Error はZepp連携の失敗を表す。
// errors.Isでは種別のみを比較するため、ErrNoData等の番兵値と照合できる。
type Error struct {
	Kind Kind
	Step Step
	Err  error
}

// 種別ごとの番兵値。errors.Is(err, zepp.ErrNoData) のように使う。
var (
	ErrNetwork          = &Error{Kind: KindNetwork}
	ErrNoRedirect       = &Error{Kind: KindNoRedirect}
	ErrNoAccessCode     = &Error{Kind: KindNoAccessCode}
	ErrNoToken          = &Error{Kind: KindNoToken}
	ErrUnexpectedStatus = &Error{Kind: KindUnexpectedStatus}
	ErrMalformedPayload = &Error{Kind: KindMalformedPayload}
	ErrNotAuthenticated = &Error{Kind: KindNotAuthenticated}
	ErrNoData           = &Error{Kind: KindNoData}
)

func (e *Error) Error() string {
	msg := "zepp"
	if e.Step != "" {
		msg += " " + string(e.Step)
	}
	msg += ": " + string(e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is は種別が一致する場合にtrueを返す。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, step Step, err error) *Error {
	return &Error{Kind: kind, Step: step, Err: err}
}

func statusError(step Step, status int) *Error {
	return newError(KindUnexpectedStatus, step, fmt.Errorf("HTTP %d", status))
}
