package zepp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// defaultMaxAttempts は初回を含む最大試行回数。
	defaultMaxAttempts = 3
	// defaultInitialBackoff は初回リトライまでの待機時間。以降2倍ずつ増加する。
	defaultInitialBackoff = 500 * time.Millisecond
)

// CallsPerSync は1回の同期で行うAPI呼び出し数。
// アクセスコード、ログイントークン、アプリトークン、サーバー時刻、band_dataの5回。
const CallsPerSync = 5

var errNotRewindable = errors.New("request body cannot be rewound")

// RetryPolicy はリトライの設定。
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
}

// DefaultRetryPolicy はデフォルトのリトライ設定を返す。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    defaultMaxAttempts,
		InitialBackoff: defaultInitialBackoff,
	}
}

// Backoff はattempt回目の失敗後に待機する時間を返す。attemptは1始まり。
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// WorstCaseDuration は1回のAPI呼び出しがリトライと待機込みで要し得る最大時間を返す。
// attemptTimeoutは1回の試行のタイムアウト。
func (p RetryPolicy) WorstCaseDuration(attemptTimeout time.Duration) time.Duration {
	attempts := max(p.MaxAttempts, 1)
	d := time.Duration(attempts) * attemptTimeout
	for a := 1; a < attempts; a++ {
		d += p.Backoff(a)
	}
	return d
}

// IsRetryableStatus はリトライ対象のHTTPステータスかを判定する。
func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// retryTransport は429/5xxと通信エラーをリトライするRoundTripper。
// GETとPOSTのみが対象で、リクエストボディはGetBodyで巻き戻す。
// attemptTimeoutは1回の試行（応答ボディの読み取りまで）ごとに適用され、
// 待機時間と他の試行には含まれない。
type retryTransport struct {
	base           http.RoundTripper
	policy         RetryPolicy
	attemptTimeout time.Duration
	logger         *slog.Logger
}

func newRetryTransport(base http.RoundTripper, policy RetryPolicy, attemptTimeout time.Duration, logger *slog.Logger) *retryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &retryTransport{base: base, policy: policy, attemptTimeout: attemptTimeout, logger: logger}
}

// RoundTrip はリクエストを送信し、必要に応じてリトライする。
func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		return t.roundTripOnce(req)
	}

	ctx := req.Context()
	current := req
	for attempt := 1; ; attempt++ {
		resp, err := t.roundTripOnce(current)

		if attempt >= t.policy.MaxAttempts || ctx.Err() != nil || !shouldRetry(resp, err) {
			return resp, err
		}

		next, rewindErr := rewind(req)
		if rewindErr != nil {
			return resp, err
		}

		if resp != nil {
			// コネクション再利用のためボディを読み捨てる
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
			resp.Body.Close()
		}

		delay := t.policy.Backoff(attempt)
		t.logger.Warn("Zepp APIへのリクエストをリトライします",
			slog.String("method", req.Method),
			slog.String("host", req.URL.Host),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("reason", retryReason(resp, err)),
		)

		if err := sleepContext(ctx, delay); err != nil {
			return nil, err
		}
		current = next
	}
}

// roundTripOnce は1回分の試行を送信する。
// 試行のタイムアウトは応答ボディがCloseされるまで有効。
func (t *retryTransport) roundTripOnce(req *http.Request) (*http.Response, error) {
	if t.attemptTimeout <= 0 {
		return t.base.RoundTrip(req)
	}

	ctx, cancel := context.WithTimeout(req.Context(), t.attemptTimeout)
	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose はボディのClose時に試行のコンテキストを解放する。
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return IsRetryableStatus(resp.StatusCode)
}

func retryReason(resp *http.Response, err error) string {
	if err != nil {
		return err.Error()
	}
	return resp.Status
}

// rewind はボディを巻き戻したリクエストの複製を返す。
func rewind(req *http.Request) (*http.Request, error) {
	next := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return next, nil
	}
	if req.GetBody == nil {
		return nil, errNotRewindable
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	next.Body = body
	return next, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
