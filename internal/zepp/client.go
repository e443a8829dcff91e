// Package zepp はZepp（Huami）クラウドの非公開APIからその日のサマリーを取得するクライアントを提供する。
// ログインは3段階のトークン交換（アクセスコード→ログイントークン→アプリトークン）で行い、
// 結果はSessionとして呼び出し元が保持する。
package zepp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

const (
	// phonePrefix はアクセスコード取得時に電話番号へ付与する国番号。
	phonePrefix = "+86"
	// countryCode はログイントークン交換時の国コード。
	countryCode = "CN"

	clientID    = "HuaMi"
	redirectURI = "https://s3-us-west-2.amazonaws.com/hm-registration/successsignin.html"
	appName     = "com.xiaomi.hm.health"
	appVersion  = "4.6.0"
	osVersion   = "4.1.0"
	deviceID    = "2C8B4939-0CCD-4E94-8CBA-CB8EA6E613A1"
	lastDevice  = "DA932FFFFE8816E7"
	appTokenDN  = "api-user.huami.com,api-mifit.huami.com,app-analytics.huami.com"

	// browserUserAgent はログイン（手順1, 2）で使用するUser-Agent。
	browserUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 14_7_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.2"
	// appUserAgent はアプリトークン取得とデータ取得で使用するUser-Agent。
	appUserAgent = "Dalvik/2.1.0 (Linux; U; Android 9; MI 6 MIUI/20.6.18)"

	formContentType = "application/x-www-form-urlencoded;charset=UTF-8"

	// maxResponseBytes は読み取る応答ボディの上限。
	maxResponseBytes = 5 * 1024 * 1024
)

// accessCodePattern はリダイレクト先URLからアクセスコードを取り出す。
var accessCodePattern = regexp.MustCompile(`access=([^&#]+)`)

// Endpoints はZepp APIのエンドポイント。テストではhttptestサーバーに差し替える。
type Endpoints struct {
	// Registrations はアクセスコード取得のベースURL。/<電話番号>/tokens が付与される。
	Registrations string
	Login         string
	AppTokens     string
	Timestamp     string
	BandData      string
}

// DefaultEndpoints は本番のエンドポイントを返す。
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Registrations: "https://api-user.huami.com/registrations",
		Login:         "https://account.huami.com/v2/client/login",
		AppTokens:     "https://account-cn.huami.com/v1/client/app_tokens",
		Timestamp:     "http://api.m.taobao.com/rest/api3.do?api=mtop.common.getTimestamp",
		BandData:      "https://api-mifit-cn.huami.com/v1/data/band_data.json",
	}
}

// Options はClientの設定。ゼロ値の項目にはデフォルトが使われる。
type Options struct {
	Endpoints Endpoints
	Retry     RetryPolicy
}

// Session はログインで得たトークン一式。
// トークンの有効期限は扱わないため、失効した場合は再ログインする。
type Session struct {
	UserID     string
	LoginToken string
	AppToken   string
}

// Authenticated はデータ取得に必要なアプリトークンとユーザーIDを持つかを返す。
func (s *Session) Authenticated() bool {
	return s != nil && s.AppToken != "" && s.UserID != ""
}

// Client はZepp APIのクライアント。
// 状態を持たないため、複数のgoroutineから同時に使用できる。
type Client struct {
	httpClient       *http.Client
	noRedirectClient *http.Client
	logger           *slog.Logger
	endpoints        Endpoints
}

// NewClient はClientを生成する。
// httpClientのTransportはリトライ付きのTransportで包まれる。
// httpClient.Timeoutは全体ではなく1回の試行ごとのタイムアウトとして扱う。
func NewClient(httpClient *http.Client, logger *slog.Logger, opts Options) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Endpoints == (Endpoints{}) {
		opts.Endpoints = DefaultEndpoints()
	}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy()
	}

	retrying := *httpClient
	retrying.Timeout = 0
	retrying.Transport = newRetryTransport(httpClient.Transport, opts.Retry, httpClient.Timeout, logger)

	// アクセスコードは302のLocationヘッダで返るため、リダイレクトを追わない
	noRedirect := retrying
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{
		httpClient:       &retrying,
		noRedirectClient: &noRedirect,
		logger:           logger,
		endpoints:        opts.Endpoints,
	}
}

// Login は3段階のトークン交換を行いSessionを返す。
// アプリトークンの取得失敗はログに記録するのみで、AppTokenが空のSessionを返す。
func (c *Client) Login(ctx context.Context, phone, password string) (*Session, error) {
	code, err := c.requestAccessCode(ctx, phone, password)
	if err != nil {
		c.logFailure("Zeppのアクセスコード取得に失敗しました", err)
		return nil, err
	}

	session, err := c.exchangeLoginToken(ctx, code)
	if err != nil {
		c.logFailure("Zeppのログイントークン取得に失敗しました", err)
		return nil, err
	}

	appToken, err := c.requestAppToken(ctx, session.LoginToken)
	if err != nil {
		c.logFailure("Zeppのアプリトークン取得に失敗しました", err)
		return session, nil
	}
	session.AppToken = appToken

	return session, nil
}

// FetchLatest はセッションのユーザーの最新サマリーを取得する。
func (c *Client) FetchLatest(ctx context.Context, session *Session) (*Summary, error) {
	if !session.Authenticated() {
		return nil, newError(KindNotAuthenticated, StepBandData, nil)
	}

	timestamp, err := c.fetchTimestamp(ctx)
	if err != nil {
		c.logFailure("サーバー時刻の取得に失敗しました", err)
		return nil, err
	}

	summary, err := c.fetchBandData(ctx, session, timestamp)
	if err != nil {
		if !isKind(err, KindNoData) {
			c.logFailure("Zeppのデータ取得に失敗しました", err)
		} else {
			c.logger.Warn("Zeppの応答にデータがありません")
		}
		return nil, err
	}
	return summary, nil
}

// requestAccessCode は手順1: 認証情報を送信し、リダイレクト先からアクセスコードを取り出す。
func (c *Client) requestAccessCode(ctx context.Context, phone, password string) (string, error) {
	endpoint := strings.TrimSuffix(c.endpoints.Registrations, "/") +
		"/" + url.PathEscape(phonePrefix+phone) + "/tokens"

	form := url.Values{
		"client_id":    {clientID},
		"password":     {password},
		"redirect_uri": {redirectURI},
		"token":        {"access"},
	}
	req, err := newFormRequest(ctx, endpoint, form.Encode(), browserUserAgent)
	if err != nil {
		return "", newError(KindNetwork, StepAccessCode, err)
	}

	resp, err := c.send(c.noRedirectClient, req, StepAccessCode)
	if err != nil {
		return "", err
	}
	if resp.status != http.StatusFound {
		return "", newError(KindNoRedirect, StepAccessCode, fmt.Errorf("HTTP %d", resp.status))
	}

	m := accessCodePattern.FindStringSubmatch(resp.header.Get("Location"))
	if m == nil {
		return "", newError(KindNoAccessCode, StepAccessCode, nil)
	}
	return m[1], nil
}

type loginResponse struct {
	TokenInfo *struct {
		LoginToken string     `json:"login_token"`
		UserID     flexString `json:"user_id"`
	} `json:"token_info"`
}

// exchangeLoginToken は手順2: アクセスコードをログイントークンとユーザーIDに交換する。
func (c *Client) exchangeLoginToken(ctx context.Context, code string) (*Session, error) {
	form := url.Values{
		"app_name":     {appName},
		"app_version":  {appVersion},
		"code":         {code},
		"country_code": {countryCode},
		"device_id":    {deviceID},
		"device_model": {"phone"},
		"grant_type":   {"access_token"},
		"third_name":   {"huami_phone"},
	}
	req, err := newFormRequest(ctx, c.endpoints.Login, form.Encode(), browserUserAgent)
	if err != nil {
		return nil, newError(KindNetwork, StepLoginToken, err)
	}

	resp, err := c.send(c.httpClient, req, StepLoginToken)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, statusError(StepLoginToken, resp.status)
	}

	var payload loginResponse
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return nil, newError(KindMalformedPayload, StepLoginToken, err)
	}
	if payload.TokenInfo == nil || payload.TokenInfo.LoginToken == "" || payload.TokenInfo.UserID == "" {
		return nil, newError(KindNoToken, StepLoginToken, nil)
	}

	return &Session{
		UserID:     string(payload.TokenInfo.UserID),
		LoginToken: payload.TokenInfo.LoginToken,
	}, nil
}

type appTokenResponse struct {
	TokenInfo *struct {
		AppToken string `json:"app_token"`
	} `json:"token_info"`
}

// requestAppToken は手順3: ログイントークンをアプリトークンに交換する。
func (c *Client) requestAppToken(ctx context.Context, loginToken string) (string, error) {
	query := url.Values{
		"app_name":    {appName},
		"dn":          {appTokenDN},
		"login_token": {loginToken},
		"os_version":  {osVersion},
	}
	endpoint, err := withQuery(c.endpoints.AppTokens, query)
	if err != nil {
		return "", newError(KindNetwork, StepAppToken, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", newError(KindNetwork, StepAppToken, err)
	}
	req.Header.Set("User-Agent", appUserAgent)

	resp, err := c.send(c.httpClient, req, StepAppToken)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", statusError(StepAppToken, resp.status)
	}

	var payload appTokenResponse
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return "", newError(KindMalformedPayload, StepAppToken, err)
	}
	if payload.TokenInfo == nil || payload.TokenInfo.AppToken == "" {
		return "", newError(KindNoToken, StepAppToken, nil)
	}
	return payload.TokenInfo.AppToken, nil
}

type timestampResponse struct {
	Data struct {
		T flexString `json:"t"`
	} `json:"data"`
}

// fetchTimestamp はデータ取得リクエストに付与するサーバー時刻を取得する。
func (c *Client) fetchTimestamp(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.Timestamp, nil)
	if err != nil {
		return "", newError(KindNetwork, StepTimestamp, err)
	}
	req.Header.Set("User-Agent", appUserAgent)

	resp, err := c.send(c.httpClient, req, StepTimestamp)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", statusError(StepTimestamp, resp.status)
	}

	var payload timestampResponse
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return "", newError(KindMalformedPayload, StepTimestamp, err)
	}
	if payload.Data.T == "" {
		return "", newError(KindMalformedPayload, StepTimestamp, fmt.Errorf("data.t is missing"))
	}
	return string(payload.Data.T), nil
}

// fetchBandData は当日分のサマリーを1件要求する。
func (c *Client) fetchBandData(ctx context.Context, session *Session, timestamp string) (*Summary, error) {
	endpoint, err := withQuery(c.endpoints.BandData, url.Values{"t": {timestamp}})
	if err != nil {
		return nil, newError(KindNetwork, StepBandData, err)
	}

	body := "userid=" + url.QueryEscape(session.UserID) +
		"&last_sync_data_time=0&device_type=0&last_deviceid=" + lastDevice + "&data_len=1"
	req, err := newFormRequest(ctx, endpoint, body, appUserAgent)
	if err != nil {
		return nil, newError(KindNetwork, StepBandData, err)
	}
	req.Header.Set("apptoken", session.AppToken)

	resp, err := c.send(c.httpClient, req, StepBandData)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, statusError(StepBandData, resp.status)
	}

	return parseBandData(resp.body)
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// send はリクエストを送信して応答ボディを読み切る。通信エラーはKindNetworkとなる。
func (c *Client) send(client *http.Client, req *http.Request, step Step) (*response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, newError(KindNetwork, step, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, newError(KindNetwork, step, fmt.Errorf("failed to read response body: %w", err))
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

func (c *Client) logFailure(msg string, err error) {
	attrs := []any{slog.String("error", err.Error())}
	var zerr *Error
	if errors.As(err, &zerr) {
		attrs = append(attrs,
			slog.String("kind", string(zerr.Kind)),
			slog.String("step", string(zerr.Step)),
		)
	}
	c.logger.Error(msg, attrs...)
}

func newFormRequest(ctx context.Context, endpoint, body, userAgent string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", formContentType)
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

// withQuery はエンドポイントの既存クエリを保ったままパラメータを追加する。
func withQuery(endpoint string, params url.Values) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// isKind はerrが指定種別のErrorかを判定する。
func isKind(err error, kind Kind) bool {
	var zerr *Error
	return errors.As(err, &zerr) && zerr.Kind == kind
}
