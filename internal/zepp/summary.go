package zepp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/healthsync/internal/model"
)

// Summary はband_dataの1日分サマリーから取り出した値。
type Summary struct {
	Calories float64
	Steps    int64
}

// ToRecordInput は健康記録の作成入力に変換する。
// サマリーから得られるのは消費カロリーのみで、運動時間と起立時間は0、その他は未設定となる。
func (s *Summary) ToRecordInput() model.HealthRecordInput {
	return model.HealthRecordInput{
		CaloriesBurned: s.Calories,
	}
}

type bandDataResponse struct {
	Data []struct {
		Summary json.RawMessage `json:"summary"`
	} `json:"data"`
}

type summaryPayload struct {
	Stp struct {
		Cal json.Number `json:"cal"`
		Ttl json.Number `json:"ttl"`
	} `json:"stp"`
}

// errNullSummary はsummaryがnullまたは欠落していることを表す。
var errNullSummary = errors.New("summary is null")

// parseBandData はband_data.jsonの応答から先頭要素のサマリーを取り出す。
// dataが空の場合とsummaryがnullの場合はKindNoDataを返す。
func parseBandData(body []byte) (*Summary, error) {
	var resp bandDataResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, newError(KindMalformedPayload, StepBandData, err)
	}
	if len(resp.Data) == 0 {
		return nil, newError(KindNoData, StepBandData, nil)
	}

	summary, err := parseSummary(resp.Data[0].Summary)
	if errors.Is(err, errNullSummary) {
		return nil, newError(KindNoData, StepBandData, err)
	}
	if err != nil {
		return nil, newError(KindMalformedPayload, StepBandData, err)
	}
	return summary, nil
}

// parseSummary はsummaryを解釈する。
// summaryはオブジェクト、またはオブジェクトを文字列化したJSON文字列のいずれか。
// nullの場合はerrNullSummaryを返す。
func parseSummary(raw json.RawMessage) (*Summary, error) {
	raw = bytes.TrimSpace(raw)
	if isNullJSON(raw) {
		return nil, errNullSummary
	}

	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("summary string: %w", err)
		}
		raw = bytes.TrimSpace(json.RawMessage(encoded))
		if isNullJSON(raw) {
			return nil, errNullSummary
		}
	}

	var payload summaryPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("summary object: %w", err)
	}

	summary := &Summary{}
	if payload.Stp.Cal != "" {
		cal, err := payload.Stp.Cal.Float64()
		if err != nil {
			return nil, fmt.Errorf("stp.cal: %w", err)
		}
		summary.Calories = cal
	}
	if payload.Stp.Ttl != "" {
		steps, err := payload.Stp.Ttl.Float64()
		if err != nil {
			return nil, fmt.Errorf("stp.ttl: %w", err)
		}
		summary.Steps = int64(steps)
	}
	return summary, nil
}

func isNullJSON(raw []byte) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// flexString は文字列と数値のどちらでも受け付けるJSON値。
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("expected string or number")
	}
	*f = flexString(n.String())
	return nil
}
