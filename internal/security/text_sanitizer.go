package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は自由記述テキストからHTMLを除去する。
// 氏名など、プレーンテキストとして保存する値に使用する。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はbluemondayのStrictPolicyでTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はすべてのタグを除去し、前後の空白を取り除いたテキストを返す。
// StrictPolicyが出力するHTMLエスケープは元の文字に戻す。
func (s *TextSanitizer) Sanitize(text string) string {
	cleaned := s.policy.Sanitize(text)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}

// SanitizePtr はnilを保持したままSanitizeを適用する。
// 除去後に空になった場合はnilを返す。
func (s *TextSanitizer) SanitizePtr(text *string) *string {
	if text == nil {
		return nil
	}
	cleaned := s.Sanitize(*text)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}
