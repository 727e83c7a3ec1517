// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizer はユーザーが入力した表示名からHTMLを取り除き、
// プロフィールに保存できるプレーンテキストへ正規化する。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNameLength は表示名の最大文字数（rune単位）。
const MaxNameLength = 120

// NameSanitizer は表示名のサニタイズ機能のインターフェースを定義する。
type NameSanitizer interface {
	// Sanitize は表示名からタグを除去し、空白を正規化して返す。
	// 結果が空になった場合はfallbackを返す。
	Sanitize(raw, fallback string) string
}

// nameSanitizer はNameSanitizerの実装。
// bluemondayのStrictPolicyは全てのタグを除去する。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerの新しいインスタンスを生成する。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は表示名からタグを除去し、空白を正規化して返す。
func (s *nameSanitizer) Sanitize(raw, fallback string) string {
	// StrictPolicyはテキストをエスケープして返すため、保存用にプレーンテキストへ戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")

	if utf8.RuneCountInString(text) > MaxNameLength {
		text = strings.TrimSpace(string([]rune(text)[:MaxNameLength]))
	}
	if text == "" {
		return fallback
	}
	return text
}
