// Package validation はフォーム入力の検証ルールを提供する。
// すべて純粋関数であり、状態もI/Oも持たない。
package validation

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxSanitizedLength はSanitizeInputが返す文字列の最大長（rune数）。
const maxSanitizedLength = 1000

// forbiddenChars は入力から除去・拒否する文字の集合。
const forbiddenChars = "<>'\"`;%{}"

var (
	forbiddenCharsPattern = regexp.MustCompile("[<>'\"`;%{}]")
	sixDigitsPattern      = regexp.MustCompile(`^[0-9]{6}$`)
	nicknamePattern       = regexp.MustCompile(`^[a-zA-Z0-9_-]*$`)
	lowerPattern          = regexp.MustCompile(`[a-z]`)
	upperPattern          = regexp.MustCompile(`[A-Z]`)
	digitPattern          = regexp.MustCompile(`[0-9]`)
	specialPattern        = regexp.MustCompile(`[^a-zA-Z0-9]`)

	strictPolicy = bluemonday.StrictPolicy()
)

// Result は検証結果を表す。Validがfalseの場合のみErrorが設定される。
type Result struct {
	Valid bool
	Error string
}

func valid() Result {
	return Result{Valid: true}
}

func invalid(message string) Result {
	return Result{Valid: false, Error: message}
}

// SanitizeInput は前後の空白を除去し、危険な文字を取り除き、
// 1000文字に切り詰める。パスワードには使用しない。
func SanitizeInput(input string) string {
	s := strings.TrimSpace(input)
	s = forbiddenCharsPattern.ReplaceAllString(s, "")
	if utf8.RuneCountInString(s) > maxSanitizedLength {
		s = string([]rune(s)[:maxSanitizedLength])
	}
	return s
}

// maxStripPasses はエンティティの多重エンコードを剥がす回数の上限。
const maxStripPasses = 4

// StripMarkup は表示用テキストからHTMLタグを取り除く。
// タグ以外のテキストはエスケープせずに返す。&lt;b&gt; のようにエンティティで
// 表現されたタグもデコード後に再度取り除く。
func StripMarkup(text string) string {
	s := text
	for i := 0; i < maxStripPasses; i++ {
		next := html.UnescapeString(strictPolicy.Sanitize(s))
		if next == s {
			break
		}
		s = next
	}
	return strings.TrimSpace(s)
}

// ContainsForbiddenChars は禁止文字が含まれるかを返す。
func ContainsForbiddenChars(s string) bool {
	return strings.ContainsAny(s, forbiddenChars)
}
