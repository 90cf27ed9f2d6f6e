package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はCalendarイベントの説明文をサニタイズする。
// Googleカレンダーの説明文はユーザーが入力したHTMLを含むため、
// ページに埋め込む前に許可リストベースで無害化する。
type ContentSanitizerService interface {
	// Sanitize はHTMLをサニタイズして安全なHTMLを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawHTML string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, a, ul, ol, li, b, i, u, strong, em
//   - aのhref: https, mailtoのみ。target="_blank"とrel="noopener noreferrer"を付与
//   - 画像、script, iframe, styleおよびon*イベント属性は除去
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	// Calendarの説明文エディタが出力するタグ
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"b", "i", "u", "strong", "em",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("https", "mailto")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{
		policy: p,
	}
}

// Sanitize はHTMLをサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
