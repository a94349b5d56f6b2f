// ABOUTME: Markdown rendering for Telegram's restricted HTML dialect
// ABOUTME: Renders with goldmark then rewrites tags Telegram does not accept

package channel

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
)

// Telegram accepts only a small tag set (b, i, s, u, code, pre, a, blockquote)
// and rejects messages containing anything else. Block structure has to be
// flattened to newlines.
var (
	headingOpenRe  = regexp.MustCompile(`<h[1-6][^>]*>`)
	headingCloseRe = regexp.MustCompile(`</h[1-6]>`)
	listItemRe     = regexp.MustCompile(`<li[^>]*>`)
	// The tag name must end before attributes or the closing bracket, so
	// "p" cannot swallow "<pre>"
	dropTagRe   = regexp.MustCompile(`</?(?:p|ul|ol|hr|br|table|thead|tbody|tr|th|td|img|div|span)(?:\s[^>]*)?/?>`)
	codeClassRe = regexp.MustCompile(`<code class="[^"]*">`)
)

var tagRewrites = strings.NewReplacer(
	"<strong>", "<b>", "</strong>", "</b>",
	"<em>", "<i>", "</em>", "</i>",
	"<del>", "<s>", "</del>", "</s>",
)

// renderTelegramHTML converts markdown to HTML that Telegram will accept.
// The output keeps inline formatting and code blocks; everything structural
// collapses to plain lines.
func renderTelegramHTML(markdown string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return markdown
	}
	html := buf.String()

	html = tagRewrites.Replace(html)
	html = headingOpenRe.ReplaceAllString(html, "<b>")
	html = headingCloseRe.ReplaceAllString(html, "</b>\n")
	// goldmark already breaks lines after each </li>
	html = listItemRe.ReplaceAllString(html, "• ")
	html = strings.ReplaceAll(html, "</li>", "")
	html = strings.ReplaceAll(html, "</p>", "\n")
	html = dropTagRe.ReplaceAllString(html, "")

	// goldmark writes <pre><code class="language-go">; Telegram wants the
	// class attribute gone but keeps the pre/code nesting
	html = codeClassRe.ReplaceAllString(html, "<code>")

	return strings.TrimSpace(collapseBlankLines(html))
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
