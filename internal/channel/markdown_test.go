package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTelegramHTML(t *testing.T) {
	tests := []struct {
		name     string
		markdown string
		want     string
	}{
		{
			name:     "inline emphasis",
			markdown: "this is **important** and *subtle*",
			want:     "this is <b>important</b> and <i>subtle</i>",
		},
		{
			name:     "heading becomes bold",
			markdown: "# Status\n\nall green",
			want:     "<b>Status</b>\n\nall green",
		},
		{
			name:     "list becomes bullets",
			markdown: "- first\n- second",
			want:     "• first\n• second",
		},
		{
			name:     "fenced code keeps pre and code",
			markdown: "```\nmake build\n```",
			want:     "<pre><code>make build\n</code></pre>",
		},
		{
			name:     "language class stripped",
			markdown: "```go\nx := 1\n```",
			want:     "<pre><code>x := 1\n</code></pre>",
		},
		{
			name:     "raw angle brackets escaped",
			markdown: "a < b",
			want:     "a &lt; b",
		},
		{
			name:     "link preserved",
			markdown: "[run](https://example.com/run/1)",
			want:     `<a href="https://example.com/run/1">run</a>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderTelegramHTML(tt.markdown))
		})
	}
}
