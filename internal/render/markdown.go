package render

import (
	"bytes"
	"html"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Raw HTML in the source is omitted by goldmark's default (safe) renderer.
var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Markdown converts answer text to an HTML fragment. If conversion fails the
// escaped source is returned so the answer is still readable.
func Markdown(src string) string {
	if src == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "<p>" + html.EscapeString(src) + "</p>"
	}
	return buf.String()
}
