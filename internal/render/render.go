// Package render turns user-provided text into what the API hands back:
// note descriptions become sanitized HTML and names are normalized plain text.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

type Renderer struct {
	md   goldmark.Markdown
	html *bluemonday.Policy
}

func NewRenderer() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	policy := bluemonday.UGCPolicy()
	policy.AddTargetBlankToFullyQualifiedLinks(true)

	return &Renderer{
		md:   md,
		html: policy,
	}
}

// Markdown renders src and strips anything the UGC policy does not allow.
// Raw HTML in src is dropped by goldmark before sanitizing.
func (r *Renderer) Markdown(src string) (string, error) {
	if strings.TrimSpace(src) == "" {
		return "", nil
	}

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return string(r.html.SanitizeBytes(buf.Bytes())), nil
}

// Name drops control characters from a display name and trims it. Anything
// else, markup included, is kept verbatim: names only leave the API JSON
// encoded. The result may be empty; callers decide whether that is valid.
func (r *Renderer) Name(name string) string {
	clean := strings.Map(func(c rune) rune {
		if unicode.IsControl(c) {
			return -1
		}
		return c
	}, name)
	return strings.TrimSpace(clean)
}
