package models

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
)

// DefaultCodeStyle is the chroma style used for fenced code blocks when none is configured.
const DefaultCodeStyle = "monokai"

// Renderer converts assistant markdown into HTML, highlighting fenced code blocks that name a language.
// Raw HTML in the source is dropped, the model output is never trusted as markup.
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer creates a Renderer that highlights code with the given chroma style. An empty style falls
// back to DefaultCodeStyle.
func NewRenderer(codeStyle string) Renderer {
	if codeStyle == "" {
		codeStyle = DefaultCodeStyle
	}
	return Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(
					highlighting.WithStyle(codeStyle),
				),
			),
		),
	}
}

// Render renders markdown text into HTML. Partial markdown, as seen mid-stream, renders like any other
// input: an unterminated code fence simply runs to the end of the text.
func (r Renderer) Render(text string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}
