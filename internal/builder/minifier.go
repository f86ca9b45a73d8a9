package builder

import (
	"regexp"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/svg"
)

const (
	mediaHTML = "text/html"
	mediaSVG  = "image/svg+xml"
)

// Minifier shrinks production HTML pages (with their inline styles and scripts) and
// SVG images.
type Minifier struct {
	m *minify.M
}

func NewMinifier() *Minifier {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.Add(mediaHTML, &html.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
	})
	m.AddFunc(mediaSVG, svg.Minify)
	m.AddFuncRegexp(regexp.MustCompile("^(application|text)/(x-)?(java|ecma)script$"), js.Minify)
	return &Minifier{m: m}
}

func (m *Minifier) Bytes(mediatype string, b []byte) ([]byte, error) {
	return m.m.Bytes(mediatype, b)
}
