package builder

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"
)

var windowCRregexp = regexp.MustCompile(`\r?\n`)

func replaceWindowsCarriageReturn(b []byte) []byte {
	return windowCRregexp.ReplaceAll(b, []byte("\n"))
}

// marshalJSON encodes v with <, > and & escaped as \u003c, \u003e and \u0026. The
// result is written verbatim into script blocks, so a string holding "</script>" must
// not close them.
func marshalJSON(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(true)
	err := enc.Encode(v)
	return bytes.TrimRight(buf.Bytes(), "\n"), err
}

// rootPrefix returns the relative path from an output document back to the output
// root: "" for "index.html", "../" for "blog/post.html".
func rootPrefix(output string) string {
	return strings.Repeat("../", strings.Count(output, "/"))
}

// within reports whether rel, slash separated and relative to the source directory,
// lies inside dir (also relative to the source directory).
func within(dir, rel string) bool {
	dir = filepath.ToSlash(filepath.Clean(dir))
	rel = filepath.ToSlash(filepath.Clean(rel))
	if dir == "." || dir == "" {
		return true
	}
	return rel == dir || strings.HasPrefix(rel, dir+"/")
}
