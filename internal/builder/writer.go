package builder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/toastate/toastpage/internal/tlogger"
)

// Writer persists generated files under the build directory. Files are written to a
// temporary sibling and renamed so the dev server never serves a partial document.
type Writer struct {
	root string
}

func NewWriter(root string) *Writer {
	return &Writer{root: root}
}

// Path resolves rel, slash separated, inside the build directory.
func (w *Writer) Path(rel string) (string, error) {
	p := filepath.Join(w.root, filepath.FromSlash(rel))
	if p != w.root && !strings.HasPrefix(p, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("output path %s escapes build directory", rel)
	}
	return p, nil
}

func (w *Writer) Write(rel string, data []byte) error {
	p, err := w.Path(rel)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return err
	}

	tlogger.Debug("builder", "writer", "msg", "file written", "file", rel, "bytes", len(data))
	return nil
}

// Remove deletes rel, a missing file is not an error.
func (w *Writer) Remove(rel string) error {
	p, err := w.Path(rel)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	tlogger.Debug("builder", "writer", "msg", "file removed", "file", rel)
	return nil
}

// Clean erases and recreates the build directory.
func (w *Writer) Clean() error {
	err := os.RemoveAll(w.root)
	for i := 0; err != nil && i < 2; i++ {
		<-time.After(time.Millisecond * 20)
		err = os.RemoveAll(w.root)
	}
	if err != nil {
		tlogger.Error("msg", "Failed to remove build folder", "path", w.root, "err", err)
		return err
	}

	err = os.MkdirAll(w.root, 0755)
	if err != nil {
		tlogger.Error("msg", "Failed to create build folder", "path", w.root, "err", err)
		return err
	}
	return nil
}
