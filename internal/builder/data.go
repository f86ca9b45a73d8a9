package builder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/toastate/toastpage/internal/tlogger"
)

// templateData is shared by every page of a build cycle.
type templateData struct {
	Data map[string]any
	Env  map[string]string
}

// loadTemplateData reads the data file and the .env file of the source directory.
// Both are optional.
func (b *Builder) loadTemplateData() (*templateData, error) {
	td := &templateData{
		Data: map[string]any{},
		Env:  map[string]string{},
	}

	if b.cfg.Pages.DataFile != "" {
		p := filepath.Join(b.srcDir, b.cfg.Pages.DataFile)
		f, err := os.Open(p)
		switch {
		case os.IsNotExist(err):
			tlogger.Debug("builder", "html", "msg", "no data file", "file", p)
		case err != nil:
			return nil, err
		default:
			defer f.Close()
			switch strings.ToLower(filepath.Ext(p)) {
			case ".yaml", ".yml":
				err = yaml.NewDecoder(f).Decode(&td.Data)
			default:
				err = json.NewDecoder(f).Decode(&td.Data)
			}
			if err != nil {
				tlogger.Error("builder", "html", "msg", "Can't decode data file", "file", p, "err", err)
				return nil, fmt.Errorf("decode data file %s: %w", p, err)
			}
		}
	}

	if b.cfg.Pages.EnvFile != "" {
		p := filepath.Join(b.srcDir, b.cfg.Pages.EnvFile)
		env, err := godotenv.Read(p)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			tlogger.Error("builder", "html", "msg", "Can't read env file", "file", p, "err", err)
			return nil, fmt.Errorf("read env file %s: %w", p, err)
		default:
			td.Env = env
		}
	}

	return td, nil
}

// isDataFile reports whether rel, relative to the source directory, feeds every page.
func (b *Builder) isDataFile(rel string) bool {
	for _, f := range []string{b.cfg.Pages.DataFile, b.cfg.Pages.EnvFile} {
		if f != "" && filepath.ToSlash(filepath.Clean(f)) == rel {
			return true
		}
	}
	return false
}
