package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultConfigFile = "toastpage.json"

var Config = Default()

// Default returns a fresh copy of the default configuration.
func Default() *Configuration {
	return &Configuration{
		Mode:     ModeDevelopment,
		SrcDir:   "src",
		BuildDir: "dist",
		Pages: PagesConfiguration{
			Dir:      "pages",
			Include:  []string{"**/*.html"},
			Exclude:  []string{"**/_*.html"},
			DataFile: "data.json",
			EnvFile:  ".env",
		},
		Styles: AssetConfiguration{
			Entry:  "assets/css/style.css",
			OutDir: "assets/css",
		},
		Scripts: AssetConfiguration{
			Entry:  "assets/js/main.js",
			OutDir: "assets/js",
			Target: "es2015",
		},
		Images: ImageConfiguration{
			Dir:         "assets/img",
			OutDir:      "assets/img",
			JPEGQuality: 85,
		},
		ServeConfig: ServeConfiguration{
			Redirect404: "",
			Port:        8100,
			DebounceMS:  300,
		},
	}
}

type Configuration struct {
	Mode        Mode               `json:"mode,omitempty" yaml:"mode,omitempty"`
	SrcDir      string             `json:"source_directory,omitempty" yaml:"source_directory,omitempty"`
	BuildDir    string             `json:"build_directory,omitempty" yaml:"build_directory,omitempty"`
	Pages       PagesConfiguration `json:"pages,omitempty" yaml:"pages,omitempty"`
	Styles      AssetConfiguration `json:"styles,omitempty" yaml:"styles,omitempty"`
	Scripts     AssetConfiguration `json:"scripts,omitempty" yaml:"scripts,omitempty"`
	Images      ImageConfiguration `json:"images,omitempty" yaml:"images,omitempty"`
	ServeConfig ServeConfiguration `json:"serve_config,omitempty" yaml:"serve_config,omitempty"`
}

// PagesConfiguration locates page templates. Dir, DataFile and EnvFile are relative
// to the source directory, patterns to Dir.
type PagesConfiguration struct {
	Dir      string   `json:"directory,omitempty" yaml:"directory,omitempty"`
	Include  []string `json:"include,omitempty" yaml:"include,omitempty"`
	Exclude  []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	DataFile string   `json:"data_file,omitempty" yaml:"data_file,omitempty"`
	EnvFile  string   `json:"env_file,omitempty" yaml:"env_file,omitempty"`
	Workers  int      `json:"workers,omitempty" yaml:"workers,omitempty"`
}

// AssetConfiguration describes a single bundled entry. An empty Entry disables the stage.
type AssetConfiguration struct {
	Entry  string `json:"entry,omitempty" yaml:"entry,omitempty"`
	OutDir string `json:"out_dir,omitempty" yaml:"out_dir,omitempty"`
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
}

type ImageConfiguration struct {
	Dir         string `json:"directory,omitempty" yaml:"directory,omitempty"`
	OutDir      string `json:"out_dir,omitempty" yaml:"out_dir,omitempty"`
	JPEGQuality int    `json:"jpeg_quality,omitempty" yaml:"jpeg_quality,omitempty"`
	MaxWidth    int    `json:"max_width,omitempty" yaml:"max_width,omitempty"`
}

type ServeConfiguration struct {
	Redirect404 string `json:"redirect_404" yaml:"redirect_404"`
	Port        int    `json:"port" yaml:"port"`
	DebounceMS  int    `json:"debounce_ms,omitempty" yaml:"debounce_ms,omitempty"`
	Open        bool   `json:"open,omitempty" yaml:"open,omitempty"`
}

// PagesDir returns the template root.
func (c *Configuration) PagesDir() string {
	return filepath.Join(c.SrcDir, c.Pages.Dir)
}

// Validate reports the first invalid setting.
func (c *Configuration) Validate() error {
	if !c.Mode.Valid() {
		return fmt.Errorf("unknown mode %q, expected %q or %q", c.Mode, ModeDevelopment, ModeProduction)
	}
	if c.SrcDir == "" {
		return fmt.Errorf("source_directory is required")
	}
	if c.BuildDir == "" {
		return fmt.Errorf("build_directory is required")
	}
	if len(c.Pages.Include) == 0 {
		return fmt.Errorf("pages.include needs at least one pattern")
	}
	if c.Pages.Workers < 0 {
		return fmt.Errorf("pages.workers must be positive, got %d", c.Pages.Workers)
	}
	if c.Images.JPEGQuality < 1 || c.Images.JPEGQuality > 100 {
		return fmt.Errorf("images.jpeg_quality must be within 1..100, got %d", c.Images.JPEGQuality)
	}
	if c.Images.MaxWidth < 0 {
		return fmt.Errorf("images.max_width must be positive, got %d", c.Images.MaxWidth)
	}

	src, err := filepath.Abs(c.SrcDir)
	if err != nil {
		return err
	}
	build, err := filepath.Abs(c.BuildDir)
	if err != nil {
		return err
	}
	if src == build || strings.HasPrefix(src, build+string(filepath.Separator)) {
		return fmt.Errorf("build_directory %s would erase source_directory %s", c.BuildDir, c.SrcDir)
	}
	return nil
}

// Load decodes the configuration file at configpath over the defaults. JSON is
// expected unless the file ends in .yaml or .yml.
func Load(configpath string) (*Configuration, error) {
	cfg := Default()

	f, err := os.Open(configpath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(configpath)) {
	case ".yaml", ".yml":
		err = yaml.NewDecoder(f).Decode(cfg)
	default:
		err = json.NewDecoder(f).Decode(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("could not decode configuration file %s: %w", configpath, err)
	}

	return cfg, nil
}

// Init loads configpath into Config. A missing default file keeps the defaults, a
// missing explicit file is an error.
func Init(configpath string) error {
	explicit := configpath != ""
	if configpath == "" {
		configpath = DefaultConfigFile
	}

	_, err := os.Stat(configpath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("could not access configuration file %s: %v", configpath, err)
		}
		if explicit {
			return fmt.Errorf("configuration file %s not found", configpath)
		}
		return nil
	}

	cfg, err := Load(configpath)
	if err != nil {
		return err
	}
	Config = cfg

	return nil
}
