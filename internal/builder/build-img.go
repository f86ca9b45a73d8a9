package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	berrors "github.com/toastate/toastpage/internal/errors"
	"github.com/toastate/toastpage/internal/tlogger"
)

// ImageStage copies the image tree to the build directory. Production builds recompress
// JPEG, PNG and GIF files, minify SVG files and optionally cap the width of bitmaps.
type ImageStage struct {
	builder *Builder

	dir    string // Relative to the source directory
	srcDir string
	outDir string // Relative to the build directory, slash separated
}

func (cb *ImageStage) Name() string {
	return "image"
}

func (cb *ImageStage) Init() error {
	tlogger.Debug("builder", "img", "msg", "init")

	conf := cb.builder.cfg.Images
	cb.dir = conf.Dir
	cb.outDir = filepath.ToSlash(conf.OutDir)
	if cb.dir != "" {
		cb.srcDir = filepath.Join(cb.builder.srcDir, conf.Dir)
	}
	return nil
}

func (cb *ImageStage) CanHandle(path string) bool {
	return cb.dir != "" && within(cb.dir, path)
}

func (cb *ImageStage) Process(ctx context.Context) error {
	if cb.srcDir == "" {
		return nil
	}
	if f, err := os.Stat(cb.srcDir); err != nil || !f.IsDir() {
		tlogger.Warn("builder", "img", "msg", "image folder not found, skipping", "path", cb.srcDir)
		return nil
	}

	var errs []error
	written := map[string]struct{}{}
	err := filepath.WalkDir(cb.srcDir, func(absolutepath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(cb.srcDir, absolutepath)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(path.Base(rel), ".") {
			return nil
		}

		out := path.Join(cb.outDir, rel)
		err = cb.processFile(absolutepath, out)
		if err != nil {
			tlogger.Error("builder", "img", "msg", "Error processing file", "file", rel, "err", err)
			errs = append(errs, berrors.Asset(cb.Name(), path.Join(filepath.ToSlash(cb.dir), rel), err))
			return nil
		}
		written[out] = struct{}{}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		errs = append(errs, berrors.Asset(cb.Name(), cb.dir, err))
		return errors.Join(errs...)
	}

	if err := cb.prune(written); err != nil {
		errs = append(errs, berrors.Asset(cb.Name(), cb.outDir, err))
	}
	return errors.Join(errs...)
}

func (cb *ImageStage) processFile(src, out string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	if cb.builder.cfg.Mode.Minify() {
		data, err = cb.optimize(strings.ToLower(filepath.Ext(src)), data)
		if err != nil {
			return err
		}
	}

	return cb.builder.writer.Write(out, data)
}

// optimize recompresses data according to its extension. The source bytes are kept
// when the result is not smaller and the image was not resized.
func (cb *ImageStage) optimize(ext string, data []byte) ([]byte, error) {
	var (
		out     []byte
		resized bool
		err     error
	)
	switch ext {
	case ".jpg", ".jpeg":
		out, resized, err = cb.reencode(data, func(buf *bytes.Buffer, img image.Image) error {
			return jpeg.Encode(buf, img, &jpeg.Options{Quality: cb.builder.cfg.Images.JPEGQuality})
		})
	case ".png":
		out, resized, err = cb.reencode(data, func(buf *bytes.Buffer, img image.Image) error {
			enc := &png.Encoder{CompressionLevel: png.BestCompression}
			return enc.Encode(buf, img)
		})
	case ".gif":
		out, err = reencodeGIF(data)
	case ".svg":
		out, err = cb.builder.minifier.Bytes(mediaSVG, data)
	default:
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", strings.TrimPrefix(ext, "."), err)
	}
	if !resized && len(out) >= len(data) {
		return data, nil
	}
	return out, nil
}

func (cb *ImageStage) reencode(data []byte, encode func(*bytes.Buffer, image.Image) error) ([]byte, bool, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("decode image: %w", err)
	}

	img, resized := downscale(img, cb.builder.cfg.Images.MaxWidth)

	var buf bytes.Buffer
	if err := encode(&buf, img); err != nil {
		return nil, false, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), resized, nil
}

// downscale resizes img to maxWidth, keeping its aspect ratio, when it is wider.
func downscale(img image.Image, maxWidth int) (image.Image, bool) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if maxWidth <= 0 || w <= maxWidth {
		return img, false
	}

	newH := h * maxWidth / w
	if newH < 1 {
		newH = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst, true
}

// Animated GIFs are re-encoded frame by frame and never resized.
func reencodeGIF(data []byte) ([]byte, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// prune removes files of the output image folder whose source is gone.
func (cb *ImageStage) prune(written map[string]struct{}) error {
	if cb.outDir == "" || cb.outDir == "." {
		return nil
	}
	root, err := cb.builder.writer.Path(cb.outDir)
	if err != nil {
		return err
	}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}

	var errs []error
	err = filepath.WalkDir(root, func(absolutepath string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(cb.builder.buildDir, absolutepath)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if _, ok := written[rel]; ok {
			return nil
		}
		// Temporary files of concurrent writes
		if strings.HasPrefix(path.Base(rel), ".") {
			return nil
		}
		if err := cb.builder.writer.Remove(rel); err != nil {
			errs = append(errs, err)
		}
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
