package imageprep

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/angelmondragon/skewerpos-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
)

const (
	jpegContentType = "image/jpeg"

	// DefaultMaxPixels caps decoded images at 40 megapixels.
	DefaultMaxPixels = 40_000_000
)

// File is an uploaded image held in memory.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Size returns the encoded length in bytes.
func (f File) Size() int {
	return len(f.Data)
}

// Options bounds the compression search.
type Options struct {
	MaxBytes     int
	MaxDim       int
	MinDim       int
	Quality      int
	QualityFloor int
	QualityStep  int
	ShrinkRatio  float64
	// MaxPixels bounds width*height as declared by the image header. Zero
	// means DefaultMaxPixels.
	MaxPixels int
}

// DefaultOptions returns the budget used by the detection upload path.
func DefaultOptions() Options {
	return Options{
		MaxBytes:     1572864,
		MaxDim:       1920,
		MinDim:       640,
		Quality:      85,
		QualityFloor: 55,
		QualityStep:  10,
		ShrinkRatio:  0.85,
		MaxPixels:    DefaultMaxPixels,
	}
}

// OptionsFromConfig maps the media config section onto Options.
func OptionsFromConfig(cfg config.MediaConfig) Options {
	return Options{
		MaxBytes:     cfg.ImageMaxBytes,
		MaxDim:       cfg.ImageMaxDim,
		MinDim:       cfg.ImageMinDim,
		Quality:      cfg.ImageQuality,
		QualityFloor: cfg.ImageQualityMin,
		QualityStep:  cfg.ImageQualityStep,
		ShrinkRatio:  cfg.ImageShrinkRatio,
		MaxPixels:    cfg.ImageMaxPixels,
	}
}

func (o Options) validate() error {
	switch {
	case o.MaxBytes <= 0:
		return fmt.Errorf("max bytes must be positive")
	case o.MinDim <= 0 || o.MaxDim < o.MinDim:
		return fmt.Errorf("dimension bounds invalid (min %d, max %d)", o.MinDim, o.MaxDim)
	case o.QualityFloor < 1 || o.Quality > 100 || o.Quality < o.QualityFloor:
		return fmt.Errorf("quality bounds invalid (start %d, floor %d)", o.Quality, o.QualityFloor)
	case o.QualityStep <= 0:
		return fmt.Errorf("quality step must be positive")
	case o.ShrinkRatio <= 0 || o.ShrinkRatio >= 1:
		return fmt.Errorf("shrink ratio must be in (0,1)")
	case o.MaxPixels < 0:
		return fmt.Errorf("max pixels must not be negative")
	}
	return nil
}

// Result describes the file handed to the detector.
type Result struct {
	File       File
	Width      int
	Height     int
	Quality    int
	Iterations int
	Reencoded  bool
}

type iterationObserver interface {
	ObserveImageIterations(n int)
}

// Preprocessor fits photos under the upload budget, trading JPEG quality first
// and resolution second.
type Preprocessor struct {
	opts    Options
	metrics iterationObserver
}

// New validates opts and builds a Preprocessor. metrics may be nil.
func New(opts Options, metrics iterationObserver) (*Preprocessor, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.MaxPixels == 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	return &Preprocessor{opts: opts, metrics: metrics}, nil
}

// Options returns the active budget.
func (p *Preprocessor) Options() Options {
	return p.opts
}

// Preprocess returns f untouched when it already fits, otherwise a re-encoded
// JPEG no larger than MaxBytes. When the quality floor and the minimum
// dimension are both reached and the image is still too large it fails with
// CodeCompression.
func (p *Preprocessor) Preprocess(ctx context.Context, f File) (*Result, error) {
	if len(f.Data) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "image is empty")
	}
	if f.Size() <= p.opts.MaxBytes {
		return &Result{File: f}, nil
	}

	// the header alone decides how much memory a full decode would take
	header, _, err := image.DecodeConfig(bytes.NewReader(f.Data))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "image format not supported")
	}
	if pixels := int64(header.Width) * int64(header.Height); pixels > int64(p.opts.MaxPixels) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "image dimensions are too large").
			WithDetails(map[string]any{
				"width":      header.Width,
				"height":     header.Height,
				"max_pixels": p.opts.MaxPixels,
			})
	}

	src, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "image format not supported")
	}

	bounds := src.Bounds()
	w, h := fitWithin(bounds.Dx(), bounds.Dy(), p.opts.MaxDim)
	q := p.opts.Quality

	data, err := encode(src, w, h, q)
	if err != nil {
		return nil, err
	}
	iterations := 1

	for len(data) > p.opts.MaxBytes && (q > p.opts.QualityFloor || largest(w, h) > p.opts.MinDim) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if q > p.opts.QualityFloor {
			q = max(p.opts.QualityFloor, q-p.opts.QualityStep)
		} else {
			w, h = shrink(w, h, p.opts.ShrinkRatio, p.opts.MinDim)
		}
		if data, err = encode(src, w, h, q); err != nil {
			return nil, err
		}
		iterations++
	}

	if p.metrics != nil {
		p.metrics.ObserveImageIterations(iterations)
	}

	if len(data) > p.opts.MaxBytes {
		return nil, pkgerrors.New(pkgerrors.CodeCompression, "image still exceeds upload budget at minimum quality and size").
			WithDetails(map[string]any{
				"max_bytes":  p.opts.MaxBytes,
				"size_bytes": len(data),
				"width":      w,
				"height":     h,
				"quality":    q,
			})
	}

	return &Result{
		File: File{
			Name:        jpegName(f.Name),
			ContentType: jpegContentType,
			Data:        data,
		},
		Width:      w,
		Height:     h,
		Quality:    q,
		Iterations: iterations,
		Reencoded:  true,
	}, nil
}

// fitWithin scales (w, h) so the larger side is at most maxDim. Images are
// never upscaled.
func fitWithin(w, h, maxDim int) (int, int) {
	l := largest(w, h)
	if l <= maxDim {
		return w, h
	}
	return scaleTo(w, h, maxDim)
}

// shrink reduces the larger side by ratio without crossing minDim.
func shrink(w, h int, ratio float64, minDim int) (int, int) {
	l := largest(w, h)
	target := int(math.Floor(float64(l) * ratio))
	if target >= l {
		target = l - 1
	}
	if target < minDim {
		target = minDim
	}
	return scaleTo(w, h, target)
}

func scaleTo(w, h, target int) (int, int) {
	if w >= h {
		nh := int(math.Round(float64(h) * float64(target) / float64(w)))
		return target, max(nh, 1)
	}
	nw := int(math.Round(float64(w) * float64(target) / float64(h)))
	return max(nw, 1), target
}

func largest(w, h int) int {
	return max(w, h)
}

// encode renders src at w x h over a white background and encodes it as JPEG.
func encode(src image.Image, w, h, quality int) ([]byte, error) {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)

	if sb := src.Bounds(); sb.Dx() == w && sb.Dy() == h {
		draw.Draw(dst, dst.Bounds(), src, sb.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode jpeg")
	}
	return buf.Bytes(), nil
}

func jpegName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		base = "image"
	}
	return base + ".jpg"
}
