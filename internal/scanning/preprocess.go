package scanning

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

const (
	// DefaultMaxWidth caps the width of preprocessed images
	DefaultMaxWidth = 2000

	// ArtifactSuffix is appended to the source path to name the
	// preprocessed image written next to it.
	ArtifactSuffix = ".ocr.png"

	sharpenSigma = 1.0
)

// Preparer turns a source image into one better suited to OCR. The returned
// cleanup removes the artifact and must be called once OCR is done. On error
// no artifact exists and cleanup is nil.
type Preparer interface {
	Prepare(srcPath string) (string, func(), error)
}

// Preprocessor resizes, greyscales, normalizes contrast and sharpens images.
// It is stateless and safe for concurrent use.
type Preprocessor struct {
	maxWidth int
}

// NewPreprocessor creates a Preprocessor; maxWidth <= 0 uses DefaultMaxWidth
func NewPreprocessor(maxWidth int) *Preprocessor {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	return &Preprocessor{maxWidth: maxWidth}
}

// Prepare writes the preprocessed PNG next to srcPath
func (p *Preprocessor) Prepare(srcPath string) (string, func(), error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", nil, fmt.Errorf("%w: reading %s: %w", ErrPreprocessingFailed, srcPath, err)
	}

	img, err := decodeImage(data, filepath.Ext(srcPath))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrPreprocessingFailed, err)
	}

	out := srcPath + ArtifactSuffix
	if err := imaging.Save(p.Transform(img), out); err != nil {
		_ = os.Remove(out)
		return "", nil, fmt.Errorf("%w: saving %s: %w", ErrPreprocessingFailed, out, err)
	}

	cleanup := func() {
		if err := os.Remove(out); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to remove preprocessed image", "path", out, "error", err)
		}
	}
	return out, cleanup, nil
}

// Transform applies the OCR preprocessing steps in order: width-bounded
// resize (never upscaling), greyscale, contrast normalization, sharpening.
func (p *Preprocessor) Transform(img image.Image) *image.NRGBA {
	if img.Bounds().Dx() > p.maxWidth {
		img = imaging.Resize(img, p.maxWidth, 0, imaging.Lanczos)
	}
	grey := imaging.Grayscale(img)
	grey = normalizeContrast(grey)
	return imaging.Sharpen(grey, sharpenSigma)
}

// normalizeContrast stretches the luminance range of a greyscale image so
// the darkest pixel becomes black and the brightest white.
func normalizeContrast(img *image.NRGBA) *image.NRGBA {
	lo, hi := 255, 0
	for i := 0; i+3 < len(img.Pix); i += 4 {
		v := int(img.Pix[i])
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi <= lo || (lo == 0 && hi == 255) {
		return img
	}

	span := hi - lo
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		v := uint8((int(c.R) - lo) * 255 / span)
		return color.NRGBA{R: v, G: v, B: v, A: c.A}
	})
}
