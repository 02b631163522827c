package scanning

import (
	"context"
	"errors"
	"log/slog"
)

// ScanResult is the outcome of scanning one receipt image
type ScanResult struct {
	Fields     ParsedReceiptFields `json:"fields"`
	RawText    string              `json:"raw_text"`
	Confidence float64             `json:"confidence"`
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// Scan preprocesses, recognizes and parses the image at path
	Scan(ctx context.Context, path string) (*ScanResult, error)
	// Close closes the scanner and releases resources
	Close() error
}

// Pipeline runs preprocessing, recognition and parsing in sequence. It
// keeps no per-scan state, so separate receipts may be scanned concurrently.
type Pipeline struct {
	preparer Preparer
	engine   Engine
}

// NewPipeline creates a Pipeline. A nil preparer sends the original image
// straight to the engine.
func NewPipeline(preparer Preparer, engine Engine) *Pipeline {
	return &Pipeline{preparer: preparer, engine: engine}
}

// Scan implements Scanner
func (p *Pipeline) Scan(ctx context.Context, path string) (*ScanResult, error) {
	img := p.prepare(path)
	defer img.cleanup()

	raw, err := p.engine.Recognize(ctx, img.path)
	if err != nil {
		var ocrErr *OCRError
		if !errors.As(err, &ocrErr) {
			err = newOCRError(img.path, err)
		}
		return nil, err
	}

	return &ScanResult{
		Fields:     ParseFields(raw.Text),
		RawText:    raw.Text,
		Confidence: clampUnit(raw.Confidence),
	}, nil
}

// Close implements Scanner
func (p *Pipeline) Close() error {
	return p.engine.Close()
}

type preparedImage struct {
	path    string
	cleanup func()
}

func (p *Pipeline) prepare(path string) preparedImage {
	if p.preparer == nil {
		return preparedImage{path: path, cleanup: func() {}}
	}
	out, cleanup, err := p.preparer.Prepare(path)
	if err != nil {
		slog.Warn("Preprocessing failed, using original image", "path", path, "error", err)
		return preparedImage{path: path, cleanup: func() {}}
	}
	if cleanup == nil {
		cleanup = func() {}
	}
	return preparedImage{path: out, cleanup: cleanup}
}
