package scanning

import "context"

// RawOCROutput is the unparsed result of a recognition engine
type RawOCROutput struct {
	Text string `json:"text"`
	// Confidence is in [0,1]
	Confidence float64 `json:"confidence"`
}

// Engine recognizes text in an image file
type Engine interface {
	// Recognize reads the text of the image at path. Failures are reported
	// as *OCRError and no partial output is returned.
	Recognize(ctx context.Context, path string) (*RawOCROutput, error)
	// Close releases engine resources
	Close() error
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
