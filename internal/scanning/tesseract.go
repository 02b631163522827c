package scanning

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// DefaultLanguage is the Tesseract language used when none is configured
const DefaultLanguage = "eng"

// Tesseract implements Engine using a local Tesseract install
type Tesseract struct {
	languages []string
}

// NewTesseract creates a Tesseract engine for the given languages
func NewTesseract(languages ...string) *Tesseract {
	if len(languages) == 0 {
		languages = []string{DefaultLanguage}
	}
	return &Tesseract{languages: languages}
}

// Recognize implements Engine. A client is created per call because
// gosseract clients are not safe for concurrent use.
func (t *Tesseract) Recognize(ctx context.Context, path string) (*RawOCROutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, newOCRError(path, err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return nil, newOCRError(path, fmt.Errorf("setting language: %w", err))
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return nil, newOCRError(path, fmt.Errorf("setting page segmentation: %w", err))
	}
	if err := client.SetImage(path); err != nil {
		return nil, newOCRError(path, fmt.Errorf("loading image: %w", err))
	}

	text, err := client.Text()
	if err != nil {
		return nil, newOCRError(path, fmt.Errorf("extracting text: %w", err))
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, newOCRError(path, fmt.Errorf("reading word confidences: %w", err))
	}
	scores := make([]float64, 0, len(boxes))
	for _, b := range boxes {
		scores = append(scores, b.Confidence)
	}

	return &RawOCROutput{Text: text, Confidence: meanWordConfidence(scores)}, nil
}

// Close implements Engine
func (t *Tesseract) Close() error {
	return nil
}

// meanWordConfidence converts Tesseract's 0-100 word scores to a single
// value in [0,1]. Negative scores mark non-text boxes and are skipped.
func meanWordConfidence(scores []float64) float64 {
	var (
		sum float64
		n   int
	)
	for _, s := range scores {
		if s < 0 {
			continue
		}
		sum += s
		n++
	}
	if n == 0 {
		return 0
	}
	return clampUnit(sum / float64(n) / 100)
}
