package scanning

import (
	"errors"
	"fmt"
)

var (
	// ErrPreprocessingFailed marks a recoverable preprocessing failure. The
	// pipeline falls back to the original image.
	ErrPreprocessingFailed = errors.New("preprocessing failed")

	// ErrOCRProcessingFailed marks a failed recognition step. No fields are
	// produced when it is returned.
	ErrOCRProcessingFailed = errors.New("ocr processing failed")
)

// OCRError reports a recognition failure for a specific image
type OCRError struct {
	Path string
	Err  error
}

func newOCRError(path string, err error) *OCRError {
	return &OCRError{Path: path, Err: err}
}

func (e *OCRError) Error() string {
	return fmt.Sprintf("ocr processing failed for %s: %v", e.Path, e.Err)
}

func (e *OCRError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrOCRProcessingFailed) match any OCRError
func (e *OCRError) Is(target error) bool {
	return target == ErrOCRProcessingFailed
}
