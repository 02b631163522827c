package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"net/http"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// decodeImage decodes receipt image data. PDFs render their first page,
// HEIC/HEIF uses the pure Go decoder, everything else goes through the
// registered stdlib decoders.
func decodeImage(data []byte, ext string) (image.Image, error) {
	ext = strings.ToLower(ext)

	switch {
	case isPDFFormat(data) || ext == ".pdf":
		return pdfFirstPage(data)
	case isHEICFormat(data) || ext == ".heic" || ext == ".heif":
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// pdfFirstPage renders the first page of a PDF (most receipts are single page)
func pdfFirstPage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// toPNG returns data as PNG, converting when it is not already PNG
func toPNG(data []byte, ext string) ([]byte, error) {
	if http.DetectContentType(data) == "image/png" {
		return data, nil
	}

	img, err := decodeImage(data, ext)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func isPDFFormat(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF"))
}

// isHEICFormat checks for an ftyp box with a HEIC-related brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}
