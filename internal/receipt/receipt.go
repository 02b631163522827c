package receipt

import (
	"errors"
	"math"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a receipt does not exist
	ErrNotFound = errors.New("receipt not found")

	// ErrValidation is returned when receipt data is rejected
	ErrValidation = errors.New("invalid receipt")
)

// Item is a purchased line item
type Item struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Price    int     `json:"price"` // Price in cents
}

// Receipt represents a receipt with metadata
type Receipt struct {
	ID            string    `json:"id"`
	Merchant      string    `json:"merchant"`
	Date          time.Time `json:"date"`
	Total         int       `json:"total"` // Total in cents
	Category      string    `json:"category"`
	Description   string    `json:"description,omitempty"`
	Items         []Item    `json:"items"`
	Filename      string    `json:"filename,omitempty"`
	ContentType   string    `json:"content_type,omitempty"`
	OCRText       string    `json:"ocr_text,omitempty"`
	OCRConfidence float64   `json:"ocr_confidence"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Overrides holds user-supplied values merged over a receipt. Nil fields
// leave the receipt untouched. An empty Category asks for the category to be
// recomputed.
type Overrides struct {
	Merchant    *string
	Total       *int // cents
	Date        *time.Time
	Category    *string
	Description *string
	Items       []Item
}

// Filter narrows a receipt listing. Zero values match everything.
type Filter struct {
	From     time.Time
	To       time.Time // inclusive
	Category string
	Merchant string // case-insensitive substring
}

// Match reports whether r passes the filter
func (f Filter) Match(r *Receipt) bool {
	if !f.From.IsZero() && r.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Date.After(f.To) {
		return false
	}
	if f.Category != "" && !strings.EqualFold(r.Category, f.Category) {
		return false
	}
	if f.Merchant != "" && !strings.Contains(strings.ToLower(r.Merchant), strings.ToLower(f.Merchant)) {
		return false
	}
	return true
}

// toCents converts a dollar amount to cents
func toCents(dollars float64) int {
	return int(math.Round(dollars * 100))
}

func toDollars(cents int) float64 {
	return float64(cents) / 100
}
