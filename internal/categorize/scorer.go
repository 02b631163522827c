// Package categorize assigns spending categories to receipts by keyword
// scoring against a fixed, ordered table.
package categorize

import (
	"log/slog"
	"strings"
)

const (
	haystackPoints = 1
	merchantPoints = 3
)

// Item is a line item considered during categorization
type Item struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Input is the data a category is derived from
type Input struct {
	MerchantName string `json:"merchant_name"`
	Description  string `json:"description,omitempty"`
	Items        []Item `json:"items,omitempty"`
}

// Score is the points a single category earned for an input
type Score struct {
	Category string `json:"category"`
	Points   int    `json:"points"`
}

// Scorer scores inputs against a keyword table. It holds no mutable state
// after construction and is safe for concurrent use.
type Scorer struct {
	names    []string
	keywords [][]string
}

// NewScorer creates a Scorer over a copy of table with keywords lowercased.
// Empty keywords are ignored since they would match every input.
func NewScorer(table Table) *Scorer {
	s := &Scorer{
		names:    make([]string, 0, len(table)),
		keywords: make([][]string, 0, len(table)),
	}
	for _, cat := range table {
		kws := make([]string, 0, len(cat.Keywords))
		for _, kw := range cat.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			kws = append(kws, kw)
		}
		s.names = append(s.names, cat.Name)
		s.keywords = append(s.keywords, kws)
	}
	return s
}

// Scores returns the points of every category in table order
func (s *Scorer) Scores(in Input) []Score {
	merchant := strings.ToLower(in.MerchantName)
	haystack := buildHaystack(in)

	scores := make([]Score, len(s.names))
	for i, name := range s.names {
		points := 0
		for _, kw := range s.keywords[i] {
			switch {
			case strings.Contains(merchant, kw):
				points += merchantPoints
			case strings.Contains(haystack, kw):
				points += haystackPoints
			}
		}
		scores[i] = Score{Category: name, Points: points}
	}
	return scores
}

// Categorize returns the highest scoring category for in, or Fallback when
// nothing matched. It never fails: an unexpected panic yields Fallback.
func (s *Scorer) Categorize(in Input) (category string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Categorization failed", "merchant", in.MerchantName, "panic", r)
			category = Fallback
		}
	}()

	best := Score{Category: Fallback}
	for _, sc := range s.Scores(in) {
		// strict comparison keeps the earliest category among equal scores
		if sc.Points > best.Points {
			best = sc
		}
	}
	return best.Category
}

// Categories lists every assignable category in table order, ending with
// Fallback.
func (s *Scorer) Categories() []string {
	out := make([]string, 0, len(s.names)+1)
	out = append(out, s.names...)
	return append(out, Fallback)
}

// Canonical resolves name case-insensitively to a known category
func (s *Scorer) Canonical(name string) (string, bool) {
	name = strings.TrimSpace(name)
	for _, c := range s.Categories() {
		if strings.EqualFold(c, name) {
			return c, true
		}
	}
	return "", false
}

func buildHaystack(in Input) string {
	parts := make([]string, 0, len(in.Items)+2)
	parts = append(parts, in.MerchantName, in.Description)
	for _, item := range in.Items {
		parts = append(parts, item.Name)
	}
	return strings.ToLower(strings.Join(parts, " "))
}
