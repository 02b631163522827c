package scanning

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// merchantScanLines is how many leading lines may hold the merchant name
const merchantScanLines = 3

var (
	reTotal    = regexp.MustCompile(`(?i)(?:total|amount|sum)[:\s]*\$?(\d+(?:\.\d+)?)`)
	reDollar   = regexp.MustCompile(`\$(\d+(?:\.\d+)?)`)
	reDate     = regexp.MustCompile(`(\d{1,2})[/.-](\d{1,2})[/.-](\d{2,4})`)
	reLineItem = regexp.MustCompile(`^(.+?)\s+(?:(\d+(?:\.\d+)?)\s+)?\$?(-?\d+(?:\.\d+)?)$`)

	merchantExclusions = []string{"receipt", "tax"}
)

// LineItem is a single purchased item found in receipt text
type LineItem struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

// ParsedReceiptFields holds the fields extracted from OCR text. Nil pointers
// mean the field was not found.
type ParsedReceiptFields struct {
	MerchantName *string    `json:"merchant_name,omitempty"`
	TotalAmount  *float64   `json:"total_amount,omitempty"`
	Date         *time.Time `json:"date,omitempty"`
	Items        []LineItem `json:"items"`
}

// ParseFields extracts merchant, total, date and line items from raw OCR
// text. Each field is extracted independently; a miss leaves it nil and
// never affects the others.
func ParseFields(text string) ParsedReceiptFields {
	lines := normalizeLines(text)
	return ParsedReceiptFields{
		MerchantName: extractMerchant(lines),
		TotalAmount:  extractTotal(text),
		Date:         extractDate(text),
		Items:        extractItems(lines),
	}
}

// normalizeLines splits text into trimmed, non-empty lines
func normalizeLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r", ""), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func extractMerchant(lines []string) *string {
	for i, line := range lines {
		if i >= merchantScanLines {
			break
		}
		if isMerchantLine(line) {
			name := line
			return &name
		}
	}
	return nil
}

func isMerchantLine(line string) bool {
	if strings.ContainsAny(line, "0123456789") {
		return false
	}
	lower := strings.ToLower(line)
	for _, word := range merchantExclusions {
		if strings.Contains(lower, word) {
			return false
		}
	}
	return utf8.RuneCountInString(line) > 3
}

// extractTotal prefers a labelled total. Without one, the largest dollar
// figure on the receipt is taken as the total.
func extractTotal(text string) *float64 {
	if m := reTotal.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return &v
		}
	}

	var (
		largest float64
		found   bool
	)
	for _, m := range reDollar.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if !found || v > largest {
			largest = v
			found = true
		}
	}
	if !found {
		return nil
	}
	return &largest
}

// extractDate reads the first month/day/year date in text. An invalid
// calendar date yields nil rather than a corrected date.
func extractDate(text string) *time.Time {
	m := reDate.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	month, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	day, err := strconv.Atoi(m[2])
	if err != nil {
		return nil
	}
	year, err := strconv.Atoi(m[3])
	if err != nil {
		return nil
	}
	if len(m[3]) == 2 {
		if year < 50 {
			year += 2000
		} else {
			year += 1900
		}
	}
	if month < 1 || month > 12 || day < 1 {
		return nil
	}

	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (Feb 30 -> Mar 2); reject that
	if date.Month() != time.Month(month) || date.Day() != day {
		return nil
	}
	return &date
}

func extractItems(lines []string) []LineItem {
	items := make([]LineItem, 0)
	for _, line := range lines {
		if item, ok := parseLineItem(line); ok {
			items = append(items, item)
		}
	}
	return items
}

func parseLineItem(line string) (LineItem, bool) {
	m := reLineItem.FindStringSubmatch(line)
	if m == nil {
		return LineItem{}, false
	}

	name := strings.TrimSpace(m[1])
	if name == "" {
		return LineItem{}, false
	}

	price, err := strconv.ParseFloat(m[3], 64)
	if err != nil || price <= 0 {
		return LineItem{}, false
	}

	quantity := 1.0
	if m[2] != "" {
		if q, err := strconv.ParseFloat(m[2], 64); err == nil && q >= 0 {
			quantity = q
		}
	}

	return LineItem{Name: name, Quantity: quantity, Price: price}, true
}
