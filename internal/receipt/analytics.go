package receipt

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	// DefaultTrendMonths is the window used when no month count is given
	DefaultTrendMonths = 12
	// DefaultMerchantLimit is the merchant count used when no limit is given
	DefaultMerchantLimit = 10

	maxTrendMonths = 120
)

// MonthlyTotal is the spend in one calendar month
type MonthlyTotal struct {
	Month string `json:"month"` // YYYY-MM
	Total int    `json:"total"` // cents
	Count int    `json:"count"`
}

// MerchantTotal is the spend at one merchant
type MerchantTotal struct {
	Merchant string `json:"merchant"`
	Total    int    `json:"total"` // cents
	Count    int    `json:"count"`
}

// CategoryTotal is the spend in one category
type CategoryTotal struct {
	Category   string  `json:"category"`
	Total      int     `json:"total"` // cents
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// MonthlyTrends returns spend for the last months calendar months ending
// with the current one, oldest first. Months without receipts are zero.
func (s *Service) MonthlyTrends(months int) ([]MonthlyTotal, error) {
	if months <= 0 {
		months = DefaultTrendMonths
	}
	months = min(months, maxTrendMonths)

	now := s.timeSource.Now().UTC()
	key := fmt.Sprintf("monthly:%d:%s", months, now.Format("2006-01"))
	if v, ok := s.cached(key); ok {
		return v.([]MonthlyTotal), nil
	}

	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}

	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)
	trends := make([]MonthlyTotal, months)
	index := make(map[string]int, months)
	for i := range trends {
		m := start.AddDate(0, i, 0).Format("2006-01")
		trends[i] = MonthlyTotal{Month: m}
		index[m] = i
	}

	for _, r := range receipts {
		i, ok := index[r.Date.UTC().Format("2006-01")]
		if !ok {
			continue
		}
		trends[i].Total += r.Total
		trends[i].Count++
	}

	s.store(key, trends)
	return trends, nil
}

// TopMerchants returns the merchants with the highest spend. Names are
// grouped case-insensitively and reported as most recently written.
func (s *Service) TopMerchants(limit int) ([]MerchantTotal, error) {
	if limit <= 0 {
		limit = DefaultMerchantLimit
	}

	key := fmt.Sprintf("merchants:%d", limit)
	if v, ok := s.cached(key); ok {
		return v.([]MerchantTotal), nil
	}

	receipts, err := s.ListReceipts(Filter{})
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]*MerchantTotal)
	order := make([]*MerchantTotal, 0)
	for _, r := range receipts {
		name := strings.TrimSpace(r.Merchant)
		if name == "" {
			continue
		}
		k := strings.ToLower(name)
		mt, ok := byKey[k]
		if !ok {
			// receipts are newest first, so the first spelling seen wins
			mt = &MerchantTotal{Merchant: name}
			byKey[k] = mt
			order = append(order, mt)
		}
		mt.Total += r.Total
		mt.Count++
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].Total != order[j].Total {
			return order[i].Total > order[j].Total
		}
		return strings.ToLower(order[i].Merchant) < strings.ToLower(order[j].Merchant)
	})

	top := make([]MerchantTotal, 0, min(limit, len(order)))
	for _, mt := range order[:min(limit, len(order))] {
		top = append(top, *mt)
	}

	s.store(key, top)
	return top, nil
}

// CategoryBreakdown returns spend per category with its share of the
// overall total, largest first.
func (s *Service) CategoryBreakdown() ([]CategoryTotal, error) {
	const key = "categories"
	if v, ok := s.cached(key); ok {
		return v.([]CategoryTotal), nil
	}

	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}

	byName := make(map[string]*CategoryTotal)
	var grand int
	for _, r := range receipts {
		ct, ok := byName[r.Category]
		if !ok {
			ct = &CategoryTotal{Category: r.Category}
			byName[r.Category] = ct
		}
		ct.Total += r.Total
		ct.Count++
		grand += r.Total
	}

	breakdown := make([]CategoryTotal, 0, len(byName))
	for _, ct := range byName {
		if grand > 0 {
			ct.Percentage = math.Round(float64(ct.Total)/float64(grand)*10000) / 100
		}
		breakdown = append(breakdown, *ct)
	}
	sort.Slice(breakdown, func(i, j int) bool {
		if breakdown[i].Total != breakdown[j].Total {
			return breakdown[i].Total > breakdown[j].Total
		}
		return breakdown[i].Category < breakdown[j].Category
	})

	s.store(key, breakdown)
	return breakdown, nil
}

func (s *Service) cached(key string) (any, bool) {
	if s.analytics == nil {
		return nil, false
	}
	return s.analytics.Get(key)
}

func (s *Service) store(key string, v any) {
	if s.analytics == nil {
		return
	}
	s.analytics.Set(key, v, cache.DefaultExpiration)
}

// invalidateAnalytics drops cached results after a write
func (s *Service) invalidateAnalytics() {
	if s.analytics != nil {
		s.analytics.Flush()
	}
}
