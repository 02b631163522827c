package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/zombor/receipt-tracker/internal/categorize"
	"github.com/zombor/receipt-tracker/internal/scanning"
)

// DefaultAnalyticsCacheTTL is how long analytics results are reused
const DefaultAnalyticsCacheTTL = 5 * time.Minute

var (
	reFilenameStrip = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	reFilenameSpace = regexp.MustCompile(`\s+`)
)

// IDGenerator generates unique IDs for receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random (version 4) UUIDs
type uuidGenerator struct{}

func (g uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles receipt operations
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	scorer      *categorize.Scorer
	idGenerator IDGenerator
	timeSource  TimeSource
	analytics   *cache.Cache
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, scanner scanning.Scanner, storage Storage) *Service {
	return NewServiceWithDeps(db, scanner, storage, uuidGenerator{}, defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		scorer:      categorize.NewScorer(categorize.DefaultTable),
		idGenerator: idGen,
		timeSource:  timeSrc,
		analytics:   cache.New(DefaultAnalyticsCacheTTL, 2*DefaultAnalyticsCacheTTL),
	}
}

// SetAnalyticsCacheTTL replaces the analytics cache. A ttl <= 0 disables
// caching.
func (s *Service) SetAnalyticsCacheTTL(ttl time.Duration) {
	if ttl <= 0 {
		s.analytics = nil
		return
	}
	s.analytics = cache.New(ttl, 2*ttl)
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if reFilenameStrip.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	// Keep only alphanumeric, spaces, hyphens, and underscores
	base = reFilenameStrip.ReplaceAllString(base, "")
	base = reFilenameSpace.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	const maxLen = 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// ScanReceipt stores an uploaded file and runs OCR over it, returning an
// unsaved draft for the user to review. An unreadable image yields a draft
// with empty fields and the fallback category.
func (s *Service) ScanReceipt(ctx context.Context, filename string, data []byte, contentType string) (*Receipt, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedName, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	draft := &Receipt{
		ID:          id,
		Category:    categorize.Fallback,
		Items:       []Item{},
		Filename:    savedName,
		ContentType: contentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	path, err := s.storage.Path(savedName)
	if err != nil {
		return nil, fmt.Errorf("resolving stored file: %w", err)
	}

	result, err := s.scanner.Scan(ctx, path)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return draft, nil
	}

	applyScan(draft, result)
	draft.Category = s.scorer.Categorize(categorizationInput(draft))
	return draft, nil
}

// applyScan copies OCR-derived fields onto r
func applyScan(r *Receipt, result *scanning.ScanResult) {
	f := result.Fields
	if f.MerchantName != nil {
		r.Merchant = *f.MerchantName
	}
	if f.TotalAmount != nil {
		r.Total = toCents(*f.TotalAmount)
	}
	if f.Date != nil {
		r.Date = *f.Date
	}
	items := make([]Item, 0, len(f.Items))
	for _, it := range f.Items {
		items = append(items, Item{Name: it.Name, Quantity: it.Quantity, Price: toCents(it.Price)})
	}
	r.Items = items
	r.OCRText = result.RawText
	r.OCRConfidence = result.Confidence
}

// CreateReceipt validates and saves a client-supplied receipt, such as a
// manual entry or an edited scan draft. An empty category is computed.
func (s *Service) CreateReceipt(r *Receipt) (*Receipt, error) {
	now := s.timeSource.Now()

	if r.ID == "" {
		r.ID = s.idGenerator.Generate()
	} else if _, err := s.db.GetReceipt(r.ID); err == nil {
		return nil, fmt.Errorf("%w: receipt %s already exists", ErrValidation, r.ID)
	}
	if r.Filename != "" {
		if _, err := s.storage.Path(r.Filename); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	if r.Items == nil {
		r.Items = []Item{}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	if err := s.resolveCategory(r, r.Category); err != nil {
		return nil, err
	}
	if err := s.persist(r, now); err != nil {
		return nil, err
	}
	return r, nil
}

// UploadReceipt scans a file, merges the user's fields over the OCR
// results and saves the receipt.
func (s *Service) UploadReceipt(ctx context.Context, filename string, data []byte, contentType string, overrides Overrides) (*Receipt, error) {
	r, err := s.ScanReceipt(ctx, filename, data, contentType)
	if err != nil {
		return nil, err
	}

	category := ""
	if overrides.Category != nil {
		category = *overrides.Category
	}
	overrides.Category = nil
	applyOverrides(r, overrides)

	err = s.resolveCategory(r, category)
	if err == nil {
		err = s.persist(r, s.timeSource.Now())
	}
	if err != nil {
		if delErr := s.storage.Delete(r.Filename); delErr != nil {
			slog.Warn("Failed to delete file", "filename", r.Filename, "error", delErr)
		}
		return nil, err
	}
	return r, nil
}

// UpdateReceipt merges overrides into an existing receipt. A nil category
// keeps the current one.
func (s *Service) UpdateReceipt(id string, overrides Overrides) (*Receipt, error) {
	current, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}

	r := *current
	applyOverrides(&r, overrides)
	if overrides.Category != nil {
		if err := s.resolveCategory(&r, *overrides.Category); err != nil {
			return nil, err
		}
	}

	now := s.timeSource.Now()
	r.UpdatedAt = now
	if err := s.persist(&r, now); err != nil {
		return nil, err
	}
	return &r, nil
}

func applyOverrides(r *Receipt, o Overrides) {
	if o.Merchant != nil {
		r.Merchant = strings.TrimSpace(*o.Merchant)
	}
	if o.Total != nil {
		r.Total = *o.Total
	}
	if o.Date != nil {
		r.Date = *o.Date
	}
	if o.Category != nil {
		r.Category = *o.Category
	}
	if o.Description != nil {
		r.Description = strings.TrimSpace(*o.Description)
	}
	if o.Items != nil {
		r.Items = o.Items
	}
}

// resolveCategory sets r.Category from name, scoring the receipt when name
// is empty. Unknown names are rejected.
func (s *Service) resolveCategory(r *Receipt, name string) error {
	if strings.TrimSpace(name) == "" {
		r.Category = s.scorer.Categorize(categorizationInput(r))
		return nil
	}
	canonical, ok := s.scorer.Canonical(name)
	if !ok {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, name)
	}
	r.Category = canonical
	return nil
}

// persist applies the date policy, validates and saves r
func (s *Service) persist(r *Receipt, now time.Time) error {
	switch {
	case r.Date.IsZero():
		r.Date = now
	case r.Date.After(now):
		slog.Info("Clamping future receipt date", "id", r.ID, "date", r.Date)
		r.Date = now
	}

	if err := validate(r); err != nil {
		return err
	}
	if err := s.db.SaveReceipt(r); err != nil {
		return fmt.Errorf("saving receipt to database: %w", err)
	}
	s.invalidateAnalytics()
	return nil
}

func validate(r *Receipt) error {
	if r.Total < 0 {
		return fmt.Errorf("%w: total must not be negative", ErrValidation)
	}
	for i, it := range r.Items {
		if strings.TrimSpace(it.Name) == "" {
			return fmt.Errorf("%w: item %d has no name", ErrValidation, i)
		}
		if it.Price < 0 || it.Quantity < 0 {
			return fmt.Errorf("%w: item %q has a negative price or quantity", ErrValidation, it.Name)
		}
	}
	return nil
}

func categorizationInput(r *Receipt) categorize.Input {
	in := categorize.Input{
		MerchantName: r.Merchant,
		Description:  r.Description,
		Items:        make([]categorize.Item, 0, len(r.Items)),
	}
	for _, it := range r.Items {
		in.Items = append(in.Items, categorize.Item{Name: it.Name, Price: toDollars(it.Price)})
	}
	return in
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns the receipts matching filter, newest first
func (s *Service) ListReceipts(filter Filter) ([]*Receipt, error) {
	all, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}

	receipts := make([]*Receipt, 0, len(all))
	for _, r := range all {
		if filter.Match(r) {
			receipts = append(receipts, r)
		}
	}
	sort.SliceStable(receipts, func(i, j int) bool {
		a, b := receipts[i], receipts[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return receipts, nil
}

// DeleteReceipt removes a receipt and its file
func (s *Service) DeleteReceipt(id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if receipt.Filename != "" {
		if err := s.storage.Delete(receipt.Filename); err != nil {
			// Log error but continue with database deletion
			slog.Warn("Failed to delete file", "filename", receipt.Filename, "error", err)
		}
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	s.invalidateAnalytics()
	return nil
}

// GetReceiptFile retrieves the file data for a receipt
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.Filename == "" {
		return nil, "", fmt.Errorf("%w: receipt %s has no file", ErrNotFound, id)
	}

	data, err := s.storage.Get(receipt.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}

	return data, receipt.ContentType, nil
}

// Categorize suggests a category for in
func (s *Service) Categorize(in categorize.Input) string {
	return s.scorer.Categorize(in)
}

// Categories lists every assignable category
func (s *Service) Categories() []string {
	return s.scorer.Categories()
}
