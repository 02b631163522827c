package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultOrphanAge is how old an unreferenced file must be before removal
const DefaultOrphanAge = 24 * time.Hour

// Janitor removes stored files that no receipt references, such as scan
// drafts that were never saved and leftover OCR artifacts.
type Janitor struct {
	db         DB
	storage    Storage
	grace      time.Duration
	timeSource TimeSource
}

// NewJanitor creates a Janitor. Files younger than grace are kept so that
// drafts under review survive.
func NewJanitor(db DB, storage Storage, grace time.Duration) *Janitor {
	return NewJanitorWithTime(db, storage, grace, defaultTimeSource{})
}

// NewJanitorWithTime creates a Janitor with a custom time source for testing
func NewJanitorWithTime(db DB, storage Storage, grace time.Duration, timeSrc TimeSource) *Janitor {
	if grace <= 0 {
		grace = DefaultOrphanAge
	}
	return &Janitor{db: db, storage: storage, grace: grace, timeSource: timeSrc}
}

// Sweep deletes orphaned files and returns how many were removed
func (j *Janitor) Sweep() (int, error) {
	files, err := j.storage.List()
	if err != nil {
		return 0, err
	}
	receipts, err := j.db.ListReceipts()
	if err != nil {
		return 0, fmt.Errorf("listing receipts: %w", err)
	}

	referenced := make(map[string]struct{}, len(receipts))
	for _, r := range receipts {
		if r.Filename != "" {
			referenced[r.Filename] = struct{}{}
		}
	}

	cutoff := j.timeSource.Now().Add(-j.grace)
	removed := 0
	for _, f := range files {
		if _, ok := referenced[f.Name]; ok || f.ModTime.After(cutoff) {
			continue
		}
		if err := j.storage.Delete(f.Name); err != nil {
			slog.Warn("Failed to remove orphaned file", "filename", f.Name, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Run sweeps every interval until ctx is done
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := j.Sweep()
			if err != nil {
				slog.Error("Storage sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.Info("Removed orphaned files", "count", removed)
			}
		}
	}
}
