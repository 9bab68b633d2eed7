package reconciler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// JournalEntry is the GORM model for one finished reconciliation pass.
type JournalEntry struct {
	ID         uint      `gorm:"primaryKey;column:id" json:"id"`
	Tag        string    `gorm:"column:tag;type:varchar(128)" json:"tag"`
	Trigger    string    `gorm:"column:trigger_source;type:varchar(32)" json:"trigger"`
	StartedAt  time.Time `gorm:"column:started_at" json:"startedAt"`
	DurationMS int64     `gorm:"column:duration_ms" json:"durationMs"`
	Pending    int       `gorm:"column:pending" json:"pending"`
	Submitted  int       `gorm:"column:submitted" json:"submitted"`
	Synced     int       `gorm:"column:synced" json:"synced"`
	Rejected   int       `gorm:"column:rejected" json:"rejected"`
	Errors     int       `gorm:"column:errors" json:"errors"`

	// Detail holds the per-item results as JSON.
	Detail string `gorm:"column:detail;type:text" json:"detail,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
}

// TableName returns the GORM table name.
func (JournalEntry) TableName() string { return "sync_journal" }

// JournalObserver persists pass results so operators can inspect what each
// sync attempt did after the fact.
type JournalObserver struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewJournalObserver creates the observer and migrates its table.
func NewJournalObserver(db *gorm.DB, logger *slog.Logger) (*JournalObserver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&JournalEntry{}); err != nil {
		return nil, err
	}
	return &JournalObserver{db: db, logger: logger}, nil
}

// PassCompleted writes one journal row. Write failures are logged, never
// surfaced: the journal must not interfere with reconciliation.
func (j *JournalObserver) PassCompleted(ctx context.Context, result PassResult) {
	entry := JournalEntry{
		Tag:        result.Tag,
		Trigger:    result.Trigger,
		StartedAt:  result.StartedAt,
		DurationMS: result.Duration.Milliseconds(),
		Pending:    result.Pending,
		Submitted:  result.Submitted,
		Synced:     result.Synced,
		Rejected:   result.Rejected,
		Errors:     result.Errors,
	}
	if result.Err != "" {
		entry.Errors++
	}
	if len(result.Items) > 0 {
		detail, err := json.Marshal(result.Items)
		if err != nil {
			j.logger.Error("failed to encode pass detail", "error", err)
		} else {
			entry.Detail = string(detail)
		}
	}

	if err := j.db.WithContext(ctx).Create(&entry).Error; err != nil {
		j.logger.Error("failed to write sync journal entry", "error", err)
	}
}

// Recent returns the newest entries, most recent first.
func (j *JournalObserver) Recent(ctx context.Context, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	var entries []JournalEntry
	if err := j.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Prune deletes entries created before the cutoff and returns how many went.
func (j *JournalObserver) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res := j.db.WithContext(ctx).Where("created_at < ?", olderThan).Delete(&JournalEntry{})
	return res.RowsAffected, res.Error
}

// RetentionLoop prunes old entries once an hour until the context is
// cancelled. A non-positive retention disables pruning.
func (j *JournalObserver) RetentionLoop(ctx context.Context, retentionDays int) {
	if retentionDays <= 0 {
		j.logger.Info("sync journal retention disabled")
		return
	}

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -retentionDays)
			deleted, err := j.Prune(ctx, cutoff)
			if err != nil {
				j.logger.Error("failed to prune sync journal", "error", err)
			} else if deleted > 0 {
				j.logger.Info("pruned sync journal", "count", deleted)
			}
		}
	}
}

var _ Observer = (*JournalObserver)(nil)
