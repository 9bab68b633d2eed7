package bucket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gorm.io/gorm"
)

// bucketEntry is the GORM model for one stored response.
type bucketEntry struct {
	ID       uint      `gorm:"primaryKey;column:id"`
	Bucket   string    `gorm:"column:bucket;uniqueIndex:idx_bucket_url,priority:1;index:idx_bucket;not null"`
	URL      string    `gorm:"column:url;uniqueIndex:idx_bucket_url,priority:2;not null"`
	Status   int       `gorm:"column:status;not null"`
	Headers  string    `gorm:"column:headers;type:text"`
	Body     []byte    `gorm:"column:body"`
	StoredAt time.Time `gorm:"column:stored_at;not null"`
}

// TableName returns the GORM table name.
func (bucketEntry) TableName() string { return "bucket_entries" }

// DBStore persists bucket entries in the gateway database.
type DBStore struct {
	db *gorm.DB
}

// NewDBStore creates a DBStore.
func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

// AutoMigrate creates or updates the bucket_entries table.
func (s *DBStore) AutoMigrate() error {
	return s.db.AutoMigrate(&bucketEntry{})
}

// Put stores an entry, replacing any existing entry for the same URL.
func (s *DBStore) Put(ctx context.Context, bucketID string, e *Entry) error {
	headers, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("encode headers for %s: %w", e.URL, err)
	}

	storedAt := e.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing bucketEntry
		err := tx.Where("bucket = ? AND url = ?", bucketID, e.URL).First(&existing).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			row := bucketEntry{
				Bucket:   bucketID,
				URL:      e.URL,
				Status:   e.Status,
				Headers:  string(headers),
				Body:     append([]byte(nil), e.Body...),
				StoredAt: storedAt,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("store entry %s: %w", e.URL, err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("check entry %s: %w", e.URL, err)
		}

		existing.Status = e.Status
		existing.Headers = string(headers)
		existing.Body = append([]byte(nil), e.Body...)
		existing.StoredAt = storedAt
		if err := tx.Save(&existing).Error; err != nil {
			return fmt.Errorf("refresh entry %s: %w", e.URL, err)
		}
		return nil
	})
}

// Get returns the entry stored under url, or ErrNotFound.
func (s *DBStore) Get(ctx context.Context, bucketID, url string) (*Entry, error) {
	var row bucketEntry
	err := s.db.WithContext(ctx).
		Where("bucket = ? AND url = ?", bucketID, url).
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%s in bucket %s: %w", url, bucketID, ErrNotFound)
		}
		return nil, fmt.Errorf("get entry %s: %w", url, err)
	}

	header := http.Header{}
	if row.Headers != "" {
		if err := json.Unmarshal([]byte(row.Headers), &header); err != nil {
			return nil, fmt.Errorf("decode headers for %s: %w", url, err)
		}
	}

	return &Entry{
		URL:      row.URL,
		Status:   row.Status,
		Header:   header,
		Body:     append([]byte(nil), row.Body...),
		StoredAt: row.StoredAt,
	}, nil
}

// Delete removes a single entry. Missing entries are ignored.
func (s *DBStore) Delete(ctx context.Context, bucketID, url string) error {
	err := s.db.WithContext(ctx).
		Where("bucket = ? AND url = ?", bucketID, url).
		Delete(&bucketEntry{}).Error
	if err != nil {
		return fmt.Errorf("delete entry %s: %w", url, err)
	}
	return nil
}

// List returns every entry URL in the bucket, sorted.
func (s *DBStore) List(ctx context.Context, bucketID string) ([]string, error) {
	var urls []string
	err := s.db.WithContext(ctx).Model(&bucketEntry{}).
		Where("bucket = ?", bucketID).
		Order("url ASC").
		Pluck("url", &urls).Error
	if err != nil {
		return nil, fmt.Errorf("list bucket %s: %w", bucketID, err)
	}
	return urls, nil
}

// Buckets returns the identities of all buckets holding entries, sorted.
func (s *DBStore) Buckets(ctx context.Context) ([]string, error) {
	var buckets []string
	err := s.db.WithContext(ctx).Model(&bucketEntry{}).
		Distinct("bucket").
		Order("bucket ASC").
		Pluck("bucket", &buckets).Error
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	return buckets, nil
}

// DeleteBucket removes a bucket and all its entries.
func (s *DBStore) DeleteBucket(ctx context.Context, bucketID string) error {
	err := s.db.WithContext(ctx).
		Where("bucket = ?", bucketID).
		Delete(&bucketEntry{}).Error
	if err != nil {
		return fmt.Errorf("delete bucket %s: %w", bucketID, err)
	}
	return nil
}

// Len returns the number of entries in the bucket.
func (s *DBStore) Len(ctx context.Context, bucketID string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&bucketEntry{}).
		Where("bucket = ?", bucketID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count bucket %s: %w", bucketID, err)
	}
	return int(n), nil
}

// Compile-time interface check.
var _ Store = (*DBStore)(nil)
