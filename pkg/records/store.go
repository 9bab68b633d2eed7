package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// storeName identifies the formularios store in the schema_info table.
const storeName = "formularios"

// ErrSchemaVersionMismatch is returned when the database was written by a
// newer schema than this build understands.
var ErrSchemaVersionMismatch = errors.New("formularios store schema is newer than this build")

// ErrAlreadySynced is returned when MarkSynced targets a record whose sync
// bookkeeping is already final.
var ErrAlreadySynced = errors.New("record is already synced")

// ErrRecordNotFound is returned when an operation targets a record that does
// not exist.
var ErrRecordNotFound = errors.New("record not found")

// Store provides database operations for form records.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewStore creates a Store. A nil logger falls back to slog.Default.
func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Open migrates the formularios table and stamps the store's schema version.
// A database written by a newer schema returns ErrSchemaVersionMismatch; an
// older stamp is upgraded in place after migration.
func (s *Store) Open(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&FormRecord{}, &schemaInfo{}); err != nil {
		return fmt.Errorf("migrate formularios store: %w", err)
	}

	var info schemaInfo
	err := s.db.WithContext(ctx).First(&info, "name = ?", storeName).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		info = schemaInfo{Name: storeName, Version: SchemaVersion}
		if err := s.db.WithContext(ctx).Create(&info).Error; err != nil {
			return fmt.Errorf("stamp schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case info.Version > SchemaVersion:
		return fmt.Errorf("store has schema v%d, this build supports v%d: %w",
			info.Version, SchemaVersion, ErrSchemaVersionMismatch)
	case info.Version < SchemaVersion:
		s.logger.Info("upgrading formularios store schema",
			"from", info.Version, "to", SchemaVersion)
		if err := s.db.WithContext(ctx).Model(&schemaInfo{}).
			Where("name = ?", storeName).
			Update("version", SchemaVersion).Error; err != nil {
			return fmt.Errorf("upgrade schema version: %w", err)
		}
	}

	return nil
}

// Create persists a new form record. An empty UniqueKey is assigned a fresh
// UUID; Synced always starts false and ServerID empty regardless of input.
func (s *Store) Create(ctx context.Context, rec *FormRecord) error {
	if rec.UniqueKey == "" {
		rec.UniqueKey = uuid.NewString()
	}
	rec.Synced = false
	rec.ServerID = nil
	rec.SyncedAt = nil

	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

// Get retrieves a record by its local ID.
func (s *Store) Get(ctx context.Context, id uint) (*FormRecord, error) {
	var rec FormRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("record %d: %w", id, ErrRecordNotFound)
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return &rec, nil
}

// GetAll returns every record in local ID order.
func (s *Store) GetAll(ctx context.Context) ([]FormRecord, error) {
	var recs []FormRecord
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return recs, nil
}

// Pending returns the records still awaiting sync, oldest first.
func (s *Store) Pending(ctx context.Context) ([]FormRecord, error) {
	var recs []FormRecord
	if err := s.db.WithContext(ctx).
		Where("synced = ?", false).
		Order("id ASC").
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list pending records: %w", err)
	}
	return recs, nil
}

// MarkSynced records a successful submission: synced flips to true, the
// backend ID and sync timestamp are stored. The update is guarded so an
// already-synced record is never rewritten; its chave and server_id stay
// exactly as first recorded.
func (s *Store) MarkSynced(ctx context.Context, id uint, serverID int64, when time.Time) error {
	result := s.db.WithContext(ctx).Model(&FormRecord{}).
		Where("id = ? AND synced = ?", id, false).
		Updates(map[string]any{
			"synced":    true,
			"server_id": serverID,
			"synced_at": when,
		})
	if result.Error != nil {
		return fmt.Errorf("mark record synced: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var rec FormRecord
		if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fmt.Errorf("record %d: %w", id, ErrRecordNotFound)
			}
			return fmt.Errorf("check record: %w", err)
		}
		return fmt.Errorf("record %d: %w", id, ErrAlreadySynced)
	}
	return nil
}

// Count returns the total number of records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&FormRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// PendingCount returns the number of records awaiting sync.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&FormRecord{}).
		Where("synced = ?", false).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count pending records: %w", err)
	}
	return n, nil
}
