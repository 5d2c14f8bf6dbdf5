package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eternallink/arlink/internal/model"
)

// Entry is one cached video.
type Entry struct {
	Key         string `gorm:"primaryKey;size:191"`
	Data        []byte
	ContentType string `gorm:"size:128"`
	Size        int64
	Meta        datatypes.JSONMap
	CreatedAt   time.Time
}

// TableName implements gorm's tabler.
func (Entry) TableName() string {
	return "video_cache_entries"
}

// DBStore persists entries in a SQL database through gorm.
type DBStore struct {
	db  *gorm.DB
	log zerolog.Logger
}

// NewDBStore migrates the cache table and returns the store.
func NewDBStore(db *gorm.DB, log zerolog.Logger) (*DBStore, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate cache table: %w", err)
	}
	return &DBStore{db: db, log: log}, nil
}

// Get loads the entry stored under key.
func (s *DBStore) Get(ctx context.Context, key string) (model.Blob, bool, error) {
	var e Entry
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Blob{}, false, nil
	}
	if err != nil {
		return model.Blob{}, false, fmt.Errorf("cache read %s: %w", key, err)
	}
	return model.Blob{Data: e.Data, ContentType: e.ContentType}, true, nil
}

// Set upserts the entry in a single transaction.
func (s *DBStore) Set(ctx context.Context, key string, b model.Blob) error {
	e := Entry{
		Key:         key,
		Data:        b.Data,
		ContentType: b.ContentType,
		Size:        int64(len(b.Data)),
		Meta:        datatypes.JSONMap{"source": "download"},
		CreatedAt:   time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "content_type", "size", "meta"}),
		}).Create(&e).Error
	})
	if err != nil {
		return fmt.Errorf("cache write %s: %w", key, err)
	}
	s.log.Debug().Str("key", key).Int64("bytes", e.Size).Msg("Cached video")
	return nil
}

// Stats reports entry count and total bytes.
func (s *DBStore) Stats(ctx context.Context) (count int64, bytes int64, err error) {
	var out struct {
		Count int64
		Bytes int64
	}
	err = s.db.WithContext(ctx).Model(&Entry{}).
		Select("COUNT(*) AS count, COALESCE(SUM(size), 0) AS bytes").
		Scan(&out).Error
	if err != nil {
		return 0, 0, fmt.Errorf("cache stats: %w", err)
	}
	return out.Count, out.Bytes, nil
}
