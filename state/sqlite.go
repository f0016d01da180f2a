package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/taskforge/taskforge/types"
)

// stateEntry is the persisted row model.
type stateEntry struct {
	Key       string    `gorm:"primaryKey;column:key"`
	Value     string    `gorm:"column:value;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (stateEntry) TableName() string { return "state" }

// SQLiteStore persists state in a single embedded database file.
// Increment runs inside a transaction guarded by a process mutex; the
// store is single-process by design, so this is sufficient for the
// no-lost-updates contract.
type SQLiteStore struct {
	db     *gorm.DB
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewSQLiteStore opens (creating if needed) the database at path and
// migrates the schema. An empty path defaults to
// $HOME/.taskforge/state.db.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, ".taskforge", "state.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path+"?_pragma=journal_mode(WAL)"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.AutoMigrate(&stateEntry{}); err != nil {
		return nil, fmt.Errorf("migrate state schema: %w", err)
	}

	logger.Info("state store opened",
		zap.String("backend", "sqlite"),
		zap.String("path", path))

	return &SQLiteStore{
		db:     db,
		path:   path,
		logger: logger.With(zap.String("component", "state_sqlite")),
	}, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value any) error {
	encoded, err := encodeValue(value)
	if err != nil {
		return err
	}
	return s.upsert(ctx, key, encoded)
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (any, error) {
	var entry stateEntry
	err := s.db.WithContext(ctx).First(&entry, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeValue(entry.Value), nil
}

func (s *SQLiteStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry stateEntry
		err := tx.First(&entry, "key = ?", key).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		next = parseCounter(entry.Value) + delta
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&stateEntry{
			Key:       key,
			Value:     strconv.FormatInt(next, 10),
			UpdatedAt: time.Now(),
		}).Error
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&stateEntry{}, "key = ?", key).Error
}

func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&stateEntry{}).Where("key = ?", key).Count(&total).Error
	if err != nil {
		return false, err
	}
	return total > 0, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&stateEntry{}).Error
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&stateEntry{}).Count(&total).Error; err != nil {
		return Stats{}, err
	}
	return Stats{TotalKeys: total, Backend: "sqlite"}, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) upsert(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&stateEntry{Key: key, Value: value, UpdatedAt: time.Now()}).Error
}
