package store

import (
	"fmt"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nearautopilot/internal/errs"
)

// kvRow is the one-row-per-key table backing SQLiteStore: a single
// generic key/value table rather than a schema per record type, since the
// store contract is a flat keyed map.
type kvRow struct {
	Key   string `gorm:"primaryKey;column:key"`
	Value string `gorm:"column:value"`
}

func (kvRow) TableName() string { return "kv_entries" }

// SQLiteStore is the indexed driver: one row per key, suited to larger
// marker sets than the whole-file rewrite of FileStore. Presents identical
// semantics to FileStore.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (creating and migrating if absent) a SQLiteStore backed
// by the database file at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errs.New(errs.StateStoreError, "store.OpenSQLite", fmt.Errorf("open sqlite: %w", err))
	}
	if err := db.AutoMigrate(&kvRow{}); err != nil {
		return nil, errs.New(errs.StateStoreError, "store.OpenSQLite", fmt.Errorf("migrate sqlite: %w", err))
	}
	return &SQLiteStore{db: db}, nil
}

// Get returns the value for key, or ok=false if absent.
func (s *SQLiteStore) Get(key string) (string, bool, error) {
	var row kvRow
	err := s.db.First(&row, "key = ?", key).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", false, nil
		}
		return "", false, errs.New(errs.StateStoreError, "store.Get", err)
	}
	return row.Value, true, nil
}

// Set upserts value under key. gorm's Save performs the upsert by primary
// key, and sqlite's own journal guarantees the per-row write is atomic —
// a crash mid-write never leaves a torn row.
func (s *SQLiteStore) Set(key, value string) error {
	row := kvRow{Key: key, Value: value}
	if err := s.db.Save(&row).Error; err != nil {
		return errs.New(errs.StateStoreError, "store.Set", err)
	}
	return nil
}

// Del removes key, if present.
func (s *SQLiteStore) Del(key string) error {
	if err := s.db.Delete(&kvRow{}, "key = ?", key).Error; err != nil {
		return errs.New(errs.StateStoreError, "store.Del", err)
	}
	return nil
}

// likeEscaper neutralizes LIKE wildcards in a key prefix. The marker keys
// are full of underscores, which LIKE would otherwise treat as
// single-character wildcards.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Keys returns every key sharing the given prefix, sorted for determinism.
func (s *SQLiteStore) Keys(prefix string) ([]string, error) {
	var rows []kvRow
	escaped := likeEscaper.Replace(prefix)
	if err := s.db.Where(`key LIKE ? ESCAPE '\'`, escaped+"%").Order("key ASC").Find(&rows).Error; err != nil {
		return nil, errs.New(errs.StateStoreError, "store.Keys", err)
	}
	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, r.Key)
	}
	return keys, nil
}

// Close releases the underlying sqlite connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errs.New(errs.StateStoreError, "store.Close", err)
	}
	return sqlDB.Close()
}
