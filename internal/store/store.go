package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gmsas95/paperflow/internal/config"
)

// Store provides unified access to the SQLite catalog and the BadgerDB memo
type Store struct {
	db     *gorm.DB
	badger *badger.DB
	config *config.StorageConfig
}

// New creates a new Store instance
func New(cfg *config.Config) (*Store, error) {
	sqlitePath := cfg.Storage.SQLitePath
	if sqlitePath == "" {
		sqlitePath = filepath.Join(cfg.Storage.DataDir, "paperflow.db")
	}

	sqliteDB, err := sql.Open("sqlite", sqlitePath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	sqliteDB.SetMaxOpenConns(10)
	sqliteDB.SetMaxIdleConns(5)
	sqliteDB.SetConnMaxLifetime(time.Hour)

	db, err := gorm.Open(sqlite.Dialector{Conn: sqliteDB}, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	badgerPath := cfg.Storage.BadgerPath
	if badgerPath == "" {
		badgerPath = filepath.Join(cfg.Storage.DataDir, "badger")
	}

	badgerOpts := badger.DefaultOptions(badgerPath).
		WithLogger(nil).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true).
		WithValueLogFileSize(16 << 20).
		WithMemTableSize(16 << 20)

	badgerDB, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{
		db:     db,
		badger: badgerDB,
		config: &cfg.Storage,
	}, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Correspondent{},
		&DocumentType{},
		&Tag{},
		&Document{},
		&ClassificationField{},
		&ExtractedValue{},
		&ExtractionHistory{},
		&ExtractionAudit{},
	); err != nil {
		return err
	}

	// A checksum may only appear once among live documents; superseded rows
	// keep theirs so a rescan can re-import the same bytes.
	indexes := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_live_checksum ON documents(checksum) WHERE superseded = 0",
		"CREATE INDEX IF NOT EXISTS idx_history_lookup ON extraction_history(field_id, correspondent_id, confidence DESC, times_used DESC)",
	}
	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}
	return nil
}

// Close closes all database connections
func (s *Store) Close() error {
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
	return s.badger.Close()
}

// DB returns the GORM database instance
func (s *Store) DB() *gorm.DB {
	return s.db
}

// ==================== Checksum memo (BadgerDB) ====================

func checksumKey(path string, size int64, modTime time.Time) []byte {
	return []byte("checksum:" + path + ":" + strconv.FormatInt(size, 10) + ":" + strconv.FormatInt(modTime.UnixNano(), 10))
}

// GetChecksumMemo returns the memoized md5 for a file identity, or "" when
// the file was never hashed with this exact size and mtime.
func (s *Store) GetChecksumMemo(path string, size int64, modTime time.Time) (string, error) {
	var val []byte
	err := s.badger.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checksumKey(path, size, modTime))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			val = append([]byte{}, v...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return "", nil
	}
	return string(val), err
}

// SetChecksumMemo stores the md5 for a file identity. Entries expire after a
// month so paths of files long gone do not accumulate.
func (s *Store) SetChecksumMemo(path string, size int64, modTime time.Time, checksum string) error {
	return s.badger.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(checksumKey(path, size, modTime), []byte(checksum)).WithTTL(30 * 24 * time.Hour)
		return txn.SetEntry(e)
	})
}
