package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/docstore"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store drivers understood by OpenStore.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// StoreConfig selects and locates the document store backend.
type StoreConfig struct {
	Driver     string
	SQLitePath string
	BadgerPath string
}

// OpenSQLite establishes a SQLite connection for the document store.
func OpenSQLite(path string, log *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if log != nil {
		log.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// OpenStore opens the configured backend. Closing the returned store releases
// the underlying connection.
func OpenStore(cfg StoreConfig, log *zap.Logger) (docstore.Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch cfg.Driver {
	case DriverMemory:
		log.Warn("using in-memory document store; data is lost on exit")
		return docstore.NewMemoryStore(), nil
	case DriverSQLite:
		db, err := OpenSQLite(cfg.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		store, err := docstore.NewSQLiteStore(db)
		if err != nil {
			return nil, err
		}
		return &ownedSQLiteStore{SQLiteStore: store, db: db}, nil
	case DriverBadger:
		store, err := docstore.NewBadgerStore(cfg.BadgerPath, log)
		if err != nil {
			return nil, err
		}
		log.Info("badger store opened", zap.String("path", cfg.BadgerPath))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

type ownedSQLiteStore struct {
	*docstore.SQLiteStore
	db *gorm.DB
}

func (s *ownedSQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
