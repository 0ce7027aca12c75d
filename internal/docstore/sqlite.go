package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnPK  = "pk"
	columnDoc = "doc"
	queryPK   = columnPK + " = ?"
)

// documentRow is the physical row shape shared by every logical table.
type documentRow struct {
	PK  string `gorm:"column:pk;primaryKey;size:190;not null"`
	Doc string `gorm:"column:doc;type:text;not null"`
}

// SQLiteStore maps each logical table onto one SQLite table of JSON documents.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore wraps an open gorm connection.
func NewSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("docstore: database handle is required")
	}
	return &SQLiteStore{db: db}, nil
}

// CreateTable creates the backing table for table if it does not exist yet.
func (s *SQLiteStore) CreateTable(ctx context.Context, table Table) error {
	if err := table.validate(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Table(table.Name).AutoMigrate(&documentRow{})
}

// PutItem upserts item under its key.
func (s *SQLiteStore) PutItem(ctx context.Context, table Table, item Item) error {
	key, err := itemKey(table, item)
	if err != nil {
		return err
	}
	encoded, err := encodeItem(item)
	if err != nil {
		return err
	}
	row := documentRow{PK: key, Doc: string(encoded)}
	err = s.db.WithContext(ctx).
		Table(table.Name).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: columnPK}},
			DoUpdates: clause.AssignmentColumns([]string{columnDoc}),
		}).
		Create(&row).Error
	return classifySQLiteError(table, err)
}

// CreateItem inserts item unless a document already exists under its key.
func (s *SQLiteStore) CreateItem(ctx context.Context, table Table, item Item) error {
	key, err := itemKey(table, item)
	if err != nil {
		return err
	}
	encoded, err := encodeItem(item)
	if err != nil {
		return err
	}
	row := documentRow{PK: key, Doc: string(encoded)}
	result := s.db.WithContext(ctx).
		Table(table.Name).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: columnPK}},
			DoNothing: true,
		}).
		Create(&row)
	if result.Error != nil {
		return classifySQLiteError(table, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConditionFailed
	}
	return nil
}

// GetItem loads and decodes the document stored under key.
func (s *SQLiteStore) GetItem(ctx context.Context, table Table, key string) (Item, error) {
	var row documentRow
	err := s.db.WithContext(ctx).Table(table.Name).Where(queryPK, key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, classifySQLiteError(table, err)
	}
	return decodeItem([]byte(row.Doc))
}

// ScanItems decodes every document in key order and keeps those matching filter.
func (s *SQLiteStore) ScanItems(ctx context.Context, table Table, filter Filter) ([]Item, error) {
	var rows []documentRow
	if err := s.db.WithContext(ctx).Table(table.Name).Order(columnPK + " ASC").Find(&rows).Error; err != nil {
		return nil, classifySQLiteError(table, err)
	}
	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		item, err := decodeItem([]byte(row.Doc))
		if err != nil {
			return nil, fmt.Errorf("docstore: decode %s/%s: %w", table.Name, row.PK, err)
		}
		if filter.Matches(item) {
			items = append(items, item)
		}
	}
	return items, nil
}

// UpdateItem merges changes into the stored document inside a transaction
// when every condition holds.
func (s *SQLiteStore) UpdateItem(ctx context.Context, table Table, key string, changes Item, conditions ...Condition) (Item, error) {
	var updated Item
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row documentRow
		err := tx.Table(table.Name).Where(queryPK, key).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrItemNotFound
		}
		if err != nil {
			return err
		}
		existing, err := decodeItem([]byte(row.Doc))
		if err != nil {
			return err
		}
		if err := checkConditions(existing, conditions); err != nil {
			return err
		}
		updated = applyChanges(existing, changes)
		updated[table.KeyAttribute] = key
		encoded, err := encodeItem(updated)
		if err != nil {
			return err
		}
		return tx.Table(table.Name).Where(queryPK, key).Update(columnDoc, string(encoded)).Error
	})
	if txErr != nil {
		return nil, classifySQLiteError(table, txErr)
	}
	return updated, nil
}

// DeleteItem removes the document stored under key.
func (s *SQLiteStore) DeleteItem(ctx context.Context, table Table, key string) error {
	err := s.db.WithContext(ctx).Table(table.Name).Where(queryPK, key).Delete(&documentRow{}).Error
	return classifySQLiteError(table, err)
}

// Close is a no-op; the gorm connection is owned by the caller.
func (s *SQLiteStore) Close() error {
	return nil
}

func classifySQLiteError(table Table, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrItemNotFound) || errors.Is(err, ErrConditionFailed) {
		return err
	}
	if strings.Contains(strings.ToLower(err.Error()), "no such table") {
		return fmt.Errorf("%w: %s: %v", ErrTableNotFound, table.Name, err)
	}
	return err
}
