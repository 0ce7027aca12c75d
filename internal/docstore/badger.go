package docstore

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const (
	badgerTablePrefix    = "t:"
	badgerDocumentPrefix = "d:"
	badgerUpdateRetries  = 5
)

// BadgerStore keeps tables in a Badger key/value database. A table exists once
// its marker key has been written; documents live under a per-table prefix.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens a Badger database at path, or an in-memory one when path is empty.
func NewBadgerStore(path string, logger *zap.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := badger.DefaultOptions(path).
		WithLogger(&badgerLogger{sugar: logger.Sugar()}).
		WithLoggingLevel(badger.WARNING)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("docstore: open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func tableMarker(table Table) []byte {
	return []byte(badgerTablePrefix + table.Name)
}

func documentPrefix(table Table) []byte {
	return []byte(badgerDocumentPrefix + table.Name + ":")
}

func documentKey(table Table, key string) []byte {
	return append(documentPrefix(table), key...)
}

func requireTable(txn *badger.Txn, table Table) error {
	_, err := txn.Get(tableMarker(table))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return tableNotFound(table)
	}
	return err
}

// CreateTable writes the table marker.
func (s *BadgerStore) CreateTable(_ context.Context, table Table) error {
	if err := table.validate(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(tableMarker(table), []byte(table.KeyAttribute))
	})
}

// PutItem stores item under its key, replacing any previous document.
func (s *BadgerStore) PutItem(ctx context.Context, table Table, item Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := itemKey(table, item)
	if err != nil {
		return err
	}
	encoded, err := encodeItem(item)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := requireTable(txn, table); err != nil {
			return err
		}
		return txn.Set(documentKey(table, key), encoded)
	})
}

// CreateItem stores item only when no document exists under its key. Two
// racing creates conflict at commit; the retry then sees the winner's document.
func (s *BadgerStore) CreateItem(ctx context.Context, table Table, item Item) error {
	key, err := itemKey(table, item)
	if err != nil {
		return err
	}
	encoded, err := encodeItem(item)
	if err != nil {
		return err
	}
	for attempt := 0; attempt < badgerUpdateRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			if err := requireTable(txn, table); err != nil {
				return err
			}
			_, err := txn.Get(documentKey(table, key))
			switch {
			case err == nil:
				return ErrConditionFailed
			case !errors.Is(err, badger.ErrKeyNotFound):
				return err
			}
			return txn.Set(documentKey(table, key), encoded)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	return err
}

// GetItem reads the document stored under key.
func (s *BadgerStore) GetItem(ctx context.Context, table Table, key string) (Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var item Item
	err := s.db.View(func(txn *badger.Txn) error {
		if err := requireTable(txn, table); err != nil {
			return err
		}
		var err error
		item, err = readDocument(txn, table, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func readDocument(txn *badger.Txn, table Table, key string) (Item, error) {
	entry, err := txn.Get(documentKey(table, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	raw, err := entry.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return decodeItem(raw)
}

// ScanItems iterates the table prefix and keeps documents matching filter.
func (s *BadgerStore) ScanItems(ctx context.Context, table Table, filter Filter) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items := make([]Item, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		if err := requireTable(txn, table); err != nil {
			return err
		}
		prefix := documentPrefix(table)
		iter := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			raw, err := iter.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			item, err := decodeItem(raw)
			if err != nil {
				return err
			}
			if filter.Matches(item) {
				items = append(items, item)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateItem merges changes into the stored document when every condition
// holds, retrying on transaction conflicts.
func (s *BadgerStore) UpdateItem(ctx context.Context, table Table, key string, changes Item, conditions ...Condition) (Item, error) {
	var updated Item
	var err error
	for attempt := 0; attempt < badgerUpdateRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			if err := requireTable(txn, table); err != nil {
				return err
			}
			existing, err := readDocument(txn, table, key)
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
			return txn.Set(documentKey(table, key), encoded)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteItem removes the document stored under key.
func (s *BadgerStore) DeleteItem(ctx context.Context, table Table, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := requireTable(txn, table); err != nil {
			return err
		}
		return txn.Delete(documentKey(table, key))
	})
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger adapts zap to badger's logger interface.
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...any)   { l.sugar.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...any) { l.sugar.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...any)    { l.sugar.Infof(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...any)   { l.sugar.Debugf(format, args...) }
