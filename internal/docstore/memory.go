package docstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps tables in process memory. Used for local development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]Item
}

// NewMemoryStore constructs an empty MemoryStore with no provisioned tables.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]map[string]Item)}
}

// CreateTable provisions table; creating an existing table keeps its items.
func (s *MemoryStore) CreateTable(_ context.Context, table Table) error {
	if err := table.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[table.Name]; !ok {
		s.tables[table.Name] = make(map[string]Item)
	}
	return nil
}

// DropTable removes a table and its items.
func (s *MemoryStore) DropTable(_ context.Context, table Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables, table.Name)
	return nil
}

// PutItem stores item under its key, replacing any previous item.
func (s *MemoryStore) PutItem(ctx context.Context, table Table, item Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := itemKey(table, item)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.tables[table.Name]
	if !ok {
		return tableNotFound(table)
	}
	rows[key] = copyItem(item)
	return nil
}

// CreateItem stores item only when nothing is stored under its key yet.
func (s *MemoryStore) CreateItem(ctx context.Context, table Table, item Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := itemKey(table, item)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.tables[table.Name]
	if !ok {
		return tableNotFound(table)
	}
	if _, exists := rows[key]; exists {
		return ErrConditionFailed
	}
	rows[key] = copyItem(item)
	return nil
}

// GetItem returns a copy of the item stored under key.
func (s *MemoryStore) GetItem(ctx context.Context, table Table, key string) (Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, ok := s.tables[table.Name]
	if !ok {
		return nil, tableNotFound(table)
	}
	item, ok := rows[key]
	if !ok {
		return nil, ErrItemNotFound
	}
	return copyItem(item), nil
}

// ScanItems returns copies of the items matching filter, ordered by key.
func (s *MemoryStore) ScanItems(ctx context.Context, table Table, filter Filter) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, ok := s.tables[table.Name]
	if !ok {
		return nil, tableNotFound(table)
	}
	keys := make([]string, 0, len(rows))
	for key := range rows {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	items := make([]Item, 0, len(keys))
	for _, key := range keys {
		if filter.Matches(rows[key]) {
			items = append(items, copyItem(rows[key]))
		}
	}
	return items, nil
}

// UpdateItem merges changes into the item when every condition holds.
func (s *MemoryStore) UpdateItem(ctx context.Context, table Table, key string, changes Item, conditions ...Condition) (Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.tables[table.Name]
	if !ok {
		return nil, tableNotFound(table)
	}
	existing, ok := rows[key]
	if !ok {
		return nil, ErrItemNotFound
	}
	if err := checkConditions(existing, conditions); err != nil {
		return nil, err
	}
	updated := applyChanges(existing, changes)
	updated[table.KeyAttribute] = key
	rows[key] = updated
	return copyItem(updated), nil
}

// DeleteItem removes the item stored under key. Missing items are ignored.
func (s *MemoryStore) DeleteItem(ctx context.Context, table Table, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.tables[table.Name]
	if !ok {
		return tableNotFound(table)
	}
	delete(rows, key)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
