// Package docstore provides a key/value document table abstraction with
// interchangeable in-memory, SQLite, and Badger backends.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
)

var (
	// ErrTableNotFound indicates the logical table has not been provisioned.
	ErrTableNotFound = errors.New("docstore: table not found")
	// ErrItemNotFound indicates no item exists for the key.
	ErrItemNotFound = errors.New("docstore: item not found")
	// ErrConditionFailed indicates an update condition did not hold, or that
	// CreateItem found an item already stored under the key.
	ErrConditionFailed = errors.New("docstore: condition failed")
	// ErrInvalidTable indicates a malformed table descriptor.
	ErrInvalidTable = errors.New("docstore: invalid table")
	// ErrMissingKey indicates an item without a usable key attribute.
	ErrMissingKey = errors.New("docstore: missing key attribute")
)

var tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Item is a JSON-shaped document.
type Item map[string]any

// Table describes a logical table and the attribute holding its primary key.
type Table struct {
	Name         string
	KeyAttribute string
}

func (t Table) validate() error {
	if !tableNamePattern.MatchString(t.Name) {
		return fmt.Errorf("%w: name %q", ErrInvalidTable, t.Name)
	}
	if t.KeyAttribute == "" {
		return fmt.Errorf("%w: key attribute required for %s", ErrInvalidTable, t.Name)
	}
	return nil
}

// Condition is an equality predicate on one attribute.
type Condition struct {
	Attribute string
	Value     any
}

// Where builds an equality condition.
func Where(attribute string, value any) Condition {
	return Condition{Attribute: attribute, Value: value}
}

// Filter is a conjunction of conditions. An empty filter matches everything.
type Filter []Condition

// Store is the document store contract consumed by the services. PutItem
// replaces whatever is stored under the key; CreateItem never does and fails
// with ErrConditionFailed instead.
type Store interface {
	CreateTable(ctx context.Context, table Table) error
	PutItem(ctx context.Context, table Table, item Item) error
	CreateItem(ctx context.Context, table Table, item Item) error
	GetItem(ctx context.Context, table Table, key string) (Item, error)
	ScanItems(ctx context.Context, table Table, filter Filter) ([]Item, error)
	UpdateItem(ctx context.Context, table Table, key string, changes Item, conditions ...Condition) (Item, error)
	DeleteItem(ctx context.Context, table Table, key string) error
	Close() error
}

// IsTableNotFound reports whether err classifies as a missing table.
func IsTableNotFound(err error) bool {
	return errors.Is(err, ErrTableNotFound)
}

func tableNotFound(table Table) error {
	return fmt.Errorf("%w: %s", ErrTableNotFound, table.Name)
}

func itemKey(table Table, item Item) (string, error) {
	raw, ok := item[table.KeyAttribute]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingKey, table.KeyAttribute)
	}
	key, ok := raw.(string)
	if !ok || key == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingKey, table.KeyAttribute)
	}
	return key, nil
}

// Matches reports whether the item satisfies every condition of the filter.
func (f Filter) Matches(item Item) bool {
	for _, condition := range f {
		if !condition.holds(item) {
			return false
		}
	}
	return true
}

func (c Condition) holds(item Item) bool {
	actual, present := item[c.Attribute]
	expected := normalizeValue(c.Value)
	if !present {
		return expected == nil
	}
	return reflect.DeepEqual(normalizeValue(actual), expected)
}

// normalizeValue maps a value onto its JSON-decoded shape so typed filter
// values compare equal to stored attributes.
func normalizeValue(value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case string, bool, float64:
		return typed
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var decoded any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return value
	}
	return decoded
}

func encodeItem(item Item) ([]byte, error) {
	return json.Marshal(item)
}

func decodeItem(raw []byte) (Item, error) {
	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, err
	}
	return item, nil
}

// copyItem returns a deep copy that shares no nested maps or slices with the source.
func copyItem(item Item) Item {
	if item == nil {
		return nil
	}
	out := make(Item, len(item))
	for key, value := range item {
		out[key] = copyValue(value)
	}
	return out
}

func copyValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, nested := range typed {
			out[key] = copyValue(nested)
		}
		return out
	case Item:
		return copyItem(typed)
	case []any:
		out := make([]any, len(typed))
		for index, nested := range typed {
			out[index] = copyValue(nested)
		}
		return out
	default:
		return typed
	}
}

func applyChanges(item Item, changes Item) Item {
	updated := copyItem(item)
	for key, value := range changes {
		updated[key] = copyValue(value)
	}
	return updated
}

func checkConditions(item Item, conditions []Condition) error {
	if !Filter(conditions).Matches(item) {
		return ErrConditionFailed
	}
	return nil
}
