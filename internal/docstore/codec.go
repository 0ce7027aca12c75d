package docstore

import (
	"encoding/json"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Marshal converts a typed document into its JSON-shaped item form.
func Marshal(value any) (Item, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("docstore: marshal: %w", err)
	}
	var item Item
	if err := json.Unmarshal(encoded, &item); err != nil {
		return nil, fmt.Errorf("docstore: marshal: %w", err)
	}
	return item, nil
}

// MarshalChanges converts a partial update into item form, keeping only the named attributes.
func MarshalChanges(value any, attributes ...string) (Item, error) {
	item, err := Marshal(value)
	if err != nil {
		return nil, err
	}
	changes := make(Item, len(attributes))
	for _, attribute := range attributes {
		changes[attribute] = item[attribute]
	}
	return changes, nil
}

// Unmarshal decodes an item into target using the json field tags.
func Unmarshal(item Item, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           target,
		WeaklyTypedInput: true,
		Squash:           true,
	})
	if err != nil {
		return fmt.Errorf("docstore: unmarshal: %w", err)
	}
	if err := decoder.Decode(map[string]any(item)); err != nil {
		return fmt.Errorf("docstore: unmarshal: %w", err)
	}
	return nil
}

// UnmarshalAll decodes a slice of items into typed documents.
func UnmarshalAll[T any](items []Item) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, item := range items {
		var value T
		if err := Unmarshal(item, &value); err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}
