package domain

import (
	"encoding/json"
	"fmt"
)

// Load decodes the JSON value stored under key. The boolean is false when the
// key is absent.
func Load[T any](kv TransactionView, key []byte) (T, bool, error) {
	var out T
	raw, ok := kv.Get(key)
	if !ok {
		return out, false, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("decode %x: %w", key, err)
	}
	return out, true, nil
}

// Save encodes v as JSON under key.
func Save(kv KV, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %x: %w", key, err)
	}
	kv.Put(key, raw)
	return nil
}
