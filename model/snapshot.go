package model

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// canonical encodes a value to canonical msgpack bytes (sorted map keys),
// so two structurally equal values always encode identically. This is the
// structural-equality primitive behind in-place mutation detection.
func canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("model: snapshot encode: %w", err)
	}
	return buf.Bytes(), nil
}

// cloneValue deep-clones a value by a msgpack round trip. Used when a
// revision archives a row: the copy must not share nested maps or slices
// with the live record.
func cloneValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := canonical(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := msgpack.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("model: snapshot decode: %w", err)
	}
	return out, nil
}

// takeSnapshot captures the canonical form of every persisted column.
// Refreshed after every successful save.
func (r *Record) takeSnapshot() error {
	r.original = make(map[string][]byte, len(r.data))
	for col, v := range r.data {
		data, err := canonical(v)
		if err != nil {
			return err
		}
		r.original[col] = data
	}
	return nil
}

// detectInPlaceChanges marks columns dirty whose current value differs
// structurally from the load-time snapshot: callers may mutate a nested
// object or array returned by Get without an intervening Set, and those
// edits must still reach the UPDATE.
func (r *Record) detectInPlaceChanges() error {
	for col, v := range r.data {
		if _, dirty := r.changed[col]; dirty {
			continue
		}
		cur, err := canonical(v)
		if err != nil {
			return err
		}
		if prev, ok := r.original[col]; !ok || !bytes.Equal(prev, cur) {
			r.changed[col] = struct{}{}
		}
	}
	return nil
}
