package app

import (
	"bytes"
	"encoding/json"
)

// Field is a patch value that distinguishes an absent key from an explicit
// null. The zero value is absent.
type Field[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Value returns a present, non-null field.
func Value[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}

// Null returns a present field that asks for the value to be cleared.
func Null[T any]() Field[T] {
	return Field[T]{Set: true, Null: true}
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.Null = true
		var zero T
		f.Value = zero
		return nil
	}
	f.Null = false
	return json.Unmarshal(data, &f.Value)
}

// applyNullable updates an optional column: null clears it, a value sets it.
func applyNullable(current *string, field Field[string]) *string {
	if !field.Set {
		return current
	}
	if field.Null {
		return nil
	}
	value := field.Value
	return &value
}
