package model

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Optional holds a value that may be absent. The zero value is absent.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some returns a present Optional
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

// None returns an absent Optional
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

// IsSome reports whether the value is present
func (o Optional[T]) IsSome() bool {
	return o.ok
}

// OrElse returns the value, or fallback when absent
func (o Optional[T]) OrElse(fallback T) T {
	if o.ok {
		return o.value
	}
	return fallback
}

// MarshalJSON encodes an absent value as null
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.ok {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON treats null as absent
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Optional[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode optional: %w", err)
	}
	*o = Some(v)
	return nil
}

// MarshalYAML encodes an absent value as null
func (o Optional[T]) MarshalYAML() (interface{}, error) {
	if !o.ok {
		return nil, nil
	}
	return o.value, nil
}

// UnmarshalYAML treats null and empty nodes as absent
func (o *Optional[T]) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" || (node.Kind == yaml.ScalarNode && node.Value == "") {
		*o = Optional[T]{}
		return nil
	}
	var v T
	if err := node.Decode(&v); err != nil {
		return fmt.Errorf("decode optional: %w", err)
	}
	*o = Some(v)
	return nil
}
