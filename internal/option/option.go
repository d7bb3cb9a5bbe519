// Package option provides a tagged optional type used to normalize the
// backend's polymorphic optional encodings at the remote boundary. Optionals
// arrive in several shapes (absent, null, empty array, single-element array,
// tagged some/none object, raw value); the rest of the codebase only ever
// sees Present or Absent.
package option

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Option holds either a value (Present) or nothing (Absent).
type Option[T any] struct {
	value   T
	present bool
}

// Some returns a present option wrapping v.
func Some[T any](v T) Option[T] {
	return Option[T]{value: v, present: true}
}

// None returns an absent option.
func None[T any]() Option[T] {
	return Option[T]{}
}

// Present reports whether a value is held.
func (o Option[T]) Present() bool { return o.present }

// Get returns the value and whether it is present.
func (o Option[T]) Get() (T, bool) { return o.value, o.present }

// OrZero returns the value, or T's zero value when absent.
func (o Option[T]) OrZero() T { return o.value }

// Or returns the value, or fallback when absent.
func (o Option[T]) Or(fallback T) T {
	if o.present {
		return o.value
	}
	return fallback
}

// MarshalJSON encodes Present as the raw value and Absent as null.
func (o Option[T]) MarshalJSON() ([]byte, error) {
	if !o.present {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON accepts every optional shape the backend emits:
// null, [], [value], {"none": true}, {"some": value}, or the raw value.
func (o *Option[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = None[T]()
		return nil
	}

	if data[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(data, &arr); err != nil {
			return fmt.Errorf("option: decode array form: %w", err)
		}
		if len(arr) == 0 {
			*o = None[T]()
			return nil
		}
		var v T
		if err := json.Unmarshal(arr[0], &v); err != nil {
			return fmt.Errorf("option: decode array element: %w", err)
		}
		*o = Some(v)
		return nil
	}

	if data[0] == '{' {
		var tagged struct {
			Some json.RawMessage `json:"some"`
			None json.RawMessage `json:"none"`
		}
		// A decode failure here just means T itself is an object; fall
		// through to the raw-value path.
		if err := json.Unmarshal(data, &tagged); err == nil {
			if tagged.None != nil {
				*o = None[T]()
				return nil
			}
			if tagged.Some != nil {
				var v T
				if err := json.Unmarshal(tagged.Some, &v); err != nil {
					return fmt.Errorf("option: decode tagged value: %w", err)
				}
				*o = Some(v)
				return nil
			}
		}
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("option: decode raw value: %w", err)
	}
	*o = Some(v)
	return nil
}
