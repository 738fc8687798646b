package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"unicode/utf8"
)

// Record is the caller-defined payload of a block: a flat mapping of string
// keys to strings, booleans, or numbers. The ledger hashes and stores it
// verbatim and never interprets its fields.
type Record map[string]any

// Validate reports whether every value in r is a supported scalar. Keys and
// string values must be valid UTF-8, since JSON encoding would otherwise
// replace invalid bytes and the stored record would differ from the input.
func (r Record) Validate() error {
	for k, v := range r {
		if !utf8.ValidString(k) {
			return fmt.Errorf("%w: field %q is not valid UTF-8", ErrInvalidRecord, k)
		}
		switch val := v.(type) {
		case string:
			if !utf8.ValidString(val) {
				return fmt.Errorf("%w: field %q value is not valid UTF-8", ErrInvalidRecord, k)
			}
		case bool, json.Number,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64:
		case float32:
			if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
				return fmt.Errorf("%w: field %q is not a finite number", ErrInvalidRecord, k)
			}
		case float64:
			if math.IsNaN(val) || math.IsInf(val, 0) {
				return fmt.Errorf("%w: field %q is not a finite number", ErrInvalidRecord, k)
			}
		default:
			return fmt.Errorf("%w: field %q has unsupported type %T", ErrInvalidRecord, k, v)
		}
	}
	return nil
}

// Canonical returns the canonical JSON encoding of r. Keys are emitted in
// sorted order, so equal records always encode to identical bytes.
func (r Record) Canonical() ([]byte, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(r))
}

// Clone returns a shallow copy of r. Values are scalars, so the copy shares
// no mutable state with r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Text returns the textual form of the value stored under key.
func (r Record) Text(key string) (string, bool) {
	v, ok := r[key]
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	default:
		return fmt.Sprint(val), true
	}
}

// normalizeRecord validates r and re-decodes its canonical form so numbers are
// held as json.Number, exactly as a reloaded chain holds them.
func normalizeRecord(r Record) (Record, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	raw, err := r.Canonical()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return decodeRecord(raw)
}

func decodeRecord(raw []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if out == nil {
		return nil, nil
	}
	return Record(out), nil
}

// UnmarshalJSON decodes numbers as json.Number so they re-encode verbatim.
func (r *Record) UnmarshalJSON(raw []byte) error {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		*r = nil
		return nil
	}
	dec, err := decodeRecord(raw)
	if err != nil {
		return err
	}
	if err := dec.Validate(); err != nil {
		return err
	}
	*r = dec
	return nil
}
