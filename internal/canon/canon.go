// Package canon implements the one canonical encoding the autopilot relies
// on for both manifest hashing (internal/manifest) and simulator digests
// (internal/simulate): recursively sort map keys at every nesting depth,
// then marshal to compact JSON. Implemented once and reused, per the
// design note that a single deterministic encoder must back both uses.
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Encode returns the canonical JSON encoding of v: every map is re-emitted
// with its keys sorted (stable, case-sensitive, lexicographic) at every
// depth, and the result has no insignificant whitespace. Numbers keep
// Go's default JSON formatting, which is already stable across platforms
// for the finite, non-NaN values this autopilot ever encodes.
func Encode(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canon: unmarshal: %w", err)
	}

	var buf bytes.Buffer
	if err := encodeValue(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		return encodeObject(buf, val)
	case []interface{}:
		return encodeArray(buf, val)
	default:
		enc, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("canon: marshal scalar: %w", err)
		}
		buf.Write(enc)
		return nil
	}
}

func encodeObject(buf *bytes.Buffer, m map[string]interface{}) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyEnc, err := json.Marshal(k)
		if err != nil {
			return fmt.Errorf("canon: marshal key: %w", err)
		}
		buf.Write(keyEnc)
		buf.WriteByte(':')
		if err := encodeValue(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeArray(buf *bytes.Buffer, arr []interface{}) error {
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(buf, elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}
