// Package canon implements the canonical serialisation and content
// fingerprinting that back every dedup decision in the pipeline.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonicalise produces a deterministic UTF-8 string for value: strings pass
// through unchanged; any other JSON-marshalable value is serialised with its
// object keys sorted lexicographically at every nesting level and no
// insignificant whitespace, mirroring Python's json.dumps(sort_keys=True).
func Canonicalise(value any) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("canon: marshal: %w", err)
	}

	var decoded any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return "", fmt.Errorf("canon: decode: %w", err)
	}

	var buf bytes.Buffer
	if err := writeSorted(&buf, decoded); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// writeSorted writes v as compact JSON with map keys sorted, recursing into
// nested maps and slices.
func writeSorted(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyBytes)
			buf.WriteByte(':')
			if err := writeSorted(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeSorted(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(encoded)
		return nil
	}
}

// Fingerprint returns the lowercase hex SHA-256 digest of canonical, the only
// basis for content-addressed dedup across the pipeline.
func Fingerprint(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
