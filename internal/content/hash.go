package content

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func HashString(s string) string {
	return HashBytes([]byte(s))
}

// CanonicalizeJSON marshals a JSON value with stable key ordering and no
// whitespace. The value is round-tripped through an untyped form so struct
// field order never leaks into the encoding; map keys come out sorted.
func CanonicalizeJSON(v any) ([]byte, error) {
	var raw []byte
	switch t := v.(type) {
	case []byte:
		raw = t
	case json.RawMessage:
		raw = t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	var obj any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

// StableHash hashes the canonical JSON form of v. Equal values hash equal
// regardless of map iteration order or field declaration order.
func StableHash(v any) (string, error) {
	b, err := CanonicalizeJSON(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}
