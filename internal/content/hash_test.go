package content

import (
	"testing"
)

func TestCanonicalizeJSONSortsKeys(t *testing.T) {
	a, err := CanonicalizeJSON(map[string]any{"b": 2, "a": 1, "c": []any{"x"}})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":1,"b":2,"c":["x"]}`
	if string(a) != want {
		t.Fatalf("expected %s got %s", want, string(a))
	}
}

func TestCanonicalizeJSONAcceptsRawBytes(t *testing.T) {
	a, err := CanonicalizeJSON([]byte(`{ "z": 1, "a": 2 }`))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(a) != `{"a":2,"z":1}` {
		t.Fatalf("unexpected canonical form: %s", string(a))
	}
}

func TestStableHashIgnoresKeyOrder(t *testing.T) {
	h1, err := StableHash([]byte(`{"a":1,"b":{"y":2,"x":3}}`))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := StableHash([]byte(`{"b":{"x":3,"y":2},"a":1}`))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hashes differ for equal values: %s vs %s", h1, h2)
	}
}

func TestStableHashDistinguishesValues(t *testing.T) {
	h1, _ := StableHash(map[string]any{"a": 1})
	h2, _ := StableHash(map[string]any{"a": 2})
	if h1 == h2 {
		t.Fatal("expected different hashes for different values")
	}
}

func TestHashBytesIsHexSHA256(t *testing.T) {
	got := HashBytes([]byte(""))
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got != want {
		t.Fatalf("expected %s got %s", want, got)
	}
}
