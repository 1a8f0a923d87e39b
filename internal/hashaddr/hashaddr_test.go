package hashaddr

import (
	"testing"
)

func TestContentIDDeterministic(t *testing.T) {
	first := ContentID([]byte("hello"))
	second := ContentID([]byte("hello"))
	if first != second {
		t.Fatalf("content id should be stable, got %s and %s", first, second)
	}
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if first.Encoded() != want {
		t.Fatalf("unexpected sha256 for hello: %s", first.Encoded())
	}
}

func TestLookupKeyURLIgnoresParams(t *testing.T) {
	plain := KeyURL.LookupKey(NewRequest("https://example.test/a"))
	withParams := KeyURL.LookupKey(NewRequest("https://example.test/a", Header("Accept", "text/html")))
	if plain != withParams {
		t.Fatalf("url policy must ignore params")
	}
	if plain != ContentID([]byte("https://example.test/a")) {
		t.Fatalf("url policy should digest the raw url string")
	}
}

func TestLookupKeyDescriptorDistinguishesParams(t *testing.T) {
	a := KeyDescriptor.LookupKey(NewRequest("https://example.test/a", Header("Accept", "text/html")))
	b := KeyDescriptor.LookupKey(NewRequest("https://example.test/a", Header("Accept", "application/json")))
	if a == b {
		t.Fatalf("descriptor policy should separate different params")
	}

	split1 := KeyDescriptor.LookupKey(NewRequest("u", Param{Key: "a", Value: "bc"}))
	split2 := KeyDescriptor.LookupKey(NewRequest("u", Param{Key: "ab", Value: "c"}))
	if split1 == split2 {
		t.Fatalf("param boundaries must be part of the key")
	}

	bare := KeyDescriptor.LookupKey(NewRequest("https://example.test/a"))
	if bare != KeyURL.LookupKey(NewRequest("https://example.test/a")) {
		t.Fatalf("descriptor without params should match url key")
	}
}

func TestParseKeyPolicy(t *testing.T) {
	testCases := []struct {
		raw     string
		want    KeyPolicy
		wantErr bool
	}{
		{"", KeyURL, false},
		{"URL", KeyURL, false},
		{"descriptor", KeyDescriptor, false},
		{"headers", KeyURL, true},
	}
	for _, tc := range testCases {
		got, err := ParseKeyPolicy(tc.raw)
		if tc.wantErr != (err != nil) {
			t.Fatalf("ParseKeyPolicy(%q) error = %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseKeyPolicy(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestParseHexRejectsGarbage(t *testing.T) {
	id := ContentID([]byte("payload"))
	parsed, err := ParseHex(id.Encoded())
	if err != nil || parsed != id {
		t.Fatalf("round trip failed: %v", err)
	}
	if _, err := ParseHex("not-a-digest"); err == nil {
		t.Fatalf("expected error for malformed hex")
	}
}

func TestParamHelpers(t *testing.T) {
	if name, ok := Query("page", "2").IsQuery(); !ok || name != "page" {
		t.Fatalf("query helper mismatch: %s %v", name, ok)
	}
	if Header("Accept", "x").HeaderName() != "Accept" {
		t.Fatalf("header helper mismatch")
	}
	if (Param{Key: "Accept"}).HeaderName() != "Accept" {
		t.Fatalf("bare key should be treated as header")
	}
}
