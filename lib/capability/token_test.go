// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"testing"

	"github.com/warrant-foundation/warrant/lib/codec"
)

func TestTokenTextForm(t *testing.T) {
	t.Parallel()

	token := NewToken()
	text := token.String()
	if len(text) != 32 {
		t.Fatalf("token text length = %d, want 32", len(text))
	}

	parsed, err := ParseToken(text)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if parsed != token {
		t.Error("parse of canonical form did not round-trip")
	}
}

func TestParseTokenRejectsMalformed(t *testing.T) {
	t.Parallel()

	for _, text := range []string{
		"",
		"short",
		"zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz",                 // not hex
		"00112233445566778899aabbccddeeff00",               // too long
		"00112233445566778899AABBCCDDEEF",                  // too short
	} {
		if _, err := ParseToken(text); err == nil {
			t.Errorf("ParseToken(%q) accepted malformed input", text)
		}
	}
}

func TestTokensAreUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[Token]bool)
	for n := 0; n < 1000; n++ {
		token := NewToken()
		if seen[token] {
			t.Fatal("NewToken produced a duplicate")
		}
		seen[token] = true
	}
}

func TestTokenCBORRoundTrip(t *testing.T) {
	t.Parallel()

	type envelope struct {
		Token Token `cbor:"token"`
	}

	original := envelope{Token: NewToken()}
	data, err := codec.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded envelope
	if err := codec.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Token != original.Token {
		t.Errorf("decoded token %s != original %s", decoded.Token, original.Token)
	}
}

func TestPermissionsTextForm(t *testing.T) {
	t.Parallel()

	cases := []struct {
		perms Permissions
		text  string
	}{
		{0, "none"},
		{PermRead, "read"},
		{PermRead | PermWrite, "read,write"},
		{FullPermissions, "read,write,execute"},
	}
	for _, c := range cases {
		if got := c.perms.String(); got != c.text {
			t.Errorf("(%d).String() = %q, want %q", c.perms, got, c.text)
		}
		parsed, err := ParsePermissions(c.text)
		if err != nil {
			t.Errorf("ParsePermissions(%q): %v", c.text, err)
			continue
		}
		if parsed != c.perms {
			t.Errorf("ParsePermissions(%q) = %d, want %d", c.text, parsed, c.perms)
		}
	}

	if _, err := ParsePermissions("read,admin"); err == nil {
		t.Error("ParsePermissions accepted unknown permission")
	}
}

func TestPermissionsSubset(t *testing.T) {
	t.Parallel()

	if !PermRead.Subset(PermRead | PermWrite) {
		t.Error("read should be subset of read|write")
	}
	if (PermRead | PermWrite).Subset(PermRead) {
		t.Error("read|write should not be subset of read")
	}
	if !Permissions(0).Subset(0) {
		t.Error("empty set should be subset of empty set")
	}
	if !FullPermissions.Subset(FullPermissions) {
		t.Error("a set should be a subset of itself")
	}
}
