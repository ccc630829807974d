// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// tokenBytes is the entropy of a token value. 128 bits keeps tokens
// short enough to paste into a chat message while making collision
// and guessing probabilities negligible.
const tokenBytes = 16

// Token is an opaque, process-unique capability reference. The
// canonical textual form is 32 lowercase hex characters, and that
// string is the delegation mechanism: any holder of the text holds
// the capability.
//
// The zero Token is invalid and never issued.
type Token struct {
	value string
}

// NewToken returns a fresh random token. Panics if the operating
// system's entropy source fails — without entropy the process cannot
// mint unforgeable references, and continuing would undermine the
// access-control model.
func NewToken() Token {
	var raw [tokenBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic("capability: reading random token bytes: " + err.Error())
	}
	return Token{value: hex.EncodeToString(raw[:])}
}

// ParseToken parses the canonical textual form. The returned token is
// syntactically valid; whether it names a live capability is the
// registry's question, not this function's.
func ParseToken(text string) (Token, error) {
	if len(text) != 2*tokenBytes {
		return Token{}, fmt.Errorf("capability: token must be %d hex characters", 2*tokenBytes)
	}
	raw, err := hex.DecodeString(text)
	if err != nil {
		return Token{}, fmt.Errorf("capability: malformed token: %w", err)
	}
	return Token{value: hex.EncodeToString(raw)}, nil
}

// String returns the canonical textual form, or "" for the zero token.
func (t Token) String() string { return t.value }

// IsZero reports whether the token is the invalid zero value.
func (t Token) IsZero() bool { return t.value == "" }

// MarshalText implements encoding.TextMarshaler.
func (t Token) MarshalText() ([]byte, error) {
	return []byte(t.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Token) UnmarshalText(text []byte) error {
	parsed, err := ParseToken(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
