package codec

import (
	"encoding/base32"
	"fmt"
	"strings"
)

// lowerAlphabet is RFC 4648's base32 alphabet lowercased, matching spec.md
// §4.1's "RFC 4648 alphabet in lowercase, no padding" requirement.
const lowerAlphabet = "abcdefghijklmnopqrstuvwxyz234567"

var lowerEncoding = base32.NewEncoding(lowerAlphabet).WithPadding(base32.NoPadding)

// Base32LowerNoPad encodes b using the lowercase RFC 4648 alphabet, unpadded.
func Base32LowerNoPad(b []byte) string {
	return lowerEncoding.EncodeToString(b)
}

// DecodeBase32LowerNoPad decodes s, rejecting padding and any character
// outside the lowercase alphabet.
func DecodeBase32LowerNoPad(s string) ([]byte, error) {
	if strings.ContainsRune(s, '=') {
		return nil, fmt.Errorf("codec: base32 input must not be padded")
	}
	if strings.ToLower(s) != s {
		return nil, fmt.Errorf("codec: base32 input must be lowercase")
	}
	b, err := lowerEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("codec: invalid base32: %w", err)
	}
	return b, nil
}
