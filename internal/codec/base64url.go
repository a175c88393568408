package codec

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Base64URLStrict encodes b using the unpadded URL-safe alphabet.
func Base64URLStrict(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeBase64URLStrict decodes s, rejecting "=" padding and any character
// outside the URL-safe alphabet (notably '+' and '/').
func DecodeBase64URLStrict(s string) ([]byte, error) {
	if strings.ContainsAny(s, "=+/") {
		return nil, fmt.Errorf("codec: base64url input must be unpadded and URL-safe")
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("codec: invalid base64url: %w", err)
	}
	return b, nil
}
