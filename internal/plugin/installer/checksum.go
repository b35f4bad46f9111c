package installer

import (
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
)

// ParseChecksum parses a declared sha256 checksum. The hex value is case
// insensitive and may carry a "sha256:" prefix.
func ParseChecksum(declared string) (digest.Digest, error) {
	encoded := strings.ToLower(strings.TrimSpace(declared))
	encoded = strings.TrimPrefix(encoded, string(digest.SHA256)+":")

	dig := digest.NewDigestFromEncoded(digest.SHA256, encoded)
	if err := dig.Validate(); err != nil {
		return "", fmt.Errorf("invalid archive checksum %q: %w", declared, err)
	}
	return dig, nil
}

// VerifyChecksum compares the sha256 digest of data with the declared checksum.
func VerifyChecksum(data []byte, declared string) error {
	expected, err := ParseChecksum(declared)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrChecksumMismatch, err)
	}
	if actual := digest.SHA256.FromBytes(data); actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, actual)
	}
	return nil
}
