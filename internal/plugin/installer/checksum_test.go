package installer

import (
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseChecksum(t *testing.T) {
	hex := digest.SHA256.FromString("plugin").Encoded()
	for _, tc := range []struct {
		name     string
		declared string
		valid    bool
	}{
		{"plain", hex, true},
		{"upper case", strings.ToUpper(hex), true},
		{"prefixed", "sha256:" + hex, true},
		{"upper case prefix", "SHA256:" + strings.ToUpper(hex), true},
		{"surrounding space", " " + hex + "\n", true},
		{"short", hex[:10], false},
		{"not hex", strings.Repeat("z", 64), false},
		{"other algorithm", "sha512:" + hex, false},
		{"empty", "", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dig, err := ParseChecksum(tc.declared)
			if !tc.valid {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, digest.SHA256.FromString("plugin"), dig)
		})
	}
}

func TestVerifyChecksumRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 1, 512).Draw(t, "data")
		declared := digest.SHA256.FromBytes(data).String()

		if err := VerifyChecksum(data, declared); err != nil {
			t.Fatalf("expected matching checksum to be accepted: %v", err)
		}

		idx := rapid.IntRange(0, len(data)-1).Draw(t, "index")
		flip := rapid.ByteRange(1, 255).Draw(t, "flip")
		mutated := append([]byte(nil), data...)
		mutated[idx] ^= flip

		if err := VerifyChecksum(mutated, declared); err == nil {
			t.Fatalf("expected mutated archive to be rejected")
		}
	})
}
