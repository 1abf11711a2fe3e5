package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Version identifies the producing logic as a hex SHA-256 digest. When the
// logic that generates outputs changes, its Version changes, and every
// completion recorded under the old Version stops satisfying lookups.
type Version string

// VersionOf derives a Version from the given parts, typically operation
// names, prompt template text and parameter defaults that affect outputs.
func VersionOf(parts ...string) Version {
	hasher := sha256.New()
	for _, p := range parts {
		hasher.Write([]byte(p))
		hasher.Write([]byte{0})
	}
	return Version(hex.EncodeToString(hasher.Sum(nil)))
}

// VersionOfFile derives a Version from a file's bytes, for callers whose
// producing logic lives in an external artifact such as a template file.
func VersionOfFile(path string) (Version, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open version source %s: %w", path, err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("failed to hash version source %s: %w", path, err)
	}
	return Version(hex.EncodeToString(hasher.Sum(nil))), nil
}
