// Package batch turns external inputs into the (identifier, payload) pairs
// the scheduler consumes. Identifiers are content hashes, so the same
// input always resolves to the same ledger entry regardless of file order
// or position.
package batch

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// Item is one unit of work: an identifier stable across runs and the raw
// payload the task logic will interpret.
type Item struct {
	// ID is the hex SHA-256 of the item's content.
	ID string

	// Payload is the item's raw bytes: one JSONL record, or a file path
	// for file-granular sources.
	Payload []byte
}

// FromJSONL reads a JSON-lines file and returns one Item per non-blank
// line. Each line must be valid JSON; the item id is the hash of the
// line's canonical (re-marshalled) form, so formatting-only differences
// between runs do not change identities.
func FromJSONL(path string) ([]Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch source %s: %w", path, err)
	}
	defer f.Close()

	var items []Item
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var decoded any
		if err := json.Unmarshal(line, &decoded); err != nil {
			return nil, fmt.Errorf("invalid JSON on line %d of %s: %w", lineNum, path, err)
		}
		canonical, err := json.Marshal(decoded)
		if err != nil {
			return nil, fmt.Errorf("failed to canonicalize line %d of %s: %w", lineNum, path, err)
		}

		items = append(items, Item{
			ID:      hashBytes(canonical),
			Payload: append([]byte(nil), line...),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch source %s: %w", path, err)
	}

	return items, nil
}

// FromFiles treats each path as one work item, identified by the hash of
// the file's bytes. The payload is the path itself; task logic reads the
// file.
func FromFiles(paths []string) ([]Item, error) {
	items := make([]Item, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read batch file %s: %w", path, err)
		}
		items = append(items, Item{
			ID:      hashBytes(data),
			Payload: []byte(path),
		})
	}
	return items, nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
