// Package snapshot provides single-writer, atomic-rename file persistence
// for AgentChat's durable-but-not-external state: allowlist, banlist,
// first-seen timestamps, reputation, skills, and receipts. There is no
// durable store beyond these plain files, per spec.md's Non-goals; the
// teacher's own snapshot helpers are Supabase/Postgres-backed, which that
// Non-goal excludes, so this package is a justified standard-library-only
// component built in the teacher's single-writer-plus-atomic-rename spirit.
package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// privatePerm is applied to files carrying pubkeys or other sensitive data.
const privatePerm = 0o600

// WriteJSON atomically writes v as JSON to path: it writes to a temp file in
// the same directory, then renames over the destination, so a crash never
// leaves a partially-written file in place.
func WriteJSON(path string, v any, private bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("snapshot: create directory for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal %s: %w", path, err)
	}
	perm := os.FileMode(0o644)
	if private {
		perm = privatePerm
	}
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("snapshot: write temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("snapshot: rename into place %s: %w", path, err)
	}
	return nil
}

// ReadJSON reads and decodes a JSON file, returning os.IsNotExist(err)-true
// errors untouched so callers can treat a missing file as "empty".
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("snapshot: parse %s: %w", path, err)
	}
	return nil
}

// AppendJSONLine appends one JSON-encoded line to path, creating the file
// with owner-only permissions if it doesn't exist. Used for the receipts
// log, which is append-only and never rewritten wholesale.
func AppendJSONLine(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("snapshot: create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, privatePerm)
	if err != nil {
		return fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	defer f.Close()
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("snapshot: marshal line for %s: %w", path, err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("snapshot: append to %s: %w", path, err)
	}
	return nil
}

// ReadJSONLines reads every line of a JSON-lines file, calling fn for each
// decoded value. A missing file is treated as empty.
func ReadJSONLines(path string, newItem func() any, fn func(item any) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		item := newItem()
		if err := json.Unmarshal(line, item); err != nil {
			return fmt.Errorf("snapshot: parse line in %s: %w", path, err)
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return scanner.Err()
}
