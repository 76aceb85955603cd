// Package fsstore persists domain records as human-readable JSON
// files. Files are the source of truth for decision state; indexed
// queries live in the postgres package.
package fsstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("fsstore: marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("fsstore: mkdir %s: %w", filepath.Dir(path), err)
	}

	// Write-then-rename keeps readers from seeing half a file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("fsstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("fsstore: rename %s: %w", path, err)
	}
	return nil
}

func readJSON[T any](path string) (T, bool, error) {
	var v T
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return v, false, nil
		}
		return v, false, fmt.Errorf("fsstore: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("fsstore: parse %s: %w", path, err)
	}
	return v, true, nil
}

// listJSON parses every *.json file in a directory, in name order.
// Files that fail to parse are skipped so one bad record cannot hide
// the rest.
func listJSON[T any](dir string) ([]T, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fsstore: read dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]T, 0, len(names))
	for _, name := range names {
		v, ok, err := readJSON[T](filepath.Join(dir, name))
		if err != nil || !ok {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
