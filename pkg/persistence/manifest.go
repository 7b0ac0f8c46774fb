package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const manifestFileName = "MANIFEST"

// manifestState is the on-disk JSON shape of the manifest: for each
// level, the basenames of the SSTables that make it up, oldest first.
type manifestState struct {
	Levels        map[int][]string `json:"levels"`
	NextBasename  uint64           `json:"next_basename"`
}

// Manifest durably records which SSTable basenames belong to which
// level, and the basename counter's most recently handed-out value
// (the next basename is that value plus one), so a restart never
// re-derives level membership from a directory listing and never
// reuses a basename. It is rewritten, via a write-temp-then-rename,
// only after a flush or compaction swap has already made its output
// file durable.
type Manifest struct {
	path string
}

// OpenManifest returns a Manifest bound to dir's MANIFEST file. It
// does not read the file; call Load for that.
func OpenManifest(dir string) *Manifest {
	return &Manifest{path: filepath.Join(dir, manifestFileName)}
}

// Load reads the manifest, returning an empty state (not an error) if
// the file does not exist yet, which is the case for a brand-new data
// directory.
func (m *Manifest) Load() (levels map[int][]string, nextBasename uint64, err error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[int][]string{}, 0, nil
		}
		return nil, 0, fmt.Errorf("persistence: read manifest: %w", err)
	}
	var st manifestState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, 0, fmt.Errorf("persistence: decode manifest: %w", err)
	}
	if st.Levels == nil {
		st.Levels = map[int][]string{}
	}
	return st.Levels, st.NextBasename, nil
}

// Save atomically rewrites the manifest: it writes to a temp file in
// the same directory, syncs it, then renames it over the manifest
// path, so a crash mid-write leaves the previous manifest intact.
func (m *Manifest) Save(levels map[int][]string, nextBasename uint64) error {
	st := manifestState{Levels: levels, NextBasename: nextBasename}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("persistence: encode manifest: %w", err)
	}

	tmp := m.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("persistence: create manifest temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("persistence: write manifest temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("persistence: sync manifest temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("persistence: close manifest temp file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("persistence: install manifest: %w", err)
	}
	return nil
}
