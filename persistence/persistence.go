// Package persistence implements the persistence protocol of spec §4.9:
// atomic file writes, CBOR-encoded snapshots, and partition-level
// mount/backup/restore against an abstract storage volume.
package persistence

import (
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"aquacore/errcode"
)

// SafeWrite writes data to path atomically: it writes to a sibling
// temporary file and renames over the target, so a crash mid-write never
// leaves a half-written file in place (spec §4.9 "safe_write").
func SafeWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errcode.Wrap("safe_write", errcode.PersistenceFailed, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errcode.Wrap("safe_write", errcode.PersistenceFailed, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errcode.Wrap("safe_write", errcode.PersistenceFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return errcode.Wrap("safe_write", errcode.PersistenceFailed, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errcode.Wrap("safe_write", errcode.PersistenceFailed, err)
	}
	return nil
}

// LoadFileInto reads path and CBOR-decodes it into v.
func LoadFileInto(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errcode.Wrap("load_file_into", errcode.PersistenceFailed, err)
	}
	if err := cbor.Unmarshal(data, v); err != nil {
		return errcode.Wrap("load_file_into", errcode.PersistenceFailed, err)
	}
	return nil
}

// SnapshotPersister adapts a single file path into a store.Persister[S]
// (package store): Save CBOR-encodes the snapshot and writes it via
// SafeWrite.
type SnapshotPersister[S any] struct {
	Path string
}

// NewSnapshotPersister returns a persister that writes snapshots of S to
// path, creating path's directory if needed.
func NewSnapshotPersister[S any](path string) (*SnapshotPersister[S], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errcode.Wrap("new_snapshot_persister", errcode.PersistenceFailed, err)
	}
	return &SnapshotPersister[S]{Path: path}, nil
}

// Save implements store.Persister[S].
func (p *SnapshotPersister[S]) Save(snapshot S) error {
	data, err := cbor.Marshal(snapshot)
	if err != nil {
		return errcode.Wrap("save", errcode.PersistenceFailed, err)
	}
	return SafeWrite(p.Path, data)
}

// Load decodes the current file contents into a fresh S. A missing file
// returns the zero value and no error: an empty store is valid on first
// boot.
func (p *SnapshotPersister[S]) Load() (S, error) {
	var out S
	if _, err := os.Stat(p.Path); os.IsNotExist(err) {
		return out, nil
	}
	err := LoadFileInto(p.Path, &out)
	return out, err
}
