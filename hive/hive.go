// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hive is a mutate-only facade over the MountedDevices key of an
// offline Windows SYSTEM registry hive. Of the underlying hive library it
// uses only these primitives: create-or-overwrite a value, read a value,
// list values. It never renames or deletes;
// "removing" a mapping means overwriting it with a zero-length value,
// which Windows treats as absent.
package hive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joshuapare/hivekit/pkg/types"

	"github.com/google/letterman/ferrors"
)

const mountedDevicesPath = "MountedDevices"

// disableTag prefixes a parked mapping's bytes. It has no meaning to
// Windows; Enable strips it back off before the mapping is ever read by
// a live system.
var disableTag = []byte{0x4c, 0x4d, 0x50, 0x4b} // "LMPK"

// openReader and openEditor are package variables so tests can supply
// fakes without a real hive file, the same dependency-injection pattern
// the teacher uses for its external command invocations.
var (
	openReader = func(path string, opts types.OpenOptions) (types.Reader, error) {
		return hivekitOpen(path, opts)
	}
	openEditor = func(path string, opts types.OpenOptions) (types.Editor, error) {
		return hivekitOpenEditor(path, opts)
	}
)

// Entry is one value under MountedDevices: either a drive letter or a
// volume GUID, and the raw bytes identifying the device.
type Entry struct {
	Letter byte   // 0 if this entry is keyed by volume GUID instead
	Volume string // set iff Letter == 0
	Data   []byte
}

// Store is an open handle on one hive's MountedDevices key. It is not
// safe for concurrent mutating use.
type Store struct {
	path     string
	writable bool
	reader   types.Reader
	editor   types.Editor
	node     types.NodeID
}

// Open opens the hive at path. When writable is false, mutating methods
// return a SystemError.
func Open(path string, writable bool) (*Store, error) {
	r, err := openReader(path, types.OpenOptions{})
	if err != nil {
		return nil, ferrors.System("hivekit.Open", err)
	}

	root, err := r.Root()
	if err != nil {
		r.Close()
		return nil, ferrors.System("Root", err)
	}
	node, err := r.GetChild(root, mountedDevicesPath)
	if err != nil {
		r.Close()
		return nil, ferrors.Userf("hive has no MountedDevices key: %v", err)
	}

	s := &Store{path: path, writable: writable, reader: r, node: node}

	if writable {
		e, err := openEditor(path, types.OpenOptions{})
		if err != nil {
			r.Close()
			return nil, ferrors.System("hivekit.OpenEditor", err)
		}
		s.editor = e
	}
	return s, nil
}

// Close releases the underlying hive handle.
func (s *Store) Close() error {
	if s.reader != nil {
		return s.reader.Close()
	}
	return nil
}

func letterKey(l byte) string {
	return fmt.Sprintf(`\DosDevices\%c:`, upper(l))
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}

// List returns every value under MountedDevices. Zero-length values
// (tombstones left by Remove) are skipped. When includeWithoutLetter is
// false, entries keyed by volume GUID rather than drive letter are
// skipped too.
func (s *Store) List(includeWithoutLetter bool) ([]Entry, error) {
	values, err := s.reader.Values(s.node)
	if err != nil {
		return nil, ferrors.System("Values", err)
	}

	var out []Entry
	for _, v := range values {
		meta, err := s.reader.StatValue(v)
		if err != nil {
			return nil, ferrors.System("StatValue", err)
		}
		data, err := s.reader.ValueBytes(v, types.ReadOptions{})
		if err != nil {
			return nil, ferrors.System("ValueBytes", err)
		}
		if len(data) == 0 {
			continue
		}

		entry := Entry{Data: data}
		switch {
		case strings.Contains(meta.Name, `\DosDevices\`):
			if len(meta.Name) != 14 || meta.Name[len(meta.Name)-1] != ':' {
				return nil, ferrors.System("List", fmt.Errorf("corrupt hive: invalid MountedDevices key %q", meta.Name))
			}
			entry.Letter = upper(meta.Name[len(meta.Name)-2])
		case strings.HasPrefix(meta.Name, `\??\Volume{`):
			if !includeWithoutLetter {
				continue
			}
			if len(meta.Name) < 11+36 {
				return nil, ferrors.System("List", fmt.Errorf("corrupt hive: invalid MountedDevices key %q", meta.Name))
			}
			entry.Volume = meta.Name[11 : 11+36]
		default:
			return nil, ferrors.System("List", fmt.Errorf("corrupt hive: invalid MountedDevices key %q", meta.Name))
		}
		out = append(out, entry)
	}
	return out, nil
}

// Find returns the entry for letter, or a UserFault if it is unmapped or
// has been removed (zero-length).
func (s *Store) Find(letter byte) (Entry, error) {
	return s.find(letterKey(letter), letter)
}

func (s *Store) find(key string, letter byte) (Entry, error) {
	id, err := s.reader.GetValue(s.node, key)
	if err != nil {
		return Entry{}, ferrors.Userf("drive letter %c: is not mapped", upper(letter))
	}
	data, err := s.reader.ValueBytes(id, types.ReadOptions{})
	if err != nil {
		return Entry{}, ferrors.System("ValueBytes", err)
	}
	if len(data) == 0 {
		return Entry{}, ferrors.Userf("drive letter %c: is not mapped", upper(letter))
	}
	return Entry{Letter: upper(letter), Data: data}, nil
}

func (s *Store) valueBytes(key string) ([]byte, bool, error) {
	id, err := s.reader.GetValue(s.node, key)
	if err != nil {
		return nil, false, nil
	}
	data, err := s.reader.ValueBytes(id, types.ReadOptions{})
	if err != nil {
		return nil, false, ferrors.System("ValueBytes", err)
	}
	return data, true, nil
}

func (s *Store) requireWritable() error {
	if !s.writable {
		return ferrors.System("hive", fmt.Errorf("hive opened read-only"))
	}
	return nil
}

func (s *Store) setAndCommit(sets map[string][]byte) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	tx := s.editor.Begin()
	for key, data := range sets {
		if err := tx.SetValue(mountedDevicesPath, key, types.REG_BINARY, data); err != nil {
			tx.Rollback()
			return ferrors.System("SetValue", err)
		}
	}
	w := &fileWriter{path: s.path}
	if err := tx.Commit(w, types.WriteOptions{}); err != nil {
		return ferrors.System("Commit", err)
	}
	return nil
}

// Swap exchanges the device mappings of two drive letters. Both must be
// present with non-zero length.
func (s *Store) Swap(a, b byte) error {
	aVal, err := s.Find(a)
	if err != nil {
		return err
	}
	bVal, err := s.Find(b)
	if err != nil {
		return err
	}
	return s.setAndCommit(map[string][]byte{
		letterKey(a): bVal.Data,
		letterKey(b): aVal.Data,
	})
}

// Change moves the mapping of from onto to, then removes from. Fails
// with a UserFault if to is already taken. Matches the original tool's
// structure of a set-then-remove as two separate commits rather than one
// merged transaction.
func (s *Store) Change(from, to byte) error {
	val, err := s.Find(from)
	if err != nil {
		return err
	}

	existing, present, err := s.valueBytes(letterKey(to))
	if err != nil {
		return err
	}
	if present && len(existing) != 0 {
		return ferrors.Userf("drive letter %c: is already taken", upper(to))
	}

	if err := s.setAndCommit(map[string][]byte{letterKey(to): val.Data}); err != nil {
		return err
	}
	return s.Remove(from)
}

// Remove clears letter's mapping by overwriting it with a zero-length
// value. The hive library supports neither rename nor delete, so a
// zero-length value is the only way to mark a letter absent.
func (s *Store) Remove(letter byte) error {
	if _, err := s.Find(letter); err != nil {
		return err
	}
	return s.setAndCommit(map[string][]byte{letterKey(letter): {}})
}

// Add creates a new mapping for letter. Fails with a UserFault if the
// letter is already taken (non-zero length).
func (s *Store) Add(letter byte, data []byte) error {
	existing, present, err := s.valueBytes(letterKey(letter))
	if err != nil {
		return err
	}
	if present && len(existing) != 0 {
		return ferrors.Userf("drive letter %c: is already taken", upper(letter))
	}
	return s.setAndCommit(map[string][]byte{letterKey(letter): data})
}

// Disable parks letter's mapping by prefixing its bytes with a reserved
// tag, so the mapping survives on disk but no longer decodes as a valid
// device blob. Fails if letter is unmapped, zero-length, or already
// disabled.
func (s *Store) Disable(letter byte) error {
	val, err := s.Find(letter)
	if err != nil {
		return err
	}
	if hasDisableTag(val.Data) {
		return ferrors.Userf("drive letter %c: is already disabled", upper(letter))
	}
	parked := make([]byte, 0, len(disableTag)+len(val.Data))
	parked = append(parked, disableTag...)
	parked = append(parked, val.Data...)
	return s.setAndCommit(map[string][]byte{letterKey(letter): parked})
}

// Enable reverses Disable, restoring the original bytes. Fails if letter
// is unmapped or not currently disabled.
func (s *Store) Enable(letter byte) error {
	val, err := s.Find(letter)
	if err != nil {
		return err
	}
	if !hasDisableTag(val.Data) {
		return ferrors.Userf("drive letter %c: is not disabled", upper(letter))
	}
	return s.setAndCommit(map[string][]byte{letterKey(letter): val.Data[len(disableTag):]})
}

func hasDisableTag(data []byte) bool {
	if len(data) < len(disableTag) {
		return false
	}
	for i, b := range disableTag {
		if data[i] != b {
			return false
		}
	}
	return true
}

// fileWriter implements types.Writer by writing to a temp file in the
// destination's directory and renaming over it, so a crash between
// write and rename never leaves a half-written hive on disk.
type fileWriter struct {
	path string
}

func (w *fileWriter) WriteHive(buf []byte) error {
	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, ".letterman-hive-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
