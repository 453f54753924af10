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

package hive

import (
	"testing"

	"github.com/joshuapare/hivekit/pkg/types"

	"github.com/google/letterman/ferrors"
)

// fakeHive backs both the fakeReader and fakeTx used in these tests,
// so a Commit through the editor is immediately visible through the
// reader, matching how Store expects to read back what it just wrote.
type fakeHive struct {
	root   types.NodeID
	node   types.NodeID
	values []types.ValueID
	meta   map[types.ValueID]types.ValueMeta
	data   map[types.ValueID][]byte
	byName map[string]types.ValueID
	nextID types.ValueID
}

func newFakeHive(entries map[string][]byte) *fakeHive {
	h := &fakeHive{
		root:   1,
		node:   2,
		meta:   map[types.ValueID]types.ValueMeta{},
		data:   map[types.ValueID][]byte{},
		byName: map[string]types.ValueID{},
	}
	for name, data := range entries {
		h.nextID++
		id := h.nextID
		h.byName[name] = id
		h.values = append(h.values, id)
		h.meta[id] = types.ValueMeta{Name: name, Type: types.REG_BINARY, Size: len(data)}
		h.data[id] = data
	}
	return h
}

type fakeReader struct {
	types.Reader
	h *fakeHive
}

func (f *fakeReader) Close() error { return nil }
func (f *fakeReader) Root() (types.NodeID, error) { return f.h.root, nil }

func (f *fakeReader) GetChild(parent types.NodeID, name string) (types.NodeID, error) {
	if parent == f.h.root && name == mountedDevicesPath {
		return f.h.node, nil
	}
	return 0, types.ErrNotFound
}

func (f *fakeReader) Values(n types.NodeID) ([]types.ValueID, error) {
	if n != f.h.node {
		return nil, types.ErrNotFound
	}
	return f.h.values, nil
}

func (f *fakeReader) StatValue(v types.ValueID) (types.ValueMeta, error) {
	meta, ok := f.h.meta[v]
	if !ok {
		return types.ValueMeta{}, types.ErrNotFound
	}
	return meta, nil
}

func (f *fakeReader) ValueBytes(v types.ValueID, opts types.ReadOptions) ([]byte, error) {
	data, ok := f.h.data[v]
	if !ok {
		return nil, types.ErrNotFound
	}
	return data, nil
}

func (f *fakeReader) GetValue(node types.NodeID, name string) (types.ValueID, error) {
	if node != f.h.node {
		return 0, types.ErrNotFound
	}
	id, ok := f.h.byName[name]
	if !ok {
		return 0, types.ErrNotFound
	}
	return id, nil
}

type fakeEditor struct {
	h *fakeHive
}

func (e *fakeEditor) Begin() types.Tx { return &fakeTx{h: e.h, pending: map[string][]byte{}} }

type fakeTx struct {
	types.Tx
	h        *fakeHive
	pending  map[string][]byte
	rolledBk bool
}

func (t *fakeTx) SetValue(path, name string, rt types.RegType, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	t.pending[name] = cp
	return nil
}

func (t *fakeTx) Rollback() error { t.rolledBk = true; return nil }

func (t *fakeTx) Commit(dst types.Writer, opts types.WriteOptions) error {
	for name, data := range t.pending {
		id, ok := t.h.byName[name]
		if !ok {
			t.h.nextID++
			id = t.h.nextID
			t.h.byName[name] = id
			t.h.values = append(t.h.values, id)
		}
		t.h.meta[id] = types.ValueMeta{Name: name, Type: types.REG_BINARY, Size: len(data)}
		t.h.data[id] = data
	}
	return dst.WriteHive(nil)
}

type discardWriter struct{}

func (discardWriter) WriteHive(buf []byte) error { return nil }

func newTestStore(t *testing.T, writable bool, entries map[string][]byte) (*Store, *fakeHive) {
	t.Helper()
	h := newFakeHive(entries)

	origReader, origEditor := openReader, openEditor
	openReader = func(path string, opts types.OpenOptions) (types.Reader, error) {
		return &fakeReader{h: h}, nil
	}
	openEditor = func(path string, opts types.OpenOptions) (types.Editor, error) {
		return &fakeEditor{h: h}, nil
	}
	t.Cleanup(func() { openReader, openEditor = origReader, origEditor })

	s, err := Open("fake.hive", writable)
	if err != nil {
		t.Fatalf("Open() returned %v", err)
	}
	return s, h
}

func TestListSkipsTombstonesAndClassifiesKeys(t *testing.T) {
	s, _ := newTestStore(t, false, map[string][]byte{
		`\DosDevices\C:`:                       {1, 2, 3},
		`\DosDevices\D:`:                       {},
		`\??\Volume{11111111-1111-1111-1111-111111111111}`: {4, 5},
	})

	entries, err := s.List(true)
	if err != nil {
		t.Fatalf("List() returned %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List() returned %d entries, want 2: %+v", len(entries), entries)
	}
	var sawLetter, sawVolume bool
	for _, e := range entries {
		if e.Letter == 'C' {
			sawLetter = true
		}
		if e.Volume == "11111111-1111-1111-1111-111111111111" {
			sawVolume = true
		}
	}
	if !sawLetter || !sawVolume {
		t.Errorf("List() = %+v, missing expected entries", entries)
	}
}

func TestListExcludesVolumesWhenNotRequested(t *testing.T) {
	s, _ := newTestStore(t, false, map[string][]byte{
		`\DosDevices\C:`: {1},
		`\??\Volume{11111111-1111-1111-1111-111111111111}`: {2},
	})
	entries, err := s.List(false)
	if err != nil {
		t.Fatalf("List() returned %v", err)
	}
	if len(entries) != 1 || entries[0].Letter != 'C' {
		t.Errorf("List(false) = %+v, want only C:", entries)
	}
}

func TestFindUnmapped(t *testing.T) {
	s, _ := newTestStore(t, false, map[string][]byte{})
	if _, err := s.Find('Z'); !ferrors.IsUserFault(err) {
		t.Errorf("Find() error = %v, want UserFault", err)
	}
}

func TestSwap(t *testing.T) {
	s, h := newTestStore(t, true, map[string][]byte{
		`\DosDevices\C:`: {0xAA},
		`\DosDevices\D:`: {0xBB},
	})
	if err := s.Swap('C', 'D'); err != nil {
		t.Fatalf("Swap() returned %v", err)
	}
	c, err := s.Find('C')
	if err != nil {
		t.Fatalf("Find(C) returned %v", err)
	}
	d, err := s.Find('D')
	if err != nil {
		t.Fatalf("Find(D) returned %v", err)
	}
	if c.Data[0] != 0xBB || d.Data[0] != 0xAA {
		t.Errorf("after Swap: C=%v D=%v, want C=[BB] D=[AA]", c.Data, d.Data)
	}
	_ = h
}

func TestSwapTwiceIsNoOp(t *testing.T) {
	s, _ := newTestStore(t, true, map[string][]byte{
		`\DosDevices\C:`: {0xAA},
		`\DosDevices\D:`: {0xBB},
	})
	if err := s.Swap('C', 'D'); err != nil {
		t.Fatalf("Swap() returned %v", err)
	}
	if err := s.Swap('C', 'D'); err != nil {
		t.Fatalf("Swap() returned %v", err)
	}
	c, _ := s.Find('C')
	d, _ := s.Find('D')
	if c.Data[0] != 0xAA || d.Data[0] != 0xBB {
		t.Errorf("after double Swap: C=%v D=%v, want original values restored", c.Data, d.Data)
	}
}

func TestChangeOntoTakenFails(t *testing.T) {
	s, _ := newTestStore(t, true, map[string][]byte{
		`\DosDevices\E:`: {1},
		`\DosDevices\F:`: {2},
	})
	err := s.Change('E', 'F')
	if !ferrors.IsUserFault(err) {
		t.Fatalf("Change() error = %v, want UserFault", err)
	}
	// Hive must be unchanged.
	e, _ := s.Find('E')
	f, _ := s.Find('F')
	if e.Data[0] != 1 || f.Data[0] != 2 {
		t.Errorf("Change() onto taken mutated hive: E=%v F=%v", e.Data, f.Data)
	}
}

func TestChangeMovesAndRemoves(t *testing.T) {
	s, _ := newTestStore(t, true, map[string][]byte{
		`\DosDevices\G:`: {7},
	})
	if err := s.Change('G', 'H'); err != nil {
		t.Fatalf("Change() returned %v", err)
	}
	h, err := s.Find('H')
	if err != nil {
		t.Fatalf("Find(H) returned %v", err)
	}
	if h.Data[0] != 7 {
		t.Errorf("Find(H).Data = %v, want [7]", h.Data)
	}
	if _, err := s.Find('G'); !ferrors.IsUserFault(err) {
		t.Errorf("Find(G) after Change = %v, want UserFault (removed)", err)
	}
}

func TestChangeThenChangeBackRoundTrips(t *testing.T) {
	s, _ := newTestStore(t, true, map[string][]byte{
		`\DosDevices\X:`: {0x42},
	})
	if err := s.Change('X', 'Y'); err != nil {
		t.Fatalf("Change(X,Y) returned %v", err)
	}
	if err := s.Change('Y', 'X'); err != nil {
		t.Fatalf("Change(Y,X) returned %v", err)
	}
	x, err := s.Find('X')
	if err != nil {
		t.Fatalf("Find(X) returned %v", err)
	}
	if x.Data[0] != 0x42 {
		t.Errorf("Find(X).Data = %v, want [0x42]", x.Data)
	}
}

func TestRemove(t *testing.T) {
	s, _ := newTestStore(t, true, map[string][]byte{
		`\DosDevices\J:`: {9},
	})
	if err := s.Remove('J'); err != nil {
		t.Fatalf("Remove() returned %v", err)
	}
	if _, err := s.Find('J'); !ferrors.IsUserFault(err) {
		t.Errorf("Find(J) after Remove = %v, want UserFault", err)
	}
}

func TestAddThenAddAgainFails(t *testing.T) {
	s, _ := newTestStore(t, true, map[string][]byte{})
	if err := s.Add('K', []byte{1, 2}); err != nil {
		t.Fatalf("Add() returned %v", err)
	}
	if err := s.Add('K', []byte{3, 4}); !ferrors.IsUserFault(err) {
		t.Errorf("second Add() error = %v, want UserFault", err)
	}
}

func TestDisableEnableRoundTrip(t *testing.T) {
	s, _ := newTestStore(t, true, map[string][]byte{
		`\DosDevices\L:`: {1, 2, 3, 4},
	})
	if err := s.Disable('L'); err != nil {
		t.Fatalf("Disable() returned %v", err)
	}
	v, err := s.Find('L')
	if err != nil {
		t.Fatalf("Find(L) returned %v", err)
	}
	if !hasDisableTag(v.Data) {
		t.Fatalf("Find(L).Data = %v, want disable-tagged", v.Data)
	}

	if err := s.Disable('L'); !ferrors.IsUserFault(err) {
		t.Errorf("second Disable() error = %v, want UserFault", err)
	}

	if err := s.Enable('L'); err != nil {
		t.Fatalf("Enable() returned %v", err)
	}
	v, err = s.Find('L')
	if err != nil {
		t.Fatalf("Find(L) returned %v", err)
	}
	if len(v.Data) != 4 || v.Data[0] != 1 {
		t.Errorf("Find(L).Data after Enable = %v, want [1 2 3 4]", v.Data)
	}

	if err := s.Enable('L'); !ferrors.IsUserFault(err) {
		t.Errorf("second Enable() error = %v, want UserFault", err)
	}
}

func TestMutationsFailOnReadOnlyStore(t *testing.T) {
	s, _ := newTestStore(t, false, map[string][]byte{
		`\DosDevices\M:`: {1},
	})
	if err := s.Remove('M'); !ferrors.IsSystemError(err) {
		t.Errorf("Remove() on read-only store error = %v, want SystemError", err)
	}
}
