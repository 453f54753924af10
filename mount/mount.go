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

// Package mount manages scratch mount points used to reach an NTFS
// partition's SYSTEM hive. A device that the inventory already reports
// as mounted is reused at its existing mount point; otherwise a fresh temp directory is
// created and unmounted (and removed) on Release.
package mount

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/letterman/ferrors"
	"github.com/google/letterman/inventory"
)

// Handle is a reference to a mounted NTFS filesystem.
type Handle struct {
	Path  string // mount point
	owned bool   // true if this package created the mount point
}

// mountNTFS and unmountPath are package variables so this package's
// tests can swap out the actual syscalls, the same dependency-injection
// pattern the teacher uses for its external command invocations
// (lsblkDiskCmd, sudoCmd).
var (
	mountNTFS   = mountNTFSImpl
	unmountPath = unmountPathImpl
)

// requireMountPrivilege is a dependency-injection point for testing. It
// mirrors hive_crawler.cc's own up-front check
// (`if (geteuid() != 0) throw UserFault("Operation requires root");`)
// before invoking mount(2), rather than letting Acquire surface whatever
// raw EPERM the syscall or exec helper returns.
var requireMountPrivilege = func() error {
	if os.Geteuid() != 0 {
		return ferrors.Userf("mounting an NTFS filesystem requires root privileges")
	}
	return nil
}

// mounts memoizes scratch mounts already created by this process, keyed
// by device path, mirroring hive_crawler.cc's own per-path Mount cache.
var mounts = map[string]*Handle{}

// Acquire returns a Handle onto device's filesystem, mounting it at a
// fresh temp directory if the inventory does not already report it as
// mounted. Acquiring an already-mounted device returns a non-owning
// Handle whose Release is a no-op.
func Acquire(device string) (*Handle, error) {
	if h, ok := mounts[device]; ok {
		return h, nil
	}

	if mp, err := existingMountPoint(device); err != nil {
		return nil, err
	} else if mp != "" {
		h := &Handle{Path: mp, owned: false}
		mounts[device] = h
		return h, nil
	}

	if err := requireMountPrivilege(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "letterman")
	if err != nil {
		return nil, ferrors.System("MkdirTemp", err)
	}
	if err := mountNTFS(device, dir); err != nil {
		os.Remove(dir)
		return nil, ferrors.System(fmt.Sprintf("mount: %s", device), err)
	}

	h := &Handle{Path: dir, owned: true}
	mounts[device] = h
	return h, nil
}

// Release unmounts and removes the scratch directory if this Handle
// owns it; otherwise it is a no-op, leaving a pre-existing mount in
// place.
func (h *Handle) Release() error {
	if !h.owned {
		return nil
	}
	if err := unmountPath(h.Path); err != nil {
		return ferrors.System(fmt.Sprintf("unmount: %s", h.Path), err)
	}
	if err := os.Remove(h.Path); err != nil && !os.IsNotExist(err) {
		return ferrors.System("rmdir", err)
	}
	return nil
}

func existingMountPoint(device string) (string, error) {
	parts, err := inventory.Partitions(inventory.Criteria{
		inventory.KeyMountablePath: inventory.String(device),
	})
	if err != nil {
		return "", err
	}
	for _, props := range parts {
		if mp := props[inventory.KeyMountPoint]; mp != "" {
			return mp, nil
		}
	}
	return "", nil
}

// FromSysDir locates the SYSTEM hive given a Windows System32 directory:
// <system32>/config/SYSTEM (case-insensitive).
func FromSysDir(system32Dir string) (string, error) {
	configDir, err := findChildCI(system32Dir, "config", true)
	if err != nil {
		return "", err
	}
	return findChildCI(configDir, "SYSTEM", false)
}

// FromSysRoot locates the SYSTEM hive given a Windows directory (the
// directory usually called "Windows" or "WINDOWS" at the root of an
// installation): <windows>/System32/config/SYSTEM.
func FromSysRoot(windowsDir string) (string, error) {
	sysDir, err := findChildCI(windowsDir, "System32", true)
	if err != nil {
		return "", err
	}
	return FromSysDir(sysDir)
}

// FromSysDrive locates the SYSTEM hive given either a mounted filesystem
// root or an unmounted block device path, mirroring the original tool's
// hiveFromSysDrive: a block device is mounted (or its existing mount
// point reused) before descending into it.
func FromSysDrive(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ferrors.Userf("path does not exist: %s", path)
		}
		return "", ferrors.System(fmt.Sprintf("stat: %s", path), err)
	}

	if info.Mode()&os.ModeDevice != 0 {
		h, err := Acquire(path)
		if err != nil {
			return "", err
		}
		return FromSysDrive(h.Path)
	}
	if !info.IsDir() {
		return "", ferrors.Userf("not a device or directory: %s", path)
	}

	winDir, err := findChildCI(path, "Windows", true)
	if err != nil {
		return "", err
	}
	return FromSysRoot(winDir)
}

// Find is an alias for FromSysDrive, the common entry point when callers
// only have a mount point or a raw device path and no more specific
// hint about how deep into the tree it already points.
func Find(path string) (string, error) {
	return FromSysDrive(path)
}

func findChildCI(dir, name string, wantDir bool) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", ferrors.System(fmt.Sprintf("ReadDir: %s", dir), err)
	}
	for _, e := range entries {
		if !equalFold(e.Name(), name) {
			continue
		}
		if e.IsDir() != wantDir {
			continue
		}
		return filepath.Join(dir, e.Name()), nil
	}
	kind := "directory"
	if !wantDir {
		kind = "file"
	}
	return "", ferrors.Userf("no such %s in %s: %s", kind, dir, name)
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'a' && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if cb >= 'a' && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
