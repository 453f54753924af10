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

//go:build linux
// +build linux

package mount

import "golang.org/x/sys/unix"

// mountNTFSImpl mounts device at target read-only, matching the
// original tool's Linux mount() call (ntfs-3g or the kernel ntfs driver,
// whichever is installed, handles the "ntfs" fstype).
func mountNTFSImpl(device, target string) error {
	return unix.Mount(device, target, "ntfs", unix.MS_RDONLY, "")
}

// unmountPathImpl detaches the mount lazily, matching the original
// tool's MNT_DETACH so a hive read that is still in flight does not get
// an EBUSY unmount failure.
func unmountPathImpl(target string) error {
	return unix.Unmount(target, unix.MNT_DETACH)
}
