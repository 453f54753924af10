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

//go:build darwin
// +build darwin

package mount

import (
	"fmt"
	"os/exec"
)

// mountNTFSImpl shells out to the macOS mount_ntfs helper, the same way
// the original tool's macOS build invoked the BSD mount() syscall with
// an ntfs-specific options struct; exec keeps us off cgo.
func mountNTFSImpl(device, target string) error {
	out, err := exec.Command("mount_ntfs", "-o", "rdonly", device, target).CombinedOutput()
	if err != nil {
		return fmt.Errorf("mount_ntfs %s %s: %v: %s", device, target, err, out)
	}
	return nil
}

// unmountPathImpl forces the unmount, matching the original tool's
// MNT_FORCE on macOS.
func unmountPathImpl(target string) error {
	out, err := exec.Command("umount", "-f", target).CombinedOutput()
	if err != nil {
		return fmt.Errorf("umount -f %s: %v: %s", target, err, out)
	}
	return nil
}
