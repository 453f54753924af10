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

package main

import (
	"github.com/google/letterman/ferrors"
	"github.com/google/letterman/inventory"
	"github.com/google/letterman/mount"
)

// probeForHive scans every NTFS partition for a Windows installation,
// mirroring the original tool's getAllWindowsInstalls: mount (or reuse
// the existing mount of) each NTFS partition and check whether it
// contains a SYSTEM hive. Ambiguity (more than one match) is a
// UserFault, same as an unmapped or already-taken drive letter.
func probeForHive() (string, error) {
	parts, err := inventory.Partitions(inventory.Criteria{
		inventory.KeyIsNTFS: inventory.String("1"),
	})
	if err != nil {
		return "", err
	}

	var found []string
	for device, props := range parts {
		root := props[inventory.KeyMountPoint]
		if root == "" {
			root = device
		}
		path, err := mount.FromSysDrive(root)
		if err != nil {
			if ferrors.IsUserFault(err) {
				continue // no Windows install on this partition
			}
			return "", err
		}
		found = append(found, path)
	}

	switch len(found) {
	case 0:
		return "", ferrors.Userf("no Windows installation found")
	case 1:
		return found[0], nil
	default:
		return "", ferrors.Userf("ambiguous Windows installation: found %d candidates", len(found))
	}
}
