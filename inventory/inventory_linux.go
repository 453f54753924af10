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

package inventory

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/godbus/dbus"
)

const (
	udisksService = "org.freedesktop.UDisks2"
	udisksRoot    = "/org/freedesktop/UDisks2"

	blockIface     = "org.freedesktop.UDisks2.Block"
	partitionIface = "org.freedesktop.UDisks2.Partition"
	ptableIface    = "org.freedesktop.UDisks2.PartitionTable"
	driveIface     = "org.freedesktop.UDisks2.Drive"
	fsIface        = "org.freedesktop.UDisks2.Filesystem"
)

func init() {
	collector = collectLinux
}

// collectLinux builds the disk/partition snapshot from the system
// UDisks2 daemon over D-Bus, the same transport the storage package this
// was adapted from already used to power Eject.
func collectLinux() (map[string]Properties, map[string]Properties, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, nil, fmt.Errorf("dbus.SystemBus(): %w", err)
	}
	defer conn.Close()

	obj := conn.Object(udisksService, dbus.ObjectPath(udisksRoot))
	var managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := obj.Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0)
	if call.Err != nil {
		return nil, nil, fmt.Errorf("GetManagedObjects(): %w", call.Err)
	}
	if err := call.Store(&managed); err != nil {
		return nil, nil, fmt.Errorf("decoding GetManagedObjects() reply: %w", err)
	}

	disks := map[string]Properties{}
	partitions := map[string]Properties{}

	for path, ifaces := range managed {
		block, ok := ifaces[blockIface]
		if !ok {
			continue
		}
		device := variantBytesString(block["Device"])
		if device == "" {
			continue
		}

		props := Properties{
			KeyDeviceName:    device,
			KeyReadablePath:  device,
			KeyMountablePath: device,
			KeyFSType:        variantString(block["IdType"]),
		}
		if props[KeyFSType] == "ntfs" {
			props[KeyIsNTFS] = "1"
		}
		if mp := firstMountPoint(ifaces[fsIface]); mp != "" {
			props[KeyMountPoint] = mp
		}
		var maj, min string
		if m, n, ok := majorMinor(device); ok {
			props[KeyMajor] = m
			props[KeyMinor] = n
			maj, min = m, n
		}

		lba := uint64(defaultLBASize)
		if n, ok := logicalBlockSize(device); ok {
			lba = n
		}

		if part, ok := ifaces[partitionIface]; ok {
			props[KeyDiskID] = string(variantPath(part["Table"]))
			offset := variantUint64(part["Offset"])
			props[KeyPartOffsetByte] = strconv.FormatUint(offset, 10)
			props[KeyPartOffsetBlk] = strconv.FormatUint(offset/lba, 10)
			if uuid := variantString(part["UUID"]); uuid != "" {
				props[KeyPartUUID] = strings.ToUpper(uuid)
			}
			partitions[device] = props
			continue
		}

		if maj != "" && isFloppy(maj, min) {
			continue
		}

		props[KeyDiskID] = string(path)
		props[KeyLBASize] = strconv.FormatUint(lba, 10)
		if drive, ok := ifaces[driveIface]; ok {
			vendor := variantString(drive["Vendor"])
			model := variantString(drive["Model"])
			props[KeyHardware] = strings.TrimSpace(strings.TrimSpace(vendor + " " + model))
		}
		if pt, ok := ifaces[ptableIface]; ok {
			typ := variantString(pt["Type"])
			switch typ {
			case "dos":
				props[KeyPartitionStyle] = "MBR"
				if id := variantString(pt["UUID"]); id != "" {
					props[KeyMBRID] = strings.ToLower(strings.ReplaceAll(id, "-", ""))
				}
			case "gpt":
				props[KeyPartitionStyle] = "GPT"
			}
		}
		disks[device] = props
	}

	return disks, partitions, nil
}

func variantString(v dbus.Variant) string {
	s, _ := v.Value().(string)
	return s
}

func variantUint64(v dbus.Variant) uint64 {
	switch n := v.Value().(type) {
	case uint64:
		return n
	case int64:
		return uint64(n)
	}
	return 0
}

func variantPath(v dbus.Variant) dbus.ObjectPath {
	p, _ := v.Value().(dbus.ObjectPath)
	return p
}

// variantBytesString decodes a NUL-terminated byte-array D-Bus property
// (UDisks2 "ay" values, e.g. Block.Device) into a Go string.
func variantBytesString(v dbus.Variant) string {
	b, ok := v.Value().([]byte)
	if !ok {
		return ""
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// firstMountPoint decodes Filesystem.MountPoints ("aay") and returns the
// first entry, or "" if the filesystem is not mounted.
func firstMountPoint(fsProps map[string]dbus.Variant) string {
	if fsProps == nil {
		return ""
	}
	raw, ok := fsProps["MountPoints"].Value().([][]byte)
	if !ok || len(raw) == 0 {
		return ""
	}
	b := raw[0]
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// sysClassBlock is a dependency-injection point for testing.
var sysClassBlock = "/sys/class/block"

// majorMinor reads the major:minor device numbers from sysfs, since
// UDisks2's Block interface does not expose them directly.
func majorMinor(device string) (major, minor string, ok bool) {
	name := filepath.Base(device)
	data, err := os.ReadFile(filepath.Join(sysClassBlock, name, "dev"))
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimSpace(string(data)), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// logicalBlockSize reads a block device's real sector size from sysfs.
// UDisks2's Block interface doesn't expose it, and hardcoding 512
// mis-converts byte offsets to blocks on 4Kn disks.
func logicalBlockSize(device string) (uint64, bool) {
	name := filepath.Base(device)
	data, err := os.ReadFile(filepath.Join(sysClassBlock, name, "queue", "logical_block_size"))
	if err != nil {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}

// udevDataDir is a dependency-injection point for testing.
var udevDataDir = "/run/udev/data"

// isFloppy reports whether the device at major:minor carries udev's
// ID_DRIVE_FLOPPY property, matching devtree_linux.cc's disk-listing
// exclusion (`if (props["ID_DRIVE_FLOPPY"] == "1") continue;`).
func isFloppy(major, minor string) bool {
	data, err := os.ReadFile(filepath.Join(udevDataDir, fmt.Sprintf("b%s:%s", major, minor)))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if line == "E:ID_DRIVE_FLOPPY=1" {
			return true
		}
	}
	return false
}
