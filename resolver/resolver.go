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

// Package resolver maps a decoded MountedDevices value to the live
// device it currently refers to, using the inventory package's criteria
// queries.
package resolver

import (
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/letterman/inventory"
	"github.com/google/letterman/mapping"
	"github.com/google/letterman/mbr"
)

// DeviceName is a resolved OS device path, or one of the sentinel values
// below.
type DeviceName string

const (
	// Unknown means the mapping could not be resolved and its status is
	// ambiguous (e.g. more than one device matched).
	Unknown DeviceName = "(unknown)"
	// NotAttached means the mapping's device is definitively not present
	// on this system.
	NotAttached DeviceName = "(not attached)"
)

var (
	scsiCdromVendor = regexp.MustCompile(`(?i)&Ven_([^&]+)`)
	scsiCdromProd   = regexp.MustCompile(`(?i)&Prod_([^&\\]+)`)
)

// Resolve maps m to a live device, consulting the local inventory.
func Resolve(m mapping.Mapping) (DeviceName, error) {
	switch v := m.(type) {
	case mapping.MBRPartition:
		return resolveMBR(v)
	case mapping.GUIDPartition:
		return resolveGUID(v)
	case mapping.GenericDeviceInterface:
		return resolveGeneric(v)
	default:
		return Unknown, nil
	}
}

func resolveMBR(m mapping.MBRPartition) (DeviceName, error) {
	idHex := fmt.Sprintf("%08x", m.DiskID)
	disks, err := inventory.Disks(inventory.Criteria{inventory.KeyMBRID: inventory.String(idHex)})
	if err != nil {
		return Unknown, err
	}

	var diskPath string
	var diskProps inventory.Properties
	switch len(disks) {
	case 1:
		for path, props := range disks {
			diskPath, diskProps = path, props
		}
	case 0:
		if inventory.Unsupported(inventory.KeyMBRID) {
			diskPath, diskProps, err = scanForMBRID(m.DiskID)
			if err != nil {
				return Unknown, err
			}
		}
	}
	if diskPath == "" {
		return notAttachedOrUnknown(), nil
	}

	blockSize := inventory.BlockSize(diskProps)
	targetBlocks := strconv.FormatUint(m.OffsetBytes/blockSize, 10)

	parts, err := inventory.Partitions(inventory.Criteria{
		inventory.KeyDiskID:        inventory.String(diskProps[inventory.KeyDiskID]),
		inventory.KeyPartOffsetBlk: inventory.String(targetBlocks),
	})
	if err != nil {
		return Unknown, err
	}
	if len(parts) == 0 {
		parts, err = inventory.Partitions(inventory.Criteria{
			inventory.KeyDiskID:         inventory.String(diskProps[inventory.KeyDiskID]),
			inventory.KeyPartOffsetByte: inventory.String(strconv.FormatUint(m.OffsetBytes, 10)),
		})
		if err != nil {
			return Unknown, err
		}
	}
	if len(parts) == 1 {
		for path := range parts {
			return DeviceName(path), nil
		}
	}
	if len(parts) == 0 && inventory.Unsupported(inventory.KeyPartOffsetBlk) {
		return resolveViaMBRWalk(diskPath, blockSize, m.OffsetBytes)
	}
	return notAttachedOrUnknown(), nil
}

func resolveGUID(g mapping.GUIDPartition) (DeviceName, error) {
	parts, err := inventory.Partitions(inventory.Criteria{
		inventory.KeyPartUUID: inventory.String(strings.ToUpper(g.GUID)),
	})
	if err != nil {
		return Unknown, err
	}
	switch len(parts) {
	case 1:
		for path := range parts {
			return DeviceName(path), nil
		}
	case 0:
		return NotAttached, nil
	}
	return Unknown, nil
}

func resolveGeneric(g mapping.GenericDeviceInterface) (DeviceName, error) {
	switch {
	case strings.HasPrefix(g.InstancePath, `SCSI\CdRom`):
		m := scsiCdromProd.FindStringSubmatch(g.InstancePath)
		if m == nil {
			return Unknown, nil
		}
		return matchHardware(m[1])
	case strings.HasPrefix(g.InstancePath, `IDE\CdRom`):
		idx := strings.Index(g.InstancePath, `\`)
		payload := g.InstancePath
		if idx >= 0 {
			payload = g.InstancePath[idx+1:]
		}
		disks, err := inventory.Disks(inventory.Criteria{})
		if err != nil {
			return Unknown, err
		}
		var matches []string
		for path, props := range disks {
			hw := props[inventory.KeyHardware]
			if hw != "" && strings.Contains(payload, hw) {
				matches = append(matches, path)
			}
		}
		switch len(matches) {
		case 0:
			return NotAttached, nil
		case 1:
			return DeviceName(matches[0]), nil
		default:
			return Unknown, nil
		}
	default:
		return Unknown, nil
	}
}

func matchHardware(model string) (DeviceName, error) {
	disks, err := inventory.Disks(inventory.Criteria{inventory.KeyHardware: inventory.String(model)})
	if err != nil {
		return Unknown, err
	}
	switch len(disks) {
	case 0:
		return NotAttached, nil
	case 1:
		for path := range disks {
			return DeviceName(path), nil
		}
	}
	return Unknown, nil
}

func notAttachedOrUnknown() DeviceName {
	if runtime.GOOS == "linux" {
		return NotAttached
	}
	return Unknown
}

// scanForMBRID scans every known disk's raw bytes directly via the mbr
// package, used when the inventory backend cannot expose MBR-id for all
// disks (e.g. macOS).
func scanForMBRID(diskID uint32) (string, inventory.Properties, error) {
	disks, err := inventory.Disks(inventory.Criteria{})
	if err != nil {
		return "", nil, err
	}
	for path, props := range disks {
		readable := props[inventory.KeyReadablePath]
		if readable == "" {
			continue
		}
		f, err := os.Open(readable)
		if err != nil {
			continue
		}
		m, err := mbr.Read(f)
		f.Close()
		if err != nil {
			continue
		}
		if m.DiskSignature == diskID {
			return path, props, nil
		}
	}
	return "", nil, nil
}

// resolveViaMBRWalk is the last-resort fallback when the inventory cannot
// expose partition offsets either: it reads the disk's MBR directly and
// matches the target offset against the primary entries, walking into
// the extended partition chain if necessary.
func resolveViaMBRWalk(diskPath string, blockSize, offsetBytes uint64) (DeviceName, error) {
	f, err := os.Open(diskPath)
	if err != nil {
		return Unknown, err
	}
	defer f.Close()

	m, err := mbr.Read(f)
	if err != nil {
		return Unknown, err
	}
	targetBlocks := uint32(offsetBytes / blockSize)

	for i, e := range m.Entries {
		if e.LBAStart != targetBlocks {
			continue
		}
		if e.IsExtended() {
			continue
		}
		return devicePartitionName(diskPath, i+1), nil
	}
	for _, e := range m.Entries {
		if !e.IsExtended() {
			continue
		}
		idx, ok, err := mbr.WalkChain(f, blockSize, e.LBAStart, targetBlocks)
		if err != nil {
			return Unknown, err
		}
		if ok {
			return devicePartitionName(diskPath, idx), nil
		}
	}
	return notAttachedOrUnknown(), nil
}

// devicePartitionName builds an OS-conventional partition device path:
// "disk0s1" on macOS, "sda1" (or "nvme0n1p1") on Linux.
func devicePartitionName(diskPath string, index int) DeviceName {
	if runtime.GOOS == "darwin" {
		return DeviceName(fmt.Sprintf("%ss%d", diskPath, index))
	}
	sep := ""
	if len(diskPath) > 0 {
		last := diskPath[len(diskPath)-1]
		if last >= '0' && last <= '9' {
			sep = "p"
		}
	}
	return DeviceName(fmt.Sprintf("%s%s%d", diskPath, sep, index))
}
