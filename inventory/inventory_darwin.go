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
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	glstor "github.com/google/glazier/go/storage"
	"github.com/groob/plist"
)

// diskutilCmd and drutilCmd are dependency-injection points for testing,
// following the same pattern the storage package this was adapted from
// used.
var diskutilCmd = diskutil
var drutilCmd = drutil

func init() {
	unsupportedKeys[KeyMBRID] = true
	unsupportedKeys[KeyPartOffsetBlk] = true
	unsupportedKeys[KeyPartOffsetByte] = true
	collector = collectDarwin
}

// plistDiskUtilList mirrors the fields we need from `diskutil list -plist`.
type plistDiskUtilList struct {
	AllDisksAndPartitions []plistDisk `plist:"AllDisksAndPartitions"`
}

type plistDisk struct {
	Content          string           `plist:"Content"`
	DeviceIdentifier string           `plist:"DeviceIdentifier"`
	Partitions       []plistPartition `plist:"Partitions"`
}

type plistPartition struct {
	Content          string `plist:"Content"`
	DeviceIdentifier string `plist:"DeviceIdentifier"`
	MountPoint       string `plist:"MountPoint"`
	VolumeName       string `plist:"VolumeName"`
	DiskUUID         string `plist:"DiskUUID"`
}

// plistDeviceInfo mirrors the fields we need from `diskutil info -plist`.
type plistDeviceInfo struct {
	DeviceIdentifier string `plist:"DeviceIdentifier"`
	Path             string `plist:"DeviceNode"`
	FullName         string `plist:"IORegistryEntryName"`
	ModelName        string `plist:"MediaName"`
	PartitionStyle   string `plist:"Content"`
}

var partStyles = map[string]glstor.PartitionStyle{
	"GUID_partition_scheme":  glstor.GptStyle,
	"FDisk_partition_scheme": glstor.MbrStyle,
}

func collectDarwin() (map[string]Properties, map[string]Properties, error) {
	out, err := diskutilCmd("list", "-plist", "physical")
	if err != nil {
		return nil, nil, fmt.Errorf("diskutil list: %w", err)
	}
	var list plistDiskUtilList
	if err := plist.Unmarshal(out, &list); err != nil {
		return nil, nil, fmt.Errorf("unmarshal diskutil list: %w", err)
	}

	disks := map[string]Properties{}
	partitions := map[string]Properties{}
	opticalWithMedia := 0

	for _, d := range list.AllDisksAndPartitions {
		info, err := diskInfo(d.DeviceIdentifier)
		if err != nil {
			continue
		}
		path := "/dev/" + d.DeviceIdentifier
		rpath := "/dev/r" + d.DeviceIdentifier
		style, ok := partStyles[info.PartitionStyle]
		styleName := "Unknown"
		if ok {
			if style == glstor.GptStyle {
				styleName = "GPT"
			} else if style == glstor.MbrStyle {
				styleName = "MBR"
			}
		}
		if isOpticalContent(info.PartitionStyle) {
			opticalWithMedia++
		}
		model := strings.TrimSpace(info.ModelName)
		vendor := strings.TrimSpace(strings.Replace(info.FullName, info.ModelName, "", 1))
		disks[path] = Properties{
			KeyDeviceName:     path,
			KeyReadablePath:   rpath,
			KeyMountablePath:  path,
			KeyDiskID:         d.DeviceIdentifier,
			KeyHardware:       strings.TrimSpace(strings.Join(strings.Fields(vendor+" "+model), "_")),
			KeyPartitionStyle: styleName,
		}

		for _, part := range d.Partitions {
			ppath := "/dev/" + part.DeviceIdentifier
			prpath := "/dev/r" + part.DeviceIdentifier
			props := Properties{
				KeyDeviceName:    ppath,
				KeyReadablePath:  prpath,
				KeyMountablePath: ppath,
				KeyDiskID:        d.DeviceIdentifier,
				KeyFSType:        part.Content,
			}
			if part.MountPoint != "" {
				props[KeyMountPoint] = part.MountPoint
			}
			if part.Content == "Windows_NTFS" {
				props[KeyIsNTFS] = "1"
			}
			if part.DiskUUID != "" {
				props[KeyPartUUID] = strings.ToUpper(part.DiskUUID)
			}
			partitions[ppath] = props
		}
	}

	if bays, err := drutilCmd("list"); err == nil {
		synthesizeEmptyOptical(disks, parseDrutilBays(bays), opticalWithMedia)
	}

	return disks, partitions, nil
}

// opticalContentPrefixes are the whole-disk `Content` values diskutil
// reports for mounted optical media, data or audio alike.
var opticalContentPrefixes = []string{"CD_", "DVD_"}

func isOpticalContent(content string) bool {
	for _, p := range opticalContentPrefixes {
		if strings.HasPrefix(content, p) {
			return true
		}
	}
	return false
}

// parseDrutilBays parses `drutil list`'s "<index> <vendor> <product> <rev>"
// table into one entry per optical drive bay, reporting whether each
// bay's product name looks like a DVD-capable drive.
func parseDrutilBays(out []byte) []bool {
	var dvd []bool
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if _, err := strconv.Atoi(fields[0]); err != nil {
			continue
		}
		dvd = append(dvd, strings.Contains(strings.ToUpper(line), "DVD"))
	}
	return dvd
}

// synthesizeEmptyOptical adds one synthetic "(cdromN)"/"(dvdN)" disk
// entry per drive bay that drutil reports but that has no corresponding
// mounted-media entry in disks, per spec.md's macOS inventory contract.
func synthesizeEmptyOptical(disks map[string]Properties, bays []bool, withMedia int) {
	empty := bays[min(withMedia, len(bays)):]
	cdrom, dvd := 0, 0
	for _, isDVD := range empty {
		var id string
		if isDVD {
			id = fmt.Sprintf("(dvd%d)", dvd)
			dvd++
		} else {
			id = fmt.Sprintf("(cdrom%d)", cdrom)
			cdrom++
		}
		disks[id] = Properties{
			KeyDeviceName:     id,
			KeyMountablePath:  id,
			KeyReadablePath:   id,
			KeyDiskID:         id,
			KeyPartitionStyle: "Unknown",
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func diskInfo(id string) (plistDeviceInfo, error) {
	out, err := diskutilCmd("info", "-plist", id)
	if err != nil {
		return plistDeviceInfo{}, fmt.Errorf("diskutil info %s: %w", id, err)
	}
	var info plistDeviceInfo
	if err := plist.Unmarshal(out, &info); err != nil {
		return plistDeviceInfo{}, fmt.Errorf("unmarshal diskutil info %s: %w", id, err)
	}
	return info, nil
}

// diskutil shells out to the diskutil CLI, matching the storage package
// this backend was adapted from.
func diskutil(args ...string) ([]byte, error) {
	out, err := exec.Command("diskutil", args...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("exec.Command(\"diskutil\", %q) returned %q: %w", args, out, err)
	}
	return out, nil
}

// drutil shells out to the drutil CLI, the only way to enumerate optical
// drive bays that currently hold no medium (diskutil only lists disks
// with mounted media).
func drutil(args ...string) ([]byte, error) {
	out, err := exec.Command("drutil", args...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("exec.Command(\"drutil\", %q) returned %q: %w", args, out, err)
	}
	return out, nil
}
