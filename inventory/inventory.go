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

// Package inventory provides a criteria-queryable snapshot of the disks
// and partitions attached to the local system, unified across Linux and
// macOS backends so the resolver can query either platform the same way.
package inventory

import (
	"fmt"
	"sync"

	"github.com/google/logger"
)

// Property keys. Values are always plain strings; absence of a key means
// the backend could not determine it for that device.
const (
	KeyDeviceName     = "device-name"
	KeyMountPoint     = "mountpoint"
	KeyMajor          = "major"
	KeyMinor          = "minor"
	KeyPartUUID       = "partition-uuid"
	KeyMBRID          = "mbr-id"
	KeyPartOffsetBlk  = "partition-offset-blocks"
	KeyPartOffsetByte = "partition-offset-bytes"
	KeyFSType         = "filesystem-type"
	KeyHardware       = "hardware"
	KeyLBASize        = "lba-block-size"
	KeyDiskID         = "disk-id"
	KeyIsNTFS         = "is-ntfs"
	KeyMountablePath  = "mountable-path"
	KeyReadablePath   = "readable-path"
	KeyPartitionStyle = "partition-style"
)

// defaultLBASize is used when a backend cannot determine a disk's block
// size directly.
const defaultLBASize = 512

// Properties is the property map for one disk or partition.
type Properties map[string]string

// Value is a criteria value: either a literal string to match, or one of
// four sentinels. This replaces the NUL-prefixed sentinel-string
// convention of the tool this package is modeled on with a small tagged
// type, carrying the same matching semantics.
type Value struct {
	kind kind
	s    string
}

type kind int

const (
	kindString kind = iota
	kindAny
	kindNone
	kindIgnore
	kindImpossible
)

// String builds a Value that must equal the property's actual value.
func String(s string) Value { return Value{kind: kindString, s: s} }

// Any builds a Value that matches any present property, regardless of
// its value.
func Any() Value { return Value{kind: kindAny} }

// None builds a Value that matches only when the property is absent.
func None() Value { return Value{kind: kindNone} }

// Ignore builds a Value that is skipped during matching, as if the
// criterion were not present at all.
func Ignore() Value { return Value{kind: kindIgnore} }

// Impossible builds a Value that never matches, used to mark a property
// as unsupported on the current platform.
func Impossible() Value { return Value{kind: kindImpossible} }

// Criteria is a set of property constraints used to query the inventory.
type Criteria map[string]Value

// Matches reports whether props satisfies every constraint in criteria.
func Matches(props Properties, criteria Criteria) bool {
	for key, want := range criteria {
		switch want.kind {
		case kindIgnore:
			continue
		case kindImpossible:
			return false
		case kindAny:
			if _, ok := props[key]; !ok {
				return false
			}
		case kindNone:
			if _, ok := props[key]; ok {
				return false
			}
		default:
			actual, ok := props[key]
			if !ok || actual != want.s {
				return false
			}
		}
	}
	return true
}

// unsupportedKeys marks property keys the current platform's backend can
// never populate, set by that backend's init(). The resolver consults
// this to decide when to fall back to a direct MBR scan.
var unsupportedKeys = map[string]bool{}

// Unsupported reports whether key can never be populated on this
// platform, as opposed to merely being absent from one particular
// device's properties.
func Unsupported(key string) bool { return unsupportedKeys[key] }

// collector produces a fresh snapshot of disks and partitions. It is a
// package variable so platform files and tests can each supply their own
// implementation, the same dependency-injection pattern the storage
// package this was derived from used for lsblk/diskutil invocations.
var collector func() (disks, partitions map[string]Properties, err error)

var (
	once     sync.Once
	cache    snapshot
	cacheErr error
)

type snapshot struct {
	disks      map[string]Properties
	partitions map[string]Properties
}

func load() {
	once.Do(func() {
		if collector == nil {
			cacheErr = fmt.Errorf("inventory: no collector registered for this platform")
			return
		}
		disks, partitions, err := collector()
		if err != nil {
			cacheErr = err
			return
		}
		cache = snapshot{disks: disks, partitions: partitions}
		logger.Infof("inventory: collected %d disks, %d partitions", len(disks), len(partitions))
	})
}

// Reset clears the memoized inventory snapshot, so the next Disks or
// Partitions call re-collects. Intended for tests.
func Reset() {
	once = sync.Once{}
	cache = snapshot{}
	cacheErr = nil
}

// SetCollectorForTest overrides the collector used to populate the
// inventory and clears the memoized snapshot. Intended for tests outside
// this package that need to fake disk/partition discovery; production
// code never calls this.
func SetCollectorForTest(f func() (disks, partitions map[string]Properties, err error)) {
	collector = f
	Reset()
}

// Disks returns every disk matching criteria, keyed by device name.
func Disks(criteria Criteria) (map[string]Properties, error) {
	load()
	if cacheErr != nil {
		return nil, cacheErr
	}
	return filter(cache.disks, criteria), nil
}

// Partitions returns every partition matching criteria, keyed by device
// name.
func Partitions(criteria Criteria) (map[string]Properties, error) {
	load()
	if cacheErr != nil {
		return nil, cacheErr
	}
	return filter(cache.partitions, criteria), nil
}

func filter(all map[string]Properties, criteria Criteria) map[string]Properties {
	out := map[string]Properties{}
	for name, props := range all {
		if Matches(props, criteria) {
			out[name] = props
		}
	}
	return out
}

// blockSize reads the lba-block-size property, defaulting to 512 when
// absent.
func blockSize(props Properties) uint64 {
	if props == nil {
		return defaultLBASize
	}
	var n uint64
	if _, err := fmt.Sscanf(props[KeyLBASize], "%d", &n); err != nil || n == 0 {
		return defaultLBASize
	}
	return n
}

// BlockSize is the exported form of blockSize, used by the resolver.
func BlockSize(props Properties) uint64 { return blockSize(props) }
