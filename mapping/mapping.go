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

// Package mapping decodes and encodes the binary value blobs stored under
// HKLM\SYSTEM\MountedDevices: MBR partition offsets, GPT partition GUIDs,
// device-interface instance paths, and anything else as a raw fallback.
package mapping

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind identifies the decoded shape of a MountedDevices value.
type Kind int

const (
	// KindMBRPartition is a 12-byte MBR disk-signature + byte-offset blob.
	KindMBRPartition Kind = iota
	// KindGUIDPartition is a 24-byte "DMIO:ID:" + GUID blob.
	KindGUIDPartition
	// KindGenericDeviceInterface is a UTF-16LE device-interface instance path.
	KindGenericDeviceInterface
	// KindRaw is any value that matches none of the above shapes.
	KindRaw
)

const dmioMagic = "DMIO:ID:"

// devInterfacePrefixes are the UTF-16LE encodings of the two equivalent
// device-interface path prefixes Windows uses.
var devInterfacePrefixes = [][]byte{
	{0x5C, 0x00, 0x3F, 0x00, 0x3F, 0x00, 0x5C, 0x00}, // \??\
	{0x5F, 0x00, 0x3F, 0x00, 0x3F, 0x00, 0x5F, 0x00}, // _??_
}

// devInterfaceGUIDNames maps well-known GUID_DEVINTERFACE_* values to a
// human-readable label, for display only.
var devInterfaceGUIDNames = map[string]string{
	"53F5630D-B6BF-11D0-94F2-00A0C91EFB8B": "Volume",
	"53F5630F-B6BF-11D0-94F2-00A0C91EFB8B": "Disk",
	"53F56308-B6BF-11D0-94F2-00A0C91EFB8B": "CdRom",
	"53F56311-B6BF-11D0-94F2-00A0C91EFB8B": "StoragePort",
	"53F5630A-B6BF-11D0-94F2-00A0C91EFB8B": "MediumChanger",
	"53F5630B-B6BF-11D0-94F2-00A0C91EFB8B": "Tape",
	"53F56314-B6BF-11D0-94F2-00A0C91EFB8B": "WriteOnceDisk",
	"53F56312-B6BF-11D0-94F2-00A0C91EFB8B": "CdChanger",
	"53F56310-B6BF-11D0-94F2-00A0C91EFB8B": "FloppyDiskette",
}

// Mapping is a decoded MountedDevices value. It is a closed sum type:
// MBRPartition, GUIDPartition, GenericDeviceInterface, and Raw are the
// only implementations.
type Mapping interface {
	// Kind reports which concrete shape this value was decoded as.
	Kind() Kind
	// Encode reconstructs the on-disk byte representation.
	Encode() []byte
	// String renders a human-readable description, for `list` output.
	String() string
}

// MBRPartition identifies a partition by its parent disk's MBR signature
// and its byte offset within that disk.
type MBRPartition struct {
	DiskID      uint32
	OffsetBytes uint64
}

// Kind implements Mapping.
func (m MBRPartition) Kind() Kind { return KindMBRPartition }

// Encode implements Mapping.
func (m MBRPartition) Encode() []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], m.DiskID)
	binary.LittleEndian.PutUint64(buf[4:12], m.OffsetBytes)
	return buf
}

// String implements Mapping.
func (m MBRPartition) String() string {
	return fmt.Sprintf("MBR Disk 0x%08x @ 0x%016x (block %d)", m.DiskID, m.OffsetBytes, m.OffsetBytes/512)
}

// GUIDPartition identifies a GPT partition by its partition GUID.
type GUIDPartition struct {
	GUID string // canonical "XXXXXXXX-XXXX-XXXX-XXXX-XXXXXXXXXXXX", uppercase
}

// Kind implements Mapping.
func (g GUIDPartition) Kind() Kind { return KindGUIDPartition }

// Encode implements Mapping.
func (g GUIDPartition) Encode() []byte {
	buf := make([]byte, 24)
	copy(buf[0:8], dmioMagic)
	copy(buf[8:24], encodeGUID(g.GUID))
	return buf
}

// String implements Mapping.
func (g GUIDPartition) String() string {
	return fmt.Sprintf("GUID Partition %s", g.GUID)
}

// GenericDeviceInterface identifies a device by its PnP device-interface
// instance path (e.g. SCSI\CdRom&Ven_...&Prod_...\...) and the
// GUID_DEVINTERFACE_* that classified it.
type GenericDeviceInterface struct {
	raw           []byte
	InstancePath  string
	InterfaceGUID string
}

// Kind implements Mapping.
func (g GenericDeviceInterface) Kind() Kind { return KindGenericDeviceInterface }

// Encode implements Mapping. The UTF-16LE decode performed by Decode drops
// non-ASCII code units, so encoding is not a true inverse of an arbitrary
// decode; Encode returns the original bytes it was decoded from.
func (g GenericDeviceInterface) Encode() []byte { return g.raw }

// String implements Mapping.
func (g GenericDeviceInterface) String() string {
	name := devInterfaceGUIDNames[strings.ToUpper(g.InterfaceGUID)]
	if name == "" {
		name = g.InterfaceGUID
	}
	return fmt.Sprintf("%s %s", name, g.InstancePath)
}

// Raw is any value whose shape is not recognized as one of the typed
// variants above.
type Raw struct {
	Data []byte
}

// Kind implements Mapping.
func (r Raw) Kind() Kind { return KindRaw }

// Encode implements Mapping.
func (r Raw) Encode() []byte { return r.Data }

// String implements Mapping.
func (r Raw) String() string {
	return fmt.Sprintf("Raw (% X)", r.Data)
}

// Decode classifies and decodes a MountedDevices value blob.
func Decode(data []byte) Mapping {
	switch {
	case len(data) == 12:
		return MBRPartition{
			DiskID:      binary.LittleEndian.Uint32(data[0:4]),
			OffsetBytes: binary.LittleEndian.Uint64(data[4:12]),
		}
	case len(data) == 24 && string(data[0:8]) == dmioMagic:
		return GUIDPartition{GUID: decodeGUID(data[8:24])}
	case isDeviceInterface(data):
		return decodeGenericDeviceInterface(data)
	default:
		return Raw{Data: append([]byte(nil), data...)}
	}
}

func isDeviceInterface(data []byte) bool {
	// (36 + 2) * 2 == 76: a braced GUID is 36 chars plus 2 braces, in
	// UTF-16LE. Checked against the whole blob, not blob-minus-prefix.
	if len(data) < 76 || len(data)%2 != 0 {
		return false
	}
	for _, prefix := range devInterfacePrefixes {
		if bytesEqual(data[0:8], prefix) {
			return true
		}
	}
	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// decodeGenericDeviceInterface implements the "poor man's" UTF-16LE
// decode: the high byte of every code unit is dropped, and any code unit
// outside the ASCII range is emitted as '?'.
func decodeGenericDeviceInterface(data []byte) GenericDeviceInterface {
	ascii := fromUTF16LEAscii(data)
	trimmed := ascii[4:] // drop the \??\ / _??_ prefix

	// "{" + 36 + "}". Blobs from the 76-byte classification threshold up
	// to 82 bytes leave fewer than 38 chars after the prefix; for those
	// this clamps rather than producing a negative-length slice, since a
	// blob that size (prefix + bare GUID, no instance path) is already a
	// malformed edge case with no single well-defined split.
	guidStart := len(trimmed) - 38
	if guidStart < 0 {
		guidStart = 0
	}
	instancePath := trimmed[:guidStart]
	guidLo, guidHi := guidStart+1, guidStart+37
	if guidHi > len(trimmed) {
		guidHi = len(trimmed)
	}
	if guidLo > guidHi {
		guidLo = guidHi
	}
	guid := strings.ToUpper(trimmed[guidLo:guidHi])

	instancePath = strings.ReplaceAll(instancePath, "#", `\`)
	instancePath = strings.TrimSuffix(instancePath, `\`)

	return GenericDeviceInterface{
		raw:           append([]byte(nil), data...),
		InstancePath:  instancePath,
		InterfaceGUID: guid,
	}
}

func fromUTF16LEAscii(data []byte) string {
	var b strings.Builder
	b.Grow(len(data) / 2)
	for i := 0; i+1 < len(data); i += 2 {
		lo, hi := data[i], data[i+1]
		if hi != 0 {
			b.WriteByte('?')
			continue
		}
		b.WriteByte(lo)
	}
	return b.String()
}

// decodeGUID renders 16 raw Microsoft-GUID bytes (fields 0..2 little
// endian, the trailing 8 bytes printed in file order) as an uppercase
// canonical GUID string.
func decodeGUID(b []byte) string {
	var textOrder [16]byte
	textOrder[0], textOrder[1], textOrder[2], textOrder[3] = b[3], b[2], b[1], b[0]
	textOrder[4], textOrder[5] = b[5], b[4]
	textOrder[6], textOrder[7] = b[7], b[6]
	copy(textOrder[8:], b[8:16])

	u, err := uuid.FromBytes(textOrder[:])
	if err != nil {
		// Sixteen bytes always produce a valid uuid.UUID; this is
		// unreachable in practice.
		return fmt.Sprintf("% X", b)
	}
	return strings.ToUpper(u.String())
}

// encodeGUID is the inverse of decodeGUID.
func encodeGUID(guid string) []byte {
	u, err := uuid.Parse(guid)
	if err != nil {
		// Callers construct GUIDPartition.GUID from decodeGUID's output
		// or validated input; an unparsable value is a programmer error.
		return make([]byte, 16)
	}
	text := u // [16]byte in text order
	out := make([]byte, 16)
	out[0], out[1], out[2], out[3] = text[3], text[2], text[1], text[0]
	out[4], out[5] = text[5], text[4]
	out[6], out[7] = text[7], text[6]
	copy(out[8:], text[8:16])
	return out
}
