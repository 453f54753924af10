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

package mapping

import (
	"encoding/binary"
	"strings"
	"testing"
)

func TestDecodeMBRPartition(t *testing.T) {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 0x12345678)
	binary.LittleEndian.PutUint64(data[4:12], 0x800)

	m := Decode(data)
	mbr, ok := m.(MBRPartition)
	if !ok {
		t.Fatalf("Decode() = %T, want MBRPartition", m)
	}
	if mbr.DiskID != 0x12345678 {
		t.Errorf("DiskID = 0x%08X, want 0x12345678", mbr.DiskID)
	}
	if mbr.OffsetBytes != 0x0000000000000800 {
		t.Errorf("OffsetBytes = 0x%X, want 0x800", mbr.OffsetBytes)
	}
	if got := mbr.String(); !strings.Contains(got, "MBR Disk 0x12345678") ||
		!strings.Contains(got, "0x0000000000000800") ||
		!strings.Contains(got, "block 4") {
		t.Errorf("String() = %q, missing expected substrings", got)
	}
}

func TestMBRPartitionRoundTrip(t *testing.T) {
	want := MBRPartition{DiskID: 0xDEADBEEF, OffsetBytes: 0x123456789A}
	got := Decode(want.Encode())
	if got != Mapping(want) {
		t.Errorf("Decode(Encode(%v)) = %v, want same value", want, got)
	}
}

func TestDecodeGUIDPartition(t *testing.T) {
	data := append([]byte(dmioMagic), 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88,
		0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x00)

	m := Decode(data)
	gp, ok := m.(GUIDPartition)
	if !ok {
		t.Fatalf("Decode() = %T, want GUIDPartition", m)
	}
	want := "44332211-6655-8877-99AA-BBCCDDEEFF00"
	if gp.GUID != want {
		t.Errorf("GUID = %q, want %q", gp.GUID, want)
	}
}

func TestGUIDPartitionRoundTrip(t *testing.T) {
	want := GUIDPartition{GUID: "44332211-6655-8877-99AA-BBCCDDEEFF00"}
	got := Decode(want.Encode())
	gp, ok := got.(GUIDPartition)
	if !ok || gp.GUID != want.GUID {
		t.Errorf("Decode(Encode(%v)) = %v, want same value", want, got)
	}
}

// utf16LE encodes s (ASCII only) as UTF-16LE bytes.
func utf16LE(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, r := range s {
		out = append(out, byte(r), 0x00)
	}
	return out
}

func TestDecodeGenericDeviceInterface(t *testing.T) {
	path := `\??\IDE#CdRomSAMSUNG_DVD-ROM_SD-616#5&39d2f80&0&1.0.0#{53f56308-b6bf-11d0-94f2-00a0c91efb8b}`
	data := utf16LE(path)

	m := Decode(data)
	g, ok := m.(GenericDeviceInterface)
	if !ok {
		t.Fatalf("Decode() = %T, want GenericDeviceInterface", m)
	}
	if want := "IDE\\CdRomSAMSUNG_DVD-ROM_SD-616\\5&39d2f80&0&1.0.0"; g.InstancePath != want {
		t.Errorf("InstancePath = %q, want %q", g.InstancePath, want)
	}
	if want := "53F56308-B6BF-11D0-94F2-00A0C91EFB8B"; g.InterfaceGUID != want {
		t.Errorf("InterfaceGUID = %q, want %q", g.InterfaceGUID, want)
	}
	if got := g.String(); !strings.Contains(got, "CdRom") {
		t.Errorf("String() = %q, want it to mention CdRom", got)
	}
}

func TestDecodeUnderscorePrefix(t *testing.T) {
	path := `_??_USBSTOR#Disk&Ven_Kingston&Prod_DataTraveler#000000000001#{53f56307-b6bf-11d0-94f2-00a0c91efb8b}`
	data := utf16LE(path)

	m := Decode(data)
	if _, ok := m.(GenericDeviceInterface); !ok {
		t.Fatalf("Decode() = %T, want GenericDeviceInterface", m)
	}
}

func TestDecodeDeviceInterfaceMinimumLength(t *testing.T) {
	// 76 bytes total (38 UTF-16LE chars): the 4-char prefix plus 34
	// chars, shorter than a full braced GUID, so no room for an instance
	// path. The classification threshold is 76, checked against the
	// whole blob.
	path := `\??\{53f56308-b6bf-11d0-94f2-00a0c91e}`
	data := utf16LE(path)
	if len(data) != 76 {
		t.Fatalf("test fixture is %d bytes, want exactly 76", len(data))
	}

	m := Decode(data)
	if _, ok := m.(GenericDeviceInterface); !ok {
		t.Fatalf("Decode() = %T, want GenericDeviceInterface at the 76-byte boundary", m)
	}

	if _, ok := Decode(data[:74]).(GenericDeviceInterface); ok {
		t.Errorf("Decode() of a 74-byte blob classified as GenericDeviceInterface, want Raw")
	}
}

func TestDecodeRawFallback(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	m := Decode(data)
	raw, ok := m.(Raw)
	if !ok {
		t.Fatalf("Decode() = %T, want Raw", m)
	}
	if string(raw.Encode()) != string(data) {
		t.Errorf("Encode() = %v, want %v", raw.Encode(), data)
	}
}
