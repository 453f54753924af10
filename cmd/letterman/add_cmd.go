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
	"strconv"

	"github.com/spf13/cobra"

	"github.com/google/letterman/ferrors"
	"github.com/google/letterman/inventory"
	"github.com/google/letterman/mapping"
)

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a new drive letter mapping",
	}
	cmd.AddCommand(newAddMBRCmd(), newAddPartitionCmd(), newAddRawCmd())
	return cmd
}

func newAddMBRCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mbr L: <hex-disk> <offset>",
		Short: "Add an MBR-partition mapping from a disk signature and byte offset",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			letter, err := driveLetter(args[0])
			if err != nil {
				return err
			}
			diskID, err := strconv.ParseUint(args[1], 16, 32)
			if err != nil {
				return ferrors.Userf("invalid hex disk signature %q: %v", args[1], err)
			}
			offset, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return ferrors.Userf("invalid offset %q: %v", args[2], err)
			}

			m := mapping.MBRPartition{DiskID: uint32(diskID), OffsetBytes: offset}
			store, err := openStore(true)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Add(letter, m.Encode())
		},
	}
}

func newAddPartitionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "partition L: <device>",
		Short: "Add a mapping for a live partition, identified by its MBR disk signature and offset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			letter, err := driveLetter(args[0])
			if err != nil {
				return err
			}
			device := args[1]

			parts, err := inventory.Partitions(inventory.Criteria{inventory.KeyDeviceName: inventory.String(device)})
			if err != nil {
				return err
			}
			props, ok := parts[device]
			if !ok {
				return ferrors.Userf("no such partition: %s", device)
			}
			disks, err := inventory.Disks(inventory.Criteria{inventory.KeyDiskID: inventory.String(props[inventory.KeyDiskID])})
			if err != nil {
				return err
			}
			var diskProps inventory.Properties
			for _, dp := range disks {
				diskProps = dp
			}
			if diskProps == nil {
				return ferrors.Userf("could not find the disk for partition: %s", device)
			}

			diskSig64, err := strconv.ParseUint(diskProps[inventory.KeyMBRID], 16, 32)
			if err != nil {
				return ferrors.Userf("partition's disk has no MBR signature (not an MBR disk?): %s", device)
			}
			diskSig := uint32(diskSig64)

			offset, err := strconv.ParseUint(props[inventory.KeyPartOffsetByte], 10, 64)
			if err != nil {
				return ferrors.Userf("partition has no byte offset available: %s", device)
			}

			m := mapping.MBRPartition{DiskID: diskSig, OffsetBytes: offset}
			store, err := openStore(true)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Add(letter, m.Encode())
		},
	}
}

func newAddRawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "raw L: <string>",
		Short: "Add a mapping from a literal byte string, for advanced or recovery use",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			letter, err := driveLetter(args[0])
			if err != nil {
				return err
			}
			store, err := openStore(true)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Add(letter, []byte(args[1]))
		},
	}
}
