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
	"github.com/spf13/cobra"

	"github.com/google/letterman/ferrors"
)

// driveLetter validates and extracts the letter from a "C:"-style CLI
// argument.
func driveLetter(arg string) (byte, error) {
	if len(arg) != 2 || arg[1] != ':' {
		return 0, ferrors.Userf("invalid drive letter %q, expected form C:", arg)
	}
	l := arg[0]
	if l >= 'a' && l <= 'z' {
		l -= 'a' - 'A'
	}
	if l < 'A' || l > 'Z' {
		return 0, ferrors.Userf("invalid drive letter %q, expected form C:", arg)
	}
	return l, nil
}

func newSwapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "swap A: B:",
		Short: "Exchange the device mappings of two drive letters",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := driveLetter(args[0])
			if err != nil {
				return err
			}
			b, err := driveLetter(args[1])
			if err != nil {
				return err
			}
			store, err := openStore(true)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Swap(a, b)
		},
	}
}

func newChangeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "change A: B:",
		Short: "Move a drive letter's mapping onto another, unused letter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := driveLetter(args[0])
			if err != nil {
				return err
			}
			to, err := driveLetter(args[1])
			if err != nil {
				return err
			}
			store, err := openStore(true)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Change(from, to)
		},
	}
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove A:",
		Short: "Clear a drive letter's mapping",
		Args:  cobra.ExactArgs(1),
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
			return store.Remove(letter)
		},
	}
}
