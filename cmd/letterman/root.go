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
	"github.com/google/letterman/hive"
	"github.com/google/letterman/mount"
)

var (
	hiveFlag     string
	sysdirFlag   string
	sysrootFlag  string
	sysdriveFlag string
	probeFlag    bool
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:           "letterman",
	Short:         "Inspect and edit an offline Windows MountedDevices registry key",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&hiveFlag, "hive", "", "path to a SYSTEM hive file")
	flags.StringVar(&sysdirFlag, "sysdir", "", "path to a Windows System32 directory")
	flags.StringVar(&sysrootFlag, "sysroot", "", "path to a Windows directory")
	flags.StringVar(&sysdriveFlag, "sysdrive", "", "path to a mount point or block device containing a Windows installation")
	flags.BoolVar(&probeFlag, "probe", false, "auto-detect a Windows installation among local partitions")
	flags.BoolVar(&verbose, "verbose", false, "print a stack trace alongside internal errors")

	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newSwapCmd())
	rootCmd.AddCommand(newChangeCmd())
	rootCmd.AddCommand(newRemoveCmd())
	rootCmd.AddCommand(newAddCmd())
	rootCmd.AddCommand(newDumpCmd())
}

// resolveHivePath applies the flags' precedence (most specific first)
// to find a SYSTEM hive file, per spec.md's hive-selection flags.
func resolveHivePath() (string, error) {
	switch {
	case hiveFlag != "":
		return hiveFlag, nil
	case sysdirFlag != "":
		return mount.FromSysDir(sysdirFlag)
	case sysrootFlag != "":
		return mount.FromSysRoot(sysrootFlag)
	case sysdriveFlag != "":
		return mount.FromSysDrive(sysdriveFlag)
	case probeFlag:
		return probeForHive()
	default:
		return "", ferrors.Userf("no hive selected: pass one of --hive, --sysdir, --sysroot, --sysdrive, or --probe")
	}
}

// openStore resolves the hive path via the selection flags and opens it.
func openStore(writable bool) (*hive.Store, error) {
	path, err := resolveHivePath()
	if err != nil {
		return nil, err
	}
	return hive.Open(path, writable)
}
