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
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/google/letterman/inventory"
)

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "dump {disks|partitions}",
		Short:     "Print every disk or partition the local inventory can see",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"disks", "partitions"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var all map[string]inventory.Properties
			var err error
			if args[0] == "disks" {
				all, err = inventory.Disks(inventory.Criteria{})
			} else {
				all, err = inventory.Partitions(inventory.Criteria{})
			}
			if err != nil {
				return err
			}
			printProperties(cmd, all)
			return nil
		},
	}
	return cmd
}

func printProperties(cmd *cobra.Command, all map[string]inventory.Properties) {
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintln(cmd.OutOrStdout(), name)
		keys := make([]string, 0, len(all[name]))
		for k := range all[name] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %-28s %s\n", k, all[name][k])
		}
	}
}
