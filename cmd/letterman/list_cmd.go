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

	"github.com/spf13/cobra"

	"github.com/google/letterman/mapping"
	"github.com/google/letterman/resolver"
)

func newListCmd() *cobra.Command {
	var withoutLetter bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every mapping under MountedDevices and its resolved device, if any",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(false)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(withoutLetter)
			if err != nil {
				return err
			}
			for _, e := range entries {
				m := mapping.Decode(e.Data)
				name, err := resolver.Resolve(m)
				if err != nil {
					return err
				}
				key := fmt.Sprintf("%c:", e.Letter)
				if e.Letter == 0 {
					key = e.Volume
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %-40s %s\n", key, m, name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withoutLetter, "volumes", false, "include entries keyed by volume GUID instead of drive letter")
	return cmd
}
