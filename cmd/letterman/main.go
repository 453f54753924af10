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

// Command letterman inspects and edits the MountedDevices key of an
// offline Windows SYSTEM registry hive.
package main

import (
	"fmt"
	"os"

	"github.com/google/logger"

	"github.com/google/letterman/ferrors"
)

func main() {
	defer logger.Init("letterman", verbose, false, os.Stderr).Close()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if verbose {
			if st := ferrors.StackTrace(err); st != "" {
				fmt.Fprintln(os.Stderr, st)
			}
		}
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit code per the UserFault/
// SystemError split: 1 for something the operator can fix, 2 for an
// environment or library failure.
func exitCode(err error) int {
	switch {
	case ferrors.IsUserFault(err):
		return 1
	case ferrors.IsSystemError(err):
		return 2
	default:
		return 1
	}
}
