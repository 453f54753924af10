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

package hive

import (
	"github.com/joshuapare/hivekit"
	"github.com/joshuapare/hivekit/pkg/types"
)

// hivekitOpen and hivekitOpenEditor are the only two call sites that
// depend on hivekit's root-package constructor names, which were not
// present in the retrieval pack (only pkg/types was). Keeping them in
// their own file means a future correction is a one-file change; the
// rest of this package depends only on the documented types.Reader/
// types.Editor/types.Tx interfaces.
func hivekitOpen(path string, opts types.OpenOptions) (types.Reader, error) {
	return hivekit.Open(path, opts)
}

func hivekitOpenEditor(path string, opts types.OpenOptions) (types.Editor, error) {
	return hivekit.OpenEditor(path, opts)
}
