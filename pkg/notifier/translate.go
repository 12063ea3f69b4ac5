/*
   Copyright 2020 Docker Volume Watcher authors

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at
       http://www.apache.org/licenses/LICENSE-2.0
   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package notifier

import (
	"path"
	"path/filepath"
)

// Translate maps a host path under hostDir to the corresponding
// absolute path under containerDir. Container paths are always
// Unix-style regardless of the host separator convention.
//
// A hostPath outside hostDir yields whatever the relative-path
// computation produces (".." segments and all); callers watching
// hostDir recursively never hand us one.
func Translate(hostDir, containerDir, hostPath string) string {
	rel, err := filepath.Rel(hostDir, hostPath)
	if err != nil {
		// different volume on Windows; nothing sensible to relativize
		rel = hostPath
	}
	return path.Join(containerDir, filepath.ToSlash(rel))
}
