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

package monitor

import (
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

var windowsDriveSource = regexp.MustCompile(`^/([a-zA-Z])/`)

// hostSourcePath maps a bind source as the daemon reports it back to a
// path on this host. On Windows the daemon reports drive-rooted sources
// in MSYS form ("/c/Users/..."), which no local filesystem API accepts.
func hostSourcePath(source string) string {
	if runtime.GOOS != "windows" {
		return source
	}
	m := windowsDriveSource.FindStringSubmatch(source)
	if m == nil {
		return source
	}
	return filepath.FromSlash(strings.ToUpper(m[1]) + ":/" + source[len("/x/"):])
}
