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

package watch

import (
	"path/filepath"

	"github.com/moby/patternmatcher"
)

type exclusionMatcher struct {
	matcher *patternmatcher.PatternMatcher
}

// NewExclusionMatcher builds a PathMatcher from a list of glob-style
// exclusion patterns. A pattern matches if it matches the full path,
// the path's base name, or a parent directory, so "*.tmp" excludes any
// .tmp file anywhere under the watched root.
func NewExclusionMatcher(patterns []string) (PathMatcher, error) {
	if len(patterns) == 0 {
		return EmptyMatcher{}, nil
	}
	m, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, err
	}
	return exclusionMatcher{matcher: m}, nil
}

func (e exclusionMatcher) Matches(f string) (bool, error) {
	ok, err := e.matcher.MatchesOrParentMatches(f)
	if ok || err != nil {
		return ok, err
	}
	return e.matcher.MatchesOrParentMatches(filepath.Base(f))
}

var _ PathMatcher = exclusionMatcher{}
