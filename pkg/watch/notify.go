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
	"fmt"
	"path/filepath"
)

// FileEvent describes a single change under a watched root. For a
// move/rename the destination carries the path the entry was moved to;
// everything downstream acts on the destination, not the source.
type FileEvent struct {
	path string
	dest string
}

func NewFileEvent(p string) FileEvent {
	if !filepath.IsAbs(p) {
		panic(fmt.Sprintf("NewFileEvent only accepts absolute paths. Actual: %s", p))
	}
	return FileEvent{path: p}
}

// NewMoveEvent creates an event for an entry moved from src to dest.
func NewMoveEvent(src, dest string) FileEvent {
	if !filepath.IsAbs(src) || !filepath.IsAbs(dest) {
		panic(fmt.Sprintf("NewMoveEvent only accepts absolute paths. Actual: %s -> %s", src, dest))
	}
	return FileEvent{path: src, dest: dest}
}

func (e FileEvent) Path() string {
	return e.path
}

// TargetPath returns the path a consumer should act on: the move
// destination when there is one, the event path otherwise.
func (e FileEvent) TargetPath() string {
	if e.dest != "" {
		return e.dest
	}
	return e.path
}

type Notify interface {
	// Start watching the root set at init time
	Start() error

	// Stop watching and close all channels. Blocks until the event
	// loop has fully terminated; no events are delivered afterwards.
	Close() error

	// A channel to read off incoming file changes
	Events() chan FileEvent

	// A channel to read off show-stopping errors
	Errors() chan error
}

// When we watch a directory, we often want to ignore some subset of
// the files under it (editor swap files, VCS metadata, build output).
// The PathMatcher interface manages these ignores.
type PathMatcher interface {
	Matches(file string) (bool, error)
}

type EmptyMatcher struct {
}

func (EmptyMatcher) Matches(f string) (bool, error) { return false, nil }

var _ PathMatcher = EmptyMatcher{}

type CompositePathMatcher struct {
	Matchers []PathMatcher
}

func NewCompositeMatcher(matchers ...PathMatcher) PathMatcher {
	if len(matchers) == 0 {
		return EmptyMatcher{}
	}
	return CompositePathMatcher{Matchers: matchers}
}

func (c CompositePathMatcher) Matches(f string) (bool, error) {
	for _, t := range c.Matchers {
		ret, err := t.Matches(f)
		if err != nil {
			return false, err
		}
		if ret {
			return true, nil
		}
	}
	return false, nil
}

var _ PathMatcher = CompositePathMatcher{}

// NewWatcher creates a recursive watcher over root that drops events
// matching ignore before they reach the Events channel.
func NewWatcher(root string, ignore PathMatcher) (Notify, error) {
	return newWatcher(root, ignore)
}
