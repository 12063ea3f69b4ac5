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
	"expvar"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var numberOfWatches = expvar.NewInt("watch.naive.numberOfWatches")

// A naive recursive file watcher on the plain fsnotify API.
//
// fsnotify only watches single directories, so we walk the root at
// start and add a watch for every directory we find, then add watches
// for directories created while we're running.
type naiveNotify struct {
	root   string
	ignore PathMatcher

	watcher       *fsnotify.Watcher
	events        chan fsnotify.Event
	wrappedEvents chan FileEvent
	errs          chan error

	// closed when the event loop has drained and exited
	done    chan struct{}
	started bool
}

func (d *naiveNotify) Start() error {
	fi, err := os.Stat(d.root)
	if err != nil {
		return errors.Wrapf(err, "os.Stat(%q)", d.root)
	}
	if !fi.IsDir() {
		return errors.Errorf("watch root %q is not a directory", d.root)
	}

	if err := d.watchRecursively(d.root); err != nil {
		return errors.Wrapf(err, "watchRecursively(%q)", d.root)
	}

	d.started = true
	go d.loop()

	return nil
}

func (d *naiveNotify) watchRecursively(dir string) error {
	return filepath.Walk(dir, func(path string, mode os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !mode.IsDir() {
			return nil
		}
		err = d.add(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return errors.Wrapf(err, "watcher.Add(%q)", path)
		}
		return nil
	})
}

// Close shuts the underlying watcher down and blocks until the event
// loop goroutine has exited. After Close returns, nothing is ever
// written to the Events channel again.
func (d *naiveNotify) Close() error {
	err := d.watcher.Close()
	if d.started {
		<-d.done
	}
	return err
}

func (d *naiveNotify) Events() chan FileEvent {
	return d.wrappedEvents
}

func (d *naiveNotify) Errors() chan error {
	return d.errs
}

func (d *naiveNotify) loop() {
	defer close(d.done)
	defer close(d.wrappedEvents)
	for e := range d.events {
		switch {
		case e.Op&fsnotify.Create == fsnotify.Create:
			// A new directory needs watches on itself and anything
			// created inside it before we noticed it.
			err := filepath.Walk(e.Name, func(path string, mode os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if d.shouldNotify(path, mode.IsDir()) {
					d.wrappedEvents <- NewFileEvent(path)
				}
				if mode.IsDir() {
					if err := d.add(path); err != nil && !os.IsNotExist(err) {
						logrus.Infof("Error watching path %s: %s", e.Name, err)
					}
				}
				return nil
			})
			if err != nil && !os.IsNotExist(err) {
				logrus.Infof("Error walking directory %s: %s", e.Name, err)
			}
		case e.Op&fsnotify.Write == fsnotify.Write:
			dir, err := isDir(e.Name)
			if err != nil {
				logrus.Infof("Error stating %s: %s", e.Name, err)
				continue
			}
			if d.shouldNotify(e.Name, dir) {
				d.wrappedEvents <- NewFileEvent(e.Name)
			}
		case e.Op&fsnotify.Rename == fsnotify.Rename:
			// fsnotify reports a rename on the old path only; the
			// Create at the new location is the actionable event, so
			// nothing to forward here.
		default:
			// Remove and Chmod are uninteresting: there is nothing
			// left to notify about, or nothing changed in content.
		}
	}
}

func (d *naiveNotify) shouldNotify(path string, isDir bool) bool {
	if isDir {
		return false
	}
	ignore, err := d.ignore.Matches(path)
	if err != nil {
		logrus.Infof("Error matching path %q: %v", path, err)
	} else if ignore {
		logrus.Debugf("Ignoring event for path: %v", path)
		return false
	}
	return true
}

func (d *naiveNotify) add(path string) error {
	err := d.watcher.Add(path)
	if err != nil {
		return err
	}
	numberOfWatches.Add(1)
	return nil
}

func newWatcher(root string, ignore PathMatcher) (*naiveNotify, error) {
	if ignore == nil {
		return nil, errors.New("newWatcher: ignore is nil")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	wmw := &naiveNotify{
		root:          filepath.Clean(root),
		ignore:        ignore,
		watcher:       fsw,
		events:        fsw.Events,
		wrappedEvents: make(chan FileEvent),
		errs:          fsw.Errors,
		done:          make(chan struct{}),
	}

	return wmw, nil
}

func isDir(pth string) (bool, error) {
	fi, err := os.Lstat(pth)
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return fi.IsDir(), nil
}

var _ Notify = &naiveNotify{}
