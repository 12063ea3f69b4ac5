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

// Package notifier propagates host-side file changes into a running
// container. The files themselves travel over the bind mount; the
// notifier only touches the changed path's permission bits inside the
// container so that metadata-watching processes notice the change.
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/docker/volume-watcher/internal/paths"
	"github.com/docker/volume-watcher/pkg/watch"
)

// Container identifies the notification target.
type Container struct {
	ID   string
	Name string
}

// WatchBinding ties one host directory to one directory inside one
// container. Immutable for the lifetime of the ContainerNotifier that
// owns it.
type WatchBinding struct {
	HostDir         string
	ContainerDir    string
	Container       Container
	ExcludePatterns []string
}

// ContainerNotifier watches a binding's host directory and runs the
// notification transaction for every debounced change.
type ContainerNotifier struct {
	binding   WatchBinding
	execer    Execer
	watcher   watch.Notify
	debouncer *watch.Debouncer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type options struct {
	cooldown time.Duration
	clock    clockwork.Clock
}

type Option func(*options)

// WithCooldown overrides the debounce cooldown between notifications.
func WithCooldown(d time.Duration) Option {
	return func(o *options) { o.cooldown = d }
}

// WithClock injects the clock the debouncer measures with.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// NewContainerNotifier builds the watcher for binding.HostDir and
// starts observing immediately. A watcher that cannot start is fatal
// and propagates; everything after construction only ever logs.
func NewContainerNotifier(execer Execer, binding WatchBinding, opts ...Option) (*ContainerNotifier, error) {
	o := options{cooldown: watch.DefaultCooldown}
	for _, opt := range opts {
		opt(&o)
	}

	ignore, err := watch.NewExclusionMatcher(binding.ExcludePatterns)
	if err != nil {
		return nil, errors.Wrapf(err, "exclusion patterns for %s", binding.HostDir)
	}

	watcher, err := watch.NewWatcher(binding.HostDir, ignore)
	if err != nil {
		return nil, errors.Wrapf(err, "watcher for %s", binding.HostDir)
	}

	return start(execer, binding, watcher, watch.NewDebouncer(o.cooldown, o.clock))
}

// start wires the pieces together and begins observation. Split from
// NewContainerNotifier so tests can supply their own watcher.
func start(execer Execer, binding WatchBinding, watcher watch.Notify, debouncer *watch.Debouncer) (*ContainerNotifier, error) {
	ctx, cancel := context.WithCancel(context.Background())
	n := &ContainerNotifier{
		binding:   binding,
		execer:    execer,
		watcher:   watcher,
		debouncer: debouncer,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	if err := watcher.Start(); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, errors.Wrapf(err, "start observation of %s", binding.HostDir)
	}
	go n.loop()

	logrus.Infof("Notifier started: %s", n)
	return n, nil
}

func (n *ContainerNotifier) String() string {
	return fmt.Sprintf("%s -> %s:%s", n.binding.HostDir, n.binding.Container.Name, n.binding.ContainerDir)
}

// loop is the single background context every event flows through.
// One event's full transaction finishes before the next is read.
func (n *ContainerNotifier) loop() {
	defer close(n.done)
	events := n.watcher.Events()
	errs := n.watcher.Errors()
	for events != nil {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			n.handle(e)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logrus.Errorf("Watch error on %s: %v", n, err)
		}
	}
}

func (n *ContainerNotifier) handle(e watch.FileEvent) {
	hostPath := e.TargetPath()
	if !paths.IsChild(n.binding.HostDir, hostPath) {
		// shouldn't happen under recursive observation of HostDir
		logrus.Debugf("Dropping event outside watch root %s: %s", n.binding.HostDir, hostPath)
		return
	}
	n.debouncer.Do(func() {
		containerPath := Translate(n.binding.HostDir, n.binding.ContainerDir, hostPath)
		n.notify(n.ctx, containerPath)
	})
}

// Stop halts observation and blocks until the event loop has fully
// terminated; no notification runs after it returns. Call at most once.
func (n *ContainerNotifier) Stop() error {
	n.cancel()
	err := n.watcher.Close()
	<-n.done
	logrus.Infof("Notifier stopped: %s", n)
	return err
}
