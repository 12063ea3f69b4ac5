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

// Package monitor discovers bind mounts on running containers and
// keeps one ContainerNotifier alive per (container, bind) pair,
// rebinding as containers start and die.
package monitor

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/docker/volume-watcher/pkg/notifier"
	"github.com/docker/volume-watcher/pkg/watch"
)

// Options configure which containers and paths get watched.
type Options struct {
	// ContainerNamePattern is a glob matched against container names;
	// non-matching containers are left alone. Defaults to "*".
	ContainerNamePattern string

	// ExcludePatterns are glob patterns for host paths whose changes
	// should be ignored.
	ExcludePatterns []string

	// Cooldown between notifications per watched bind. Defaults to
	// watch.DefaultCooldown.
	Cooldown time.Duration
}

// Monitor owns all notifiers for one docker daemon.
type Monitor struct {
	apiClient client.APIClient
	execer    notifier.Execer
	opts      Options

	mu        sync.Mutex
	notifiers map[string][]*notifier.ContainerNotifier
}

func New(apiClient client.APIClient, opts Options) *Monitor {
	return newMonitor(apiClient, notifier.NewDockerExecer(apiClient), opts)
}

func newMonitor(apiClient client.APIClient, execer notifier.Execer, opts Options) *Monitor {
	if opts.ContainerNamePattern == "" {
		opts.ContainerNamePattern = "*"
	}
	if opts.Cooldown == 0 {
		opts.Cooldown = watch.DefaultCooldown
	}
	return &Monitor{
		apiClient: apiClient,
		execer:    execer,
		opts:      opts,
		notifiers: map[string][]*notifier.ContainerNotifier{},
	}
}

// Run attaches notifiers to all running containers' binds, then follows
// the daemon's event stream to rebind as containers start and die. It
// blocks until ctx is cancelled, stopping every notifier on the way out.
func (m *Monitor) Run(ctx context.Context) error {
	containers, err := m.apiClient.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return errors.Wrap(err, "list containers")
	}
	for _, c := range containers {
		m.attach(ctx, c.ID, containerName(c.Names))
	}

	msgs, errs := m.apiClient.Events(ctx, events.ListOptions{
		Filters: filters.NewArgs(filters.Arg("type", "container")),
	})

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err := <-errs:
				return errors.Wrap(err, "events stream")
			case msg := <-msgs:
				name := msg.Actor.Attributes["name"]
				switch msg.Action {
				case events.ActionStart:
					m.attach(ctx, msg.Actor.ID, name)
				case events.ActionDie:
					m.detach(msg.Actor.ID, name)
				}
			}
		}
	})

	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if stopErr := m.stopAll(); stopErr != nil {
		err = multierror.Append(err, stopErr).ErrorOrNil()
	}
	return err
}

// attach creates a notifier for every bind mount on the container.
// Per-bind failures (a source directory that doesn't exist on this
// host, a single-file bind) are logged and skipped, never fatal.
func (m *Monitor) attach(ctx context.Context, id string, name string) {
	if ok, _ := path.Match(m.opts.ContainerNamePattern, name); !ok {
		return
	}

	info, err := m.apiClient.ContainerInspect(ctx, id)
	if err != nil {
		logrus.Errorf("Failed to inspect container %s: %v", name, err)
		return
	}

	for _, mnt := range info.Mounts {
		if mnt.Type != mount.TypeBind {
			continue
		}
		binding := notifier.WatchBinding{
			HostDir:         hostSourcePath(mnt.Source),
			ContainerDir:    mnt.Destination,
			Container:       notifier.Container{ID: id, Name: name},
			ExcludePatterns: m.opts.ExcludePatterns,
		}
		n, err := notifier.NewContainerNotifier(m.execer, binding, notifier.WithCooldown(m.opts.Cooldown))
		if err != nil {
			logrus.Warnf("Skipping bind %s for container %s: %v", binding.HostDir, name, err)
			continue
		}
		m.mu.Lock()
		m.notifiers[id] = append(m.notifiers[id], n)
		m.mu.Unlock()
	}
}

func (m *Monitor) detach(id string, name string) {
	m.mu.Lock()
	ns := m.notifiers[id]
	delete(m.notifiers, id)
	m.mu.Unlock()

	for _, n := range ns {
		if err := n.Stop(); err != nil {
			logrus.Errorf("Failed to stop notifier %s for container %s: %v", n, name, err)
		}
	}
}

func (m *Monitor) stopAll() error {
	m.mu.Lock()
	all := m.notifiers
	m.notifiers = map[string][]*notifier.ContainerNotifier{}
	m.mu.Unlock()

	var result *multierror.Error
	for _, ns := range all {
		for _, n := range ns {
			if err := n.Stop(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}
