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
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"gotest.tools/v3/assert"

	"github.com/docker/volume-watcher/pkg/api"
	"github.com/docker/volume-watcher/pkg/watch"
)

// fakeExecer scripts per-step results and records every invocation.
type fakeExecer struct {
	mu      sync.Mutex
	scripts []execScript
	calls   [][]string
	callCh  chan []string
}

type execScript struct {
	result ExecResult
	err    error
}

func newFakeExecer(scripts ...execScript) *fakeExecer {
	return &fakeExecer{scripts: scripts, callCh: make(chan []string, 16)}
}

func (f *fakeExecer) Exec(_ context.Context, _ string, cmd []string, privileged bool) (ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !privileged {
		panic("notification commands must run privileged")
	}
	f.calls = append(f.calls, cmd)
	f.callCh <- cmd
	if len(f.scripts) == 0 {
		return ExecResult{}, nil
	}
	s := f.scripts[0]
	f.scripts = f.scripts[1:]
	return s.result, s.err
}

func (f *fakeExecer) recorded() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.calls...)
}

func (f *fakeExecer) waitForCall(t *testing.T) []string {
	t.Helper()
	select {
	case cmd := <-f.callCh:
		return cmd
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exec call")
		return nil
	}
}

// fakeWatcher hand-delivers events, standing in for the filesystem.
type fakeWatcher struct {
	events chan watch.FileEvent
	errs   chan error
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{events: make(chan watch.FileEvent), errs: make(chan error)}
}

func (f *fakeWatcher) Start() error                 { return nil }
func (f *fakeWatcher) Events() chan watch.FileEvent { return f.events }
func (f *fakeWatcher) Errors() chan error           { return f.errs }
func (f *fakeWatcher) Close() error {
	close(f.events)
	return nil
}

var testBinding = WatchBinding{
	HostDir:      "/home/u/proj",
	ContainerDir: "/app",
	Container:    Container{ID: "cafebabe", Name: "web"},
}

func startForTest(t *testing.T, execer Execer, w *fakeWatcher) *ContainerNotifier {
	t.Helper()
	n, err := start(execer, testBinding, w, watch.NewDebouncer(watch.DefaultCooldown, clockwork.NewFakeClock()))
	assert.NilError(t, err)
	return n
}

func TestTransactionSuccess(t *testing.T) {
	execer := newFakeExecer(
		execScript{result: ExecResult{ExitCode: 0, Output: []byte("644\n")}},
		execScript{result: ExecResult{ExitCode: 0}},
	)
	n := startForTest(t, execer, newFakeWatcher())

	out, err := n.transact(context.Background(), "/app/src/main.py")
	assert.NilError(t, err)
	assert.Equal(t, len(out), 0)

	calls := execer.recorded()
	assert.Equal(t, len(calls), 2)
	assert.DeepEqual(t, calls[0], []string{"stat", "-c", "%a", "/app/src/main.py"})
	assert.DeepEqual(t, calls[1], []string{"chmod", "644", "/app/src/main.py"})

	assert.NilError(t, n.Stop())
}

func TestTransactionAbortsOnStatFailure(t *testing.T) {
	execer := newFakeExecer(
		execScript{result: ExecResult{ExitCode: 1}},
	)
	n := startForTest(t, execer, newFakeWatcher())

	_, err := n.transact(context.Background(), "/app/gone.py")
	assert.Assert(t, api.IsCommandFailed(err))
	assert.Assert(t, !api.IsTransportFailed(err))

	// chmod never ran
	assert.Equal(t, len(execer.recorded()), 1)

	assert.NilError(t, n.Stop())
}

func TestTransactionAbortsOnChmodFailure(t *testing.T) {
	execer := newFakeExecer(
		execScript{result: ExecResult{ExitCode: 0, Output: []byte("600")}},
		execScript{result: ExecResult{ExitCode: 126}},
	)
	n := startForTest(t, execer, newFakeWatcher())

	_, err := n.transact(context.Background(), "/app/a.py")
	assert.Assert(t, api.IsCommandFailed(err))
	assert.ErrorContains(t, err, "exit code 126")

	assert.NilError(t, n.Stop())
}

func TestTransactionTransportFailure(t *testing.T) {
	execer := newFakeExecer(
		execScript{err: context.DeadlineExceeded},
	)
	n := startForTest(t, execer, newFakeWatcher())

	_, err := n.transact(context.Background(), "/app/a.py")
	assert.Assert(t, api.IsTransportFailed(err))
	assert.Equal(t, len(execer.recorded()), 1)

	assert.NilError(t, n.Stop())
}

func TestNotifierTranslatesEventPath(t *testing.T) {
	execer := newFakeExecer(
		execScript{result: ExecResult{ExitCode: 0, Output: []byte("644")}},
		execScript{result: ExecResult{ExitCode: 0}},
	)
	w := newFakeWatcher()
	n := startForTest(t, execer, w)

	w.events <- watch.NewFileEvent("/home/u/proj/src/main.py")

	stat := execer.waitForCall(t)
	assert.DeepEqual(t, stat, []string{"stat", "-c", "%a", "/app/src/main.py"})
	chmod := execer.waitForCall(t)
	assert.DeepEqual(t, chmod, []string{"chmod", "644", "/app/src/main.py"})

	assert.NilError(t, n.Stop())
}

func TestNotifierUsesMoveDestination(t *testing.T) {
	execer := newFakeExecer(
		execScript{result: ExecResult{ExitCode: 0, Output: []byte("644")}},
		execScript{result: ExecResult{ExitCode: 0}},
	)
	w := newFakeWatcher()
	n := startForTest(t, execer, w)

	w.events <- watch.NewMoveEvent("/home/u/proj/a.txt", "/home/u/proj/b.txt")

	stat := execer.waitForCall(t)
	assert.DeepEqual(t, stat, []string{"stat", "-c", "%a", "/app/b.txt"})

	assert.NilError(t, n.Stop())
}

func TestNotifierDebouncesBurst(t *testing.T) {
	execer := newFakeExecer(
		execScript{result: ExecResult{ExitCode: 0, Output: []byte("644")}},
		execScript{result: ExecResult{ExitCode: 0}},
	)
	w := newFakeWatcher()
	n := startForTest(t, execer, w)

	// the fake clock never advances, so only the first event fires
	for i := 0; i < 5; i++ {
		w.events <- watch.NewFileEvent("/home/u/proj/src/main.py")
	}

	assert.NilError(t, n.Stop())
	assert.Equal(t, len(execer.recorded()), 2, "expected a single stat/chmod pair")
}

func TestNotifierDropsEventsOutsideRoot(t *testing.T) {
	execer := newFakeExecer()
	w := newFakeWatcher()
	n := startForTest(t, execer, w)

	w.events <- watch.NewFileEvent("/elsewhere/x.txt")

	assert.NilError(t, n.Stop())
	assert.Equal(t, len(execer.recorded()), 0)
}

func TestNotifierFailedTransactionDoesNotStopWatcher(t *testing.T) {
	execer := newFakeExecer(
		execScript{err: context.DeadlineExceeded},
		execScript{result: ExecResult{ExitCode: 0, Output: []byte("644")}},
		execScript{result: ExecResult{ExitCode: 0}},
	)
	w := newFakeWatcher()
	clock := clockwork.NewFakeClock()
	n, err := start(execer, testBinding, w, watch.NewDebouncer(watch.DefaultCooldown, clock))
	assert.NilError(t, err)

	w.events <- watch.NewFileEvent("/home/u/proj/a.py")
	execer.waitForCall(t)

	// an out-of-root event is only received once the previous handler
	// has returned, so the failed transaction's completion timestamp is
	// recorded before the clock moves
	w.events <- watch.NewFileEvent("/elsewhere/fence.txt")
	clock.Advance(watch.DefaultCooldown + time.Second)

	w.events <- watch.NewFileEvent("/home/u/proj/b.py")
	stat := execer.waitForCall(t)
	assert.DeepEqual(t, stat, []string{"stat", "-c", "%a", "/app/b.py"})

	assert.NilError(t, n.Stop())
}

func TestNotifierStopIsSynchronous(t *testing.T) {
	execer := newFakeExecer()
	w := newFakeWatcher()
	n := startForTest(t, execer, w)

	assert.NilError(t, n.Stop())

	// the loop has exited; nothing drains the events channel anymore
	select {
	case w.errs <- nil:
		t.Fatal("loop still consuming after Stop")
	default:
	}
	assert.Equal(t, len(execer.recorded()), 0)
}

func TestNewContainerNotifierWatchesFilesystem(t *testing.T) {
	hostDir := t.TempDir()
	execer := newFakeExecer(
		execScript{result: ExecResult{ExitCode: 0, Output: []byte("644")}},
		execScript{result: ExecResult{ExitCode: 0}},
	)
	binding := WatchBinding{
		HostDir:         hostDir,
		ContainerDir:    "/app",
		Container:       Container{ID: "cafebabe", Name: "web"},
		ExcludePatterns: []string{"*.tmp"},
	}
	n, err := NewContainerNotifier(execer, binding, WithCooldown(time.Hour), WithClock(clockwork.NewFakeClock()))
	assert.NilError(t, err)
	t.Cleanup(func() { _ = n.Stop() })

	assert.NilError(t, os.WriteFile(filepath.Join(hostDir, "main.py"), []byte("x"), 0o600))
	stat := execer.waitForCall(t)
	assert.DeepEqual(t, stat, []string{"stat", "-c", "%a", "/app/main.py"})
	chmod := execer.waitForCall(t)
	assert.DeepEqual(t, chmod, []string{"chmod", "644", "/app/main.py"})
}

func TestNewContainerNotifierFailsOnMissingHostDir(t *testing.T) {
	binding := WatchBinding{
		HostDir:      filepath.Join(t.TempDir(), "gone"),
		ContainerDir: "/app",
		Container:    Container{ID: "cafebabe", Name: "web"},
	}
	_, err := NewContainerNotifier(newFakeExecer(), binding)
	assert.ErrorContains(t, err, "start observation")
}

func TestNotifierString(t *testing.T) {
	n := &ContainerNotifier{binding: testBinding}
	assert.Equal(t, n.String(), "/home/u/proj -> web:/app")
}
