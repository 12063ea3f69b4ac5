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
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultCooldown is the minimum delay between two executed
// notifications for the same watcher.
const DefaultCooldown = 2 * time.Second

// Debouncer is a cooldown gate around an operation: a call is executed
// only if at least the cooldown has elapsed since the previous executed
// call *completed*. Calls inside the window are dropped, not queued.
//
// Measuring completion-to-completion means a slow operation extends the
// suppression window. That is deliberate: while a notification is in
// flight there is no point queueing another for the same burst of saves.
type Debouncer struct {
	cooldown time.Duration
	clock    clockwork.Clock

	mu       sync.Mutex
	lastDone time.Time
}

func NewDebouncer(cooldown time.Duration, clock clockwork.Clock) *Debouncer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Debouncer{cooldown: cooldown, clock: clock}
}

// Do executes fn unless a previous execution completed less than the
// cooldown ago, and reports whether fn ran. The admit decision and the
// completion timestamp update happen under one mutex hold, so two
// near-simultaneous callers can never both pass the gate.
func (d *Debouncer) Do(fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.lastDone.IsZero() && d.clock.Since(d.lastDone) < d.cooldown {
		return false
	}
	fn()
	d.lastDone = d.clock.Now()
	return true
}
