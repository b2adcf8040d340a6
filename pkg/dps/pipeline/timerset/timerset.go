/*
Portions Copyright (c) Microsoft Corporation.

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

// Package timerset implements the per-operation bag of cancellable one-shot
// timers described in spec.md §4.4: a timeout timer, a retry-after timer,
// and a polling timer. Firing never mutates operation state directly — the
// fired callback is posted onto the owning Poster (the pipeline thread) so
// stage and timer code are always serialized on one goroutine.
package timerset

import (
	"sync"
	"time"
)

// Poster is satisfied by the pipeline executor: it schedules fn to run on
// the pipeline thread rather than invoking it from the timer's own
// goroutine.
type Poster interface {
	Post(fn func())
}

// Handle is a single cancellable one-shot timer.
type Handle struct {
	mu        sync.Mutex
	timer     *time.Timer
	cancelled bool
}

// Arm schedules fn to run on poster after d, unless Cancel is called first.
// A previously armed, not-yet-fired timer on this handle is stopped before
// the new one is started, so a handle only ever tracks one live timer.
func (h *Handle) Arm(poster Poster, d time.Duration, fn func()) {
	h.mu.Lock()
	if h.timer != nil {
		h.timer.Stop()
	}
	h.cancelled = false
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		h.mu.Lock()
		cancelled := h.cancelled
		h.mu.Unlock()
		if cancelled {
			return
		}
		poster.Post(func() {
			h.mu.Lock()
			live := h.timer == t && !h.cancelled
			h.mu.Unlock()
			if live {
				fn()
			}
		})
	})
	h.timer = t
	h.mu.Unlock()
}

// Cancel stops the underlying timer and marks any in-flight firing (already
// queued onto the poster but not yet executed) inert.
func (h *Handle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = true
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

// Armed reports whether this handle has been armed and not cancelled since.
// It stays true after the timer has fired, until Cancel is called.
func (h *Handle) Armed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.timer != nil && !h.cancelled
}

// Set bundles the three named timers one RegisterOperation or
// PollStatusOperation owns. RetryAfter and Polling are mutually exclusive:
// arming one cancels any live instance of the other, matching spec.md §3's
// invariant that a pending retry-after timer and a pending polling timer
// never coexist for the same operation.
type Set struct {
	Timeout    Handle
	RetryAfter Handle
	Polling    Handle
}

// ArmTimeout arms the per-operation timeout timer. Called once when a stage
// begins processing an operation.
func (s *Set) ArmTimeout(poster Poster, d time.Duration, fn func()) {
	s.Timeout.Arm(poster, d, fn)
}

// ArmRetryAfter arms the retry-after timer, first cancelling any live
// polling timer to preserve mutual exclusion.
func (s *Set) ArmRetryAfter(poster Poster, d time.Duration, fn func()) {
	s.Polling.Cancel()
	s.RetryAfter.Arm(poster, d, fn)
}

// ArmPolling arms the polling timer, first cancelling any live retry-after
// timer to preserve mutual exclusion.
func (s *Set) ArmPolling(poster Poster, d time.Duration, fn func()) {
	s.RetryAfter.Cancel()
	s.Polling.Arm(poster, d, fn)
}

// CancelAll releases every timer this operation owns. Called on every
// terminal transition so a completed operation never dangles a live timer.
func (s *Set) CancelAll() {
	s.Timeout.Cancel()
	s.RetryAfter.Cancel()
	s.Polling.Cancel()
}
