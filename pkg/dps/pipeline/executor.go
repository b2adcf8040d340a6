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

package pipeline

import "context"

// Executor is the single-threaded cooperative "pipeline thread" described
// in spec.md §5: stage entry points, timer firings, and transport
// completion callbacks are all funneled through Post so they execute
// strictly serialized on one goroutine, and none of them ever block it.
type Executor struct {
	work chan func()
}

// NewExecutor creates an Executor with a modestly buffered work queue; the
// buffer only smooths bursts (a register + its first poll arriving back to
// back), it is never required for correctness since Run drains forever.
func NewExecutor() *Executor {
	return &Executor{work: make(chan func(), 64)}
}

// Post enqueues fn to run on the pipeline thread. Safe to call from any
// goroutine, including a timer's own goroutine or a transport callback.
func (e *Executor) Post(fn func()) {
	e.work <- fn
}

// Run drains the work queue until ctx is cancelled. Exactly one goroutine
// should call Run for the lifetime of the Executor.
func (e *Executor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-e.work:
			fn()
		}
	}
}
