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

// Stage is implemented by every pipeline stage. RunOp must be called on the
// pipeline thread.
type Stage interface {
	RunOp(ctx context.Context, op Operation)
}

// BaseStage forwards any operation its embedder doesn't recognize to Next,
// the Go rendering of the source's `super()._run_op(op)` pass-through
// fallback (spec.md §9): each stage handles its own variants and delegates
// the rest.
type BaseStage struct {
	Next Stage
}

// RunOp passes op down to Next, or drops it silently if there is no next
// stage configured (the end of the chain this module builds).
func (b BaseStage) RunOp(ctx context.Context, op Operation) {
	if b.Next != nil {
		b.Next.RunOp(ctx, op)
	}
}
