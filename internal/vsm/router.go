// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vsm

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/dgryski/go-rendezvous"

	"cybernetic/internal/errs"
)

// Handler processes one episode dispatched to a system's message-type
// discriminator.
type Handler func(ctx context.Context, ep Episode) error

// Router holds five static per-system dispatch tables, registered once at
// startup (redesign flag: replace dynamic dispatch on module names with a
// static dispatch table). Dispatch is additionally affinitized to a small
// fixed pool of worker goroutines via rendezvous hashing on (system,
// messageType), so repeated traffic for the same message type always lands
// on the same worker - better cache locality, same external semantics.
type Router struct {
	tables [len(Systems) + 1]map[string]Handler // indexed by System; 0 unused

	pool *workerPool
}

// NewRouter builds an empty Router backed by a worker pool of workerCount
// goroutines (default DefaultWorkerCount if non-positive).
func NewRouter(workerCount int) *Router {
	r := &Router{}
	for _, s := range Systems {
		r.tables[s] = make(map[string]Handler)
	}
	r.pool = newWorkerPool(workerCount)
	return r
}

// Register installs handler as the dispatch target for (system,
// messageType). Registering the same pair twice replaces the handler -
// callers are expected to do this once at startup, not at request time.
func (r *Router) Register(system System, messageType string, handler Handler) {
	r.tables[system][messageType] = handler
}

// Start launches the worker pool.
func (r *Router) Start() { r.pool.start() }

// Stop stops the worker pool without draining it; jobs still queued on a
// worker may never run.
func (r *Router) Stop() { r.pool.stop() }

// Dispatch looks up (in.System, in.MessageType) in the static table and
// runs the handler on the worker affinitized to that pair, blocking until
// it completes (or ctx is cancelled). It returns errs.ErrUnknownType if no
// handler is registered.
func (r *Router) Dispatch(ctx context.Context, in RouteInput, ep Episode) error {
	table := r.tables[in.System]
	if table == nil {
		return fmt.Errorf("%w: unknown system %v", errs.ErrUnknownType, in.System)
	}
	handler, ok := table[in.MessageType]
	if !ok {
		return fmt.Errorf("%w: %v/%s", errs.ErrUnknownType, in.System, in.MessageType)
	}

	affinityKey := in.System.String() + ":" + in.MessageType
	return r.pool.run(ctx, affinityKey, func() error { return handler(ctx, ep) })
}

// DefaultWorkerCount is the worker pool size used when Router is built
// with a non-positive count.
const DefaultWorkerCount = 8

// workerPool is a small, fixed set of single-goroutine workers. Each
// worker drains its own job channel in order, so two jobs that rendezvous
// to the same worker never run concurrently with each other - the same
// ordering guarantee internal/sse's shards give their own key space.
type workerPool struct {
	workers []*poolWorker
	rv      *rendezvous.Rendezvous
	names   []string

	startOnce sync.Once
	stopOnce  sync.Once
}

type poolWorker struct {
	jobs   chan poolJob
	stopCh chan struct{}
}

type poolJob struct {
	fn     func() error
	result chan error
	ctx    context.Context
}

func newWorkerPool(count int) *workerPool {
	if count <= 0 {
		count = DefaultWorkerCount
	}
	p := &workerPool{workers: make([]*poolWorker, count), names: make([]string, count)}
	for i := range p.workers {
		p.workers[i] = &poolWorker{jobs: make(chan poolJob, 256), stopCh: make(chan struct{})}
		p.names[i] = strconv.Itoa(i)
	}
	p.rv = rendezvous.New(p.names, fnvSeeded)
	return p
}

func (p *workerPool) start() {
	p.startOnce.Do(func() {
		for _, w := range p.workers {
			go w.run()
		}
	})
}

func (p *workerPool) stop() {
	p.stopOnce.Do(func() {
		for _, w := range p.workers {
			close(w.stopCh)
		}
	})
}

func (w *poolWorker) run() {
	for {
		select {
		case job := <-w.jobs:
			job.result <- job.fn()
		case <-w.stopCh:
			return
		}
	}
}

// run submits fn to the worker affinitized to key and blocks for its
// result, or returns ctx.Err() if ctx is cancelled first.
func (p *workerPool) run(ctx context.Context, key string, fn func() error) error {
	name := p.rv.Lookup(key)
	idx, err := strconv.Atoi(name)
	if err != nil || idx < 0 || idx >= len(p.workers) {
		idx = 0
	}
	w := p.workers[idx]

	result := make(chan error, 1)
	select {
	case w.jobs <- poolJob{fn: fn, result: result, ctx: ctx}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
