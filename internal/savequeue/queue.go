// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package savequeue runs keyed persistence work with bounded concurrency.
//
// Work is identified by a key. Pushing a key that is already waiting
// replaces its value, and pushing a key that is currently being processed
// schedules one more run once the current one finishes. Work for a single
// key therefore never runs concurrently and the last pushed value is always
// the last one processed. Different keys run in no particular order.
package savequeue

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency is the number of items processed at once.
const DefaultConcurrency = 4

var ErrClosed = errors.New("save queue closed")

// Processor handles one item. Returned errors go to the ErrorHandler; they
// never stop the queue.
type Processor[K comparable, V any] func(ctx context.Context, key K, value V) error

// ErrorHandler is told about every item that failed or was abandoned.
type ErrorHandler[K comparable, V any] func(key K, value V, err error)

type Queue[K comparable, V any] struct {
	process Processor[K, V]
	onError ErrorHandler[K, V]
	sem     *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	queued      map[K]V
	running     map[K]struct{}
	rerun       map[K]V
	outstanding int
	idle        chan struct{}
	closed      bool
}

// New creates a queue that runs process with at most concurrency items in
// flight. A concurrency below one uses DefaultConcurrency.
func New[K comparable, V any](concurrency int, process Processor[K, V], onError ErrorHandler[K, V]) *Queue[K, V] {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Queue[K, V]{
		process: process,
		onError: onError,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		ctx:     ctx,
		cancel:  cancel,
		queued:  make(map[K]V),
		running: make(map[K]struct{}),
		rerun:   make(map[K]V),
		idle:    idle,
	}
}

// Push schedules value for key. It returns false once the queue is closed.
func (q *Queue[K, V]) Push(key K, value V) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if _, ok := q.running[key]; ok {
		q.rerun[key] = value
		return true
	}
	if _, ok := q.queued[key]; ok {
		q.queued[key] = value
		return true
	}
	q.queued[key] = value
	q.startLocked(key)
	return true
}

// Pending reports whether key has work waiting or running.
func (q *Queue[K, V]) Pending(key K) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.queued[key]; ok {
		return true
	}
	_, ok := q.running[key]
	return ok
}

// Discard drops every item that has not started yet and returns how many
// were dropped. Items already running are not affected.
func (q *Queue[K, V]) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.queued) + len(q.rerun)
	clear(q.queued)
	clear(q.rerun)
	return n
}

// Drain waits until every pushed item has been attempted, including items
// pushed while draining.
func (q *Queue[K, V]) Drain(ctx context.Context) error {
	for {
		q.mu.Lock()
		idle := q.idle
		q.mu.Unlock()

		select {
		case <-idle:
			q.mu.Lock()
			done := q.outstanding == 0
			q.mu.Unlock()
			if done {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops accepting work and abandons items that have not started.
// Abandoned items are reported to the error handler with ErrClosed.
func (q *Queue[K, V]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
}

func (q *Queue[K, V]) startLocked(key K) {
	if q.outstanding == 0 {
		q.idle = make(chan struct{})
	}
	q.outstanding++
	go q.run(key)
}

func (q *Queue[K, V]) finishLocked() {
	q.outstanding--
	if q.outstanding == 0 {
		close(q.idle)
	}
}

func (q *Queue[K, V]) run(key K) {
	if err := q.sem.Acquire(q.ctx, 1); err != nil {
		q.mu.Lock()
		value, ok := q.queued[key]
		delete(q.queued, key)
		q.finishLocked()
		q.mu.Unlock()
		if ok {
			q.report(key, value, errors.Join(ErrClosed, err))
		}
		return
	}

	q.mu.Lock()
	value, ok := q.queued[key]
	if !ok {
		// discarded while waiting for a slot
		q.finishLocked()
		q.mu.Unlock()
		q.sem.Release(1)
		return
	}
	delete(q.queued, key)
	q.running[key] = struct{}{}
	q.mu.Unlock()

	err := q.process(q.ctx, key, value)
	q.sem.Release(1)
	if err != nil {
		q.report(key, value, err)
	}

	q.mu.Lock()
	delete(q.running, key)
	if next, ok := q.rerun[key]; ok {
		delete(q.rerun, key)
		q.queued[key] = next
		q.startLocked(key)
	}
	q.finishLocked()
	q.mu.Unlock()
}

func (q *Queue[K, V]) report(key K, value V, err error) {
	if q.onError != nil {
		q.onError(key, value, err)
	}
}
