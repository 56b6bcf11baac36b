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

package savequeue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	key   string
	value int
}

// recorder captures processed items and optionally blocks on "block".
type recorder struct {
	mu      sync.Mutex
	calls   []call
	started chan struct{}
	release chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (r *recorder) process(ctx context.Context, key string, value int) error {
	if key == "block" || (key == "x" && value == 1) {
		r.started <- struct{}{}
		select {
		case <-r.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	r.calls = append(r.calls, call{key, value})
	r.mu.Unlock()
	return nil
}

func (r *recorder) valuesFor(key string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, c := range r.calls {
		if c.key == key {
			out = append(out, c.value)
		}
	}
	return out
}

func drain(t *testing.T, q interface{ Drain(context.Context) error }) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))
}

func TestQueue_ProcessesEverything(t *testing.T) {
	var count atomic.Int32
	q := New(4, func(ctx context.Context, key string, value int) error {
		count.Add(1)
		return nil
	}, nil)
	t.Cleanup(q.Close)

	for i := 0; i < 20; i++ {
		require.True(t, q.Push(fmt.Sprintf("k%d", i), i))
	}
	drain(t, q)
	assert.Equal(t, int32(20), count.Load())
}

func TestQueue_DrainWhenEmpty(t *testing.T) {
	q := New[string, int](4, func(context.Context, string, int) error { return nil }, nil)
	t.Cleanup(q.Close)
	drain(t, q)
}

func TestQueue_BoundedConcurrency(t *testing.T) {
	var current, peak atomic.Int32
	q := New(DefaultConcurrency, func(ctx context.Context, key string, value int) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return nil
	}, nil)
	t.Cleanup(q.Close)

	for i := 0; i < 16; i++ {
		q.Push(fmt.Sprintf("k%d", i), i)
	}
	drain(t, q)

	assert.LessOrEqual(t, peak.Load(), int32(DefaultConcurrency))
	assert.Greater(t, peak.Load(), int32(1))
}

func TestQueue_CoalescesQueuedItems(t *testing.T) {
	r := newRecorder()
	q := New(1, r.process, nil)
	t.Cleanup(q.Close)

	q.Push("block", 0)
	<-r.started

	q.Push("y", 1)
	q.Push("y", 2)
	q.Push("y", 3)
	assert.True(t, q.Pending("y"))

	close(r.release)
	drain(t, q)

	assert.Equal(t, []int{3}, r.valuesFor("y"))
	assert.False(t, q.Pending("y"))
}

func TestQueue_RerunsKeyPushedWhileRunning(t *testing.T) {
	r := newRecorder()
	q := New(4, r.process, nil)
	t.Cleanup(q.Close)

	q.Push("x", 1)
	<-r.started
	assert.True(t, q.Pending("x"))

	q.Push("x", 2)
	q.Push("x", 3)

	close(r.release)
	drain(t, q)

	assert.Equal(t, []int{1, 3}, r.valuesFor("x"))
}

func TestQueue_ErrorsDoNotStopOtherItems(t *testing.T) {
	boom := errors.New("boom")
	var processed atomic.Int32

	var mu sync.Mutex
	failed := map[string]error{}

	q := New(2, func(ctx context.Context, key string, value int) error {
		if key == "bad" {
			return boom
		}
		processed.Add(1)
		return nil
	}, func(key string, value int, err error) {
		mu.Lock()
		failed[key] = err
		mu.Unlock()
	})
	t.Cleanup(q.Close)

	q.Push("a", 1)
	q.Push("bad", 2)
	q.Push("b", 3)
	drain(t, q)

	assert.Equal(t, int32(2), processed.Load())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed["bad"], boom)
}

func TestQueue_Discard(t *testing.T) {
	r := newRecorder()
	q := New(1, r.process, nil)
	t.Cleanup(q.Close)

	q.Push("block", 0)
	<-r.started

	q.Push("a", 1)
	q.Push("b", 2)
	assert.Equal(t, 2, q.Discard())

	close(r.release)
	drain(t, q)

	assert.Empty(t, r.valuesFor("a"))
	assert.Empty(t, r.valuesFor("b"))
	assert.Equal(t, []int{0}, r.valuesFor("block"))
}

func TestQueue_DrainHonorsContext(t *testing.T) {
	r := newRecorder()
	q := New(1, r.process, nil)
	t.Cleanup(func() {
		close(r.release)
		q.Close()
	})

	q.Push("block", 0)
	<-r.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Drain(ctx), context.DeadlineExceeded)
}

func TestQueue_CloseAbandonsWaitingItems(t *testing.T) {
	r := newRecorder()

	var mu sync.Mutex
	var abandoned []string
	q := New(1, r.process, func(key string, value int, err error) {
		mu.Lock()
		defer mu.Unlock()
		if errors.Is(err, ErrClosed) {
			abandoned = append(abandoned, key)
		}
	})

	q.Push("block", 0)
	<-r.started
	q.Push("a", 1)

	q.Close()
	drain(t, q)

	assert.False(t, q.Push("b", 2))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a"}, abandoned)
}
