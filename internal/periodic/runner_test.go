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

package periodic

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func counting(calls *int64, err error) Task {
	return func(context.Context) error {
		atomic.AddInt64(calls, 1)
		return err
	}
}

// run starts r in the background and stops it when the test ends.
func run(t *testing.T, r *Runner) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRunner_RunsOnInterval(t *testing.T) {
	var calls int64
	run(t, New("test", counting(&calls, nil), 20*time.Millisecond, nil))

	assert.Eventually(t, func() bool { return atomic.LoadInt64(&calls) >= 2 }, time.Second, 5*time.Millisecond)
}

func TestRunner_WaitsForFirstTick(t *testing.T) {
	var calls int64
	run(t, New("test", counting(&calls, nil), time.Hour, nil))
	time.Sleep(20 * time.Millisecond)

	assert.Zero(t, atomic.LoadInt64(&calls))
}

func TestRunner_KeepsGoingAfterErrors(t *testing.T) {
	var calls int64
	run(t, New("test", counting(&calls, errors.New("boom")), 10*time.Millisecond, nil))

	assert.Eventually(t, func() bool { return atomic.LoadInt64(&calls) >= 3 }, time.Second, 5*time.Millisecond)
}

func TestRunner_EachRunHasDeadline(t *testing.T) {
	deadlines := make(chan time.Duration, 1)
	task := func(ctx context.Context) error {
		if d, ok := ctx.Deadline(); ok {
			select {
			case deadlines <- time.Until(d):
			default:
			}
		}
		return nil
	}
	run(t, New("test", task, 50*time.Millisecond, nil))

	select {
	case left := <-deadlines:
		assert.LessOrEqual(t, left, 50*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("task never ran with a deadline")
	}
}

func TestRunner_RunReturnsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New("test", counting(new(int64), nil), 10*time.Millisecond, nil).Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunner_ZeroIntervalNeverRuns(t *testing.T) {
	var calls int64
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	New("test", counting(&calls, nil), 0, nil).Run(ctx)
	assert.Zero(t, atomic.LoadInt64(&calls))
}
