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

package configstore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cardinalhq/mongoconf/internal/docstore"
)

// testBackend wraps a MemoryStore, counting calls and optionally failing or
// blocking them.
type testBackend struct {
	*docstore.MemoryStore

	findCalls      atomic.Int32
	findOneCalls   atomic.Int32
	lateReads      atomic.Int32
	saveCalls      atomic.Int32
	removeCalls    atomic.Int32
	removeAppCalls atomic.Int32
	closeCalls     atomic.Int32

	mu       sync.Mutex
	findErr  error
	saveErrs map[string]error
	gate     chan struct{}
	lateGate bool
	appGate  chan struct{}
	removed  []docstore.Document
	apps     []string
}

func newTestBackend() *testBackend {
	return &testBackend{
		MemoryStore: docstore.NewMemoryStore(),
		saveErrs:    make(map[string]error),
	}
}

func (b *testBackend) connector() docstore.Connector {
	return func(context.Context) (docstore.Store, error) {
		return b, nil
	}
}

func (b *testBackend) setFindErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.findErr = err
}

func (b *testBackend) failSave(key string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saveErrs[key] = err
}

// block makes FindOne wait before reading until the returned function is
// called.
func (b *testBackend) block() (release func()) {
	return b.setGate(false)
}

// blockAfterRead makes FindOne read storage and then wait before returning
// what it read, like a reply still in transit.
func (b *testBackend) blockAfterRead() (release func()) {
	return b.setGate(true)
}

func (b *testBackend) setGate(late bool) (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.gate = gate
	b.lateGate = late
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.gate = nil
		b.mu.Unlock()
		close(gate)
	}
}

// holdRemoveApp makes RemoveApp wait before deleting until the returned
// function is called.
func (b *testBackend) holdRemoveApp() (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.appGate = gate
	b.mu.Unlock()
	return func() { close(gate) }
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *testBackend) Find(ctx context.Context, app string) ([]docstore.Document, error) {
	b.findCalls.Add(1)
	b.mu.Lock()
	err := b.findErr
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return b.MemoryStore.Find(ctx, app)
}

func (b *testBackend) FindOne(ctx context.Context, key, app string) (docstore.Document, bool, error) {
	b.findOneCalls.Add(1)
	b.mu.Lock()
	gate, late := b.gate, b.lateGate
	b.mu.Unlock()
	if late {
		doc, found, err := b.MemoryStore.FindOne(ctx, key, app)
		b.lateReads.Add(1)
		if werr := wait(ctx, gate); werr != nil {
			return docstore.Document{}, false, werr
		}
		return doc, found, err
	}
	if err := wait(ctx, gate); err != nil {
		return docstore.Document{}, false, err
	}
	return b.MemoryStore.FindOne(ctx, key, app)
}

func (b *testBackend) Save(ctx context.Context, doc docstore.Document) (docstore.Document, error) {
	b.saveCalls.Add(1)
	b.mu.Lock()
	err := b.saveErrs[doc.Key]
	b.mu.Unlock()
	if err != nil {
		return docstore.Document{}, err
	}
	return b.MemoryStore.Save(ctx, doc)
}

func (b *testBackend) Remove(ctx context.Context, doc docstore.Document) (int64, error) {
	b.removeCalls.Add(1)
	b.mu.Lock()
	b.removed = append(b.removed, doc)
	b.mu.Unlock()
	return b.MemoryStore.Remove(ctx, doc)
}

func (b *testBackend) RemoveApp(ctx context.Context, app string) (int64, error) {
	b.removeAppCalls.Add(1)
	b.mu.Lock()
	b.apps = append(b.apps, app)
	gate := b.appGate
	b.mu.Unlock()
	if err := wait(ctx, gate); err != nil {
		return 0, err
	}
	return b.MemoryStore.RemoveApp(ctx, app)
}

func (b *testBackend) Close(ctx context.Context) error {
	b.closeCalls.Add(1)
	return nil
}

func (b *testBackend) removedDocs() []docstore.Document {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]docstore.Document(nil), b.removed...)
}

func (b *testBackend) removedApps() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.apps...)
}
