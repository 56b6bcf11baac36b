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
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/cardinalhq/mongoconf/internal/doccache"
	"github.com/cardinalhq/mongoconf/internal/docstore"
	"github.com/cardinalhq/mongoconf/internal/keypath"
	"github.com/cardinalhq/mongoconf/internal/savequeue"
)

type opKind int

const (
	opSave opKind = iota
	opRemove
)

func (k opKind) String() string {
	if k == opRemove {
		return "remove"
	}
	return "save"
}

// operation is one pending write-back for a root.
type operation struct {
	kind opKind
	doc  docstore.Document
}

// Store is a hierarchical configuration store that mirrors one app's
// documents in memory and writes changes back asynchronously.
type Store struct {
	opts    Options
	keys    keypath.Resolver
	connect docstore.Connector

	// Cached documents are never mutated after they are published; writers
	// replace them with a modified copy. A nil document is a negative entry.
	cache   *doccache.Cache[string, *docstore.Document]
	queue   *savequeue.Queue[string, operation]
	fetches singleflight.Group

	// writeMu orders cache changes with the write-backs they enqueue.
	writeMu sync.Mutex
	// resets advances when a Reset starts and when it ends, so it is odd
	// while one is running. Guarded by writeMu.
	resets  uint64
	loadMu  sync.Mutex

	mu          sync.Mutex
	state       State
	backend     docstore.Store
	pendingSave bool
	refreshing  map[string]struct{}
	ready       chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New creates an unconnected store. Nothing is read from storage until Load
// is called.
func New(connect docstore.Connector, opts Options) (*Store, error) {
	if connect == nil {
		return nil, fmt.Errorf("configstore: connector is required")
	}
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("configstore: invalid options: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		opts: opts,
		keys: keypath.Resolver{
			Delimiter: opts.Delimiter,
			Namespace: opts.Namespace,
		},
		connect:    connect,
		cache:      doccache.New[string, *docstore.Document](opts.TTL),
		refreshing: make(map[string]struct{}),
		ready:      make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.queue = savequeue.New(opts.Concurrency, s.persist, s.persistFailed)
	return s, nil
}

// State returns the current connection state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready is closed once the first Load succeeds.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Get returns the value at key. Cached roots are served immediately, and a
// stale root schedules a background refresh. A root that is not cached is
// fetched synchronously once the store is ready; before that it is absent.
func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	root, path, err := s.locate(key)
	if err != nil {
		return nil, false, err
	}

	entry, ok := s.cache.Get(root)
	if ok {
		if s.cache.Fresh(root) {
			recordLookup(ctx, lookupHit)
		} else {
			recordLookup(ctx, lookupStale)
			s.refreshInBackground(root)
		}
		v, found := valueAt(entry.Value, path)
		return v, found, nil
	}

	recordLookup(ctx, lookupMiss)
	if s.State() != StateReady {
		return nil, false, nil
	}
	if _, err := s.fetch(ctx, root); err != nil {
		return nil, false, fmt.Errorf("fetch %q: %w", root, err)
	}
	entry, ok = s.cache.Get(root)
	if !ok {
		return nil, false, nil
	}
	v, found := valueAt(entry.Value, path)
	return v, found, nil
}

// locate returns the root of key and its path below the document's value
// field.
func (s *Store) locate(key string) (string, []string, error) {
	storagePath, err := s.keys.StoragePath(key)
	if err != nil {
		return "", nil, err
	}
	return storagePath[0], storagePath[2:], nil
}

// rejected logs a change refused without reaching storage and returns err.
func (s *Store) rejected(op, key string, err error) error {
	field, _ := s.keys.FieldPath(key)
	slog.Debug("Rejected configuration change",
		slog.String("op", op),
		slog.String("key", key),
		slog.String("field", field),
		slog.Any("error", err))
	return err
}

func valueAt(doc *docstore.Document, path []string) (any, bool) {
	if doc == nil {
		return nil, false
	}
	v, ok := lookup(doc.Value, path)
	if !ok {
		return nil, false
	}
	return docstore.CloneValue(v), true
}

// Set stores value at key, creating intermediate objects as needed, and
// schedules the root for write-back. It fails with ErrNotObject when an
// existing intermediate is not an object.
func (s *Store) Set(key string, value any) error {
	root, path, err := s.locate(key)
	if err != nil {
		return err
	}
	leaf := docstore.Normalize(value)

	err = s.mutate(root, func(cur *docstore.Document) (*docstore.Document, error) {
		next := s.documentFor(root, cur)
		v, err := assign(next.Value, path, leaf)
		if err != nil {
			return nil, fmt.Errorf("set %q: %w", key, err)
		}
		next.Value = v
		return next, nil
	})
	if err != nil {
		return s.rejected("set", key, err)
	}
	return nil
}

// Merge deep merges value into the object at key. When either side is not an
// object, value replaces what is there. It returns the resulting value.
func (s *Store) Merge(key string, value any) (any, error) {
	root, path, err := s.locate(key)
	if err != nil {
		return nil, err
	}
	incoming := docstore.Normalize(value)

	var merged any
	err = s.mutate(root, func(cur *docstore.Document) (*docstore.Document, error) {
		next := s.documentFor(root, cur)
		result := incoming
		if existing, ok := lookup(next.Value, path); ok {
			m, err := mergeValues(existing, incoming)
			if err != nil {
				return nil, fmt.Errorf("merge %q: %w", key, err)
			}
			result = m
		}
		v, err := assign(next.Value, path, result)
		if err != nil {
			return nil, fmt.Errorf("merge %q: %w", key, err)
		}
		next.Value = v
		merged = result
		return next, nil
	})
	if err != nil {
		return nil, s.rejected("merge", key, err)
	}
	return docstore.CloneValue(merged), nil
}

// Clear removes the value at key. Clearing a root, or the last value of a
// root, removes the root's document from storage. Clearing a key that does
// not exist does nothing.
func (s *Store) Clear(key string) error {
	root, path, err := s.locate(key)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() == StateClosed {
		return ErrClosed
	}
	entry, ok := s.cache.Get(root)
	if !ok || entry.Value == nil {
		return nil
	}

	next := entry.Value.Clone()
	if len(path) == 0 {
		next.Value = nil
	} else {
		removed, err := remove(next.Value, path)
		if err != nil {
			return s.rejected("clear", key, fmt.Errorf("clear %q: %w", key, err))
		}
		if !removed {
			return nil
		}
	}

	if docstore.IsEmptyValue(next.Value) {
		identity := *entry.Value
		identity.Value = nil
		s.cache.Set(root, nil)
		s.enqueue(root, operation{kind: opRemove, doc: identity})
		return nil
	}
	s.cache.Set(root, &next)
	s.enqueue(root, operation{kind: opSave, doc: next})
	return nil
}

// Snapshot returns a deep copy of every cached root.
func (s *Store) Snapshot() map[string]any {
	out := make(map[string]any)
	for _, root := range s.cache.Keys() {
		entry, ok := s.cache.Get(root)
		if !ok || entry.Value == nil {
			continue
		}
		out[root] = docstore.CloneValue(entry.Value.Value)
	}
	return out
}

// mutate replaces the cached document for root with the result of fn and
// enqueues it for write-back. fn receives the published document, or nil,
// and must not modify it.
func (s *Store) mutate(root string, fn func(cur *docstore.Document) (*docstore.Document, error)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() == StateClosed {
		return ErrClosed
	}
	entry, err := s.cache.Update(root, func(cur *docstore.Document, _ bool) (*docstore.Document, error) {
		return fn(cur)
	})
	if err != nil {
		return err
	}
	s.enqueue(root, operation{kind: opSave, doc: *entry.Value})
	return nil
}

// documentFor returns a private copy of cur, or a new document for root.
func (s *Store) documentFor(root string, cur *docstore.Document) *docstore.Document {
	if cur == nil {
		doc := docstore.NewDocument(s.keys.DocumentKey(root), s.opts.App)
		return &doc
	}
	doc := cur.Clone()
	return &doc
}

// enqueue must be called with writeMu held.
func (s *Store) enqueue(root string, op operation) {
	if !s.queue.Push(root, op) {
		slog.Warn("Dropping write-back for closed store",
			slog.String("root", root),
			slog.String("op", op.kind.String()))
	}
}
