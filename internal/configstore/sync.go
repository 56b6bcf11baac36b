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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/mongoconf/internal/docstore"
	"github.com/cardinalhq/mongoconf/internal/savequeue"
)

// Load connects on first use and replaces the cache with every document
// stored for the app. Roots with a pending local write-back keep their local
// value. The first successful Load makes the store Ready and runs any Save
// requested before that.
func (s *Store) Load(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	backend, err := s.connectBackend(ctx)
	if err != nil {
		return err
	}

	docs, err := backend.Find(ctx, s.opts.App)
	if err != nil {
		s.connectFailed()
		return fmt.Errorf("load documents for app %q: %w", s.opts.App, err)
	}
	loaded, skipped := s.populate(docs)
	slog.Info("Loaded configuration",
		slog.String("app", s.opts.App),
		slog.Int("loaded", loaded),
		slog.Int("skipped", skipped))

	if s.markReady() {
		if err := s.Save(ctx); err != nil {
			return fmt.Errorf("deferred save: %w", err)
		}
	}
	return nil
}

func (s *Store) connectBackend(ctx context.Context) (docstore.Store, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.backend != nil {
		backend := s.backend
		s.mu.Unlock()
		return backend, nil
	}
	s.state = StateConnecting
	s.mu.Unlock()

	backend, err := s.connect(ctx)

	s.mu.Lock()
	if err != nil {
		if s.state == StateConnecting {
			s.state = StateUnconnected
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("connect: %w", err)
	}
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = backend.Close(ctx)
		return nil, ErrClosed
	}
	s.backend = backend
	s.mu.Unlock()
	return backend, nil
}

// connectFailed returns a store whose first load failed to Unconnected so a
// later Load starts over.
func (s *Store) connectFailed() {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	backend := s.backend
	s.backend = nil
	s.state = StateUnconnected
	s.mu.Unlock()
	if backend != nil {
		_ = backend.Close(context.Background())
	}
}

func (s *Store) populate(docs []docstore.Document) (loaded, skipped int) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for i := range docs {
		doc := docs[i]
		root, ok := s.keys.RootOf(doc.Key)
		if !ok {
			slog.Debug("Skipping document outside namespace", slog.String("key", doc.Key))
			skipped++
			continue
		}
		if s.queue.Pending(root) {
			skipped++
			continue
		}
		s.cache.Set(root, &doc)
		loaded++
	}
	return loaded, skipped
}

// markReady moves the store to Ready and reports whether a Save was
// requested while it was not.
func (s *Store) markReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnecting {
		return false
	}
	s.state = StateReady
	close(s.ready)
	replay := s.pendingSave
	s.pendingSave = false
	return replay
}

// Save schedules every cached root for write-back and waits until the queue
// is empty. Before the store is Ready the request is remembered and carried
// out by Load.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case StateReady:
	default:
		s.pendingSave = true
		s.mu.Unlock()
		slog.Debug("Deferring save until configuration is loaded")
		return nil
	}
	s.mu.Unlock()

	s.writeMu.Lock()
	queued := 0
	for _, root := range s.cache.Keys() {
		entry, ok := s.cache.Get(root)
		if !ok || entry.Value == nil {
			continue
		}
		s.enqueue(root, operation{kind: opSave, doc: *entry.Value})
		queued++
	}
	s.writeMu.Unlock()

	slog.Debug("Saving configuration", slog.Int("roots", queued))
	return s.queue.Drain(ctx)
}

// Reset empties the cache, discards pending write-backs and removes every
// document stored for the app.
func (s *Store) Reset(ctx context.Context) error {
	s.writeMu.Lock()
	if s.State() == StateClosed {
		s.writeMu.Unlock()
		return ErrClosed
	}
	s.resets++
	s.cache.Reset()
	discarded := s.queue.Discard()
	s.writeMu.Unlock()
	defer func() {
		s.writeMu.Lock()
		s.resets++
		s.writeMu.Unlock()
	}()

	backend, err := s.whenReady(ctx)
	if err != nil {
		return err
	}
	if err := s.queue.Drain(ctx); err != nil {
		return err
	}

	start := time.Now()
	removed, err := backend.RemoveApp(ctx, s.opts.App)
	recordPersist(ctx, "remove_app", start, err)
	if err != nil {
		return fmt.Errorf("remove documents for app %q: %w", s.opts.App, err)
	}
	slog.Info("Reset configuration",
		slog.String("app", s.opts.App),
		slog.Int64("removed", removed),
		slog.Int("discarded", discarded))
	return nil
}

// Close waits for pending write-backs, stops background work and closes the
// connection. Pending write-backs are abandoned if ctx ends first.
func (s *Store) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close(ctx)
	})
	return s.closeErr
}

func (s *Store) close(ctx context.Context) error {
	var errs *multierror.Error

	if s.State() == StateReady {
		if err := s.queue.Drain(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("drain write-backs: %w", err))
		}
	}

	s.mu.Lock()
	s.state = StateClosed
	backend := s.backend
	s.mu.Unlock()

	s.cancel()
	s.queue.Close()
	s.wg.Wait()
	if err := s.queue.Drain(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("wait for write-backs: %w", err))
	}
	s.cache.Stop()

	if backend != nil {
		if err := backend.Close(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close backend: %w", err))
		}
	}
	return errs.ErrorOrNil()
}

// whenReady blocks until the store is Ready and returns its backend.
func (s *Store) whenReady(ctx context.Context) (docstore.Store, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, ErrClosed
	}
	return s.backend, nil
}

// fetch reads root from storage and caches the result unless the root changed
// locally while the read was in flight. Concurrent fetches of one root share
// a single read, which runs until it completes or the store closes. A caller
// whose ctx ends stops waiting without cancelling the read for the others.
func (s *Store) fetch(ctx context.Context, root string) (bool, error) {
	ch := s.fetches.DoChan(root, func() (any, error) {
		readCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(s.ctx, cancel)
		defer stop()
		return s.read(readCtx, root)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *Store) read(ctx context.Context, root string) (bool, error) {
	backend, err := s.whenReady(ctx)
	if err != nil {
		return false, err
	}
	snap, pending := s.versionOf(root)
	if pending {
		return false, nil
	}
	doc, found, err := backend.FindOne(ctx, s.keys.DocumentKey(root), s.opts.App)
	if err != nil {
		return false, err
	}
	var stored *docstore.Document
	if found {
		stored = &doc
	}
	return s.apply(root, stored, snap), nil
}

// readSnapshot is the state a storage read is checked against before its
// result is cached.
type readSnapshot struct {
	version uint64
	resets  uint64
}

// versionOf returns root's cache state and whether a write-back for it is
// outstanding. Storage already reflects that state when none is.
func (s *Store) versionOf(root string) (readSnapshot, bool) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return readSnapshot{version: s.cache.Version(root), resets: s.resets}, s.queue.Pending(root)
}

// apply caches doc for root unless the root changed locally or a Reset
// overlapped the read.
func (s *Store) apply(root string, doc *docstore.Document, snap readSnapshot) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.queue.Pending(root) || snap.resets != s.resets || s.resets%2 == 1 {
		return false
	}
	_, ok := s.cache.SetIfVersion(root, doc, snap.version)
	return ok
}

// refreshInBackground starts a refresh of root unless one is already running.
func (s *Store) refreshInBackground(root string) {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return
	}
	if _, busy := s.refreshing[root]; busy {
		s.mu.Unlock()
		return
	}
	s.refreshing[root] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.refreshing, root)
			s.mu.Unlock()
		}()

		applied, err := s.fetch(s.ctx, root)
		switch {
		case err != nil:
			recordRefresh(s.ctx, refreshError)
			if !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
				slog.Warn("Failed to refresh configuration", slog.String("root", root), slog.Any("error", err))
			}
		case applied:
			recordRefresh(s.ctx, refreshOK)
		default:
			recordRefresh(s.ctx, refreshDropped)
			slog.Debug("Dropped refresh for locally modified root", slog.String("root", root))
		}
	}()
}

// persist is the save queue processor.
func (s *Store) persist(ctx context.Context, root string, op operation) error {
	backend, err := s.whenReady(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	switch op.kind {
	case opRemove:
		_, err := backend.Remove(ctx, op.doc)
		recordPersist(ctx, op.kind.String(), start, err)
		return err
	default:
		saved, err := backend.Save(ctx, op.doc)
		recordPersist(ctx, op.kind.String(), start, err)
		if err != nil {
			return err
		}
		if saved.HasID() && !op.doc.HasID() {
			s.rememberID(root, saved)
		}
		return nil
	}
}

// rememberID records the identity storage assigned to a new document.
func (s *Store) rememberID(root string, saved docstore.Document) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	entry, ok := s.cache.Get(root)
	if !ok || entry.Value == nil || entry.Value.HasID() || entry.Value.Key != saved.Key {
		return
	}
	next := *entry.Value
	next.ID = saved.ID
	s.cache.SetIfVersion(root, &next, entry.Version)
}

func (s *Store) persistFailed(root string, op operation, err error) {
	perr := &PersistError{
		Root: root,
		Key:  op.doc.Key,
		Op:   op.kind.String(),
		Err:  err,
	}
	field, _ := s.keys.FieldPath(root)
	attrs := []any{
		slog.String("root", root),
		slog.String("field", field),
		slog.String("op", perr.Op),
	}
	if errors.Is(err, savequeue.ErrClosed) || errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
		slog.Warn("Abandoned configuration write-back", attrs...)
	} else {
		slog.Error("Failed to persist configuration", append(attrs, slog.Any("error", err))...)
	}
	if s.opts.OnPersistError != nil {
		s.opts.OnPersistError(perr)
	}
}
