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

package docstore

import (
	"context"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type memoryKey struct {
	key string
	app string
}

// MemoryStore is an in-process Store. Every instance returned by its
// Connector shares the same documents, so several caches can be pointed at
// one MemoryStore the way they would share a database.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[memoryKey]Document
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[memoryKey]Document{}}
}

// Connector returns a Connector that always yields m.
func (m *MemoryStore) Connector() Connector {
	return func(ctx context.Context) (Store, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return m, nil
	}
}

func (m *MemoryStore) Find(ctx context.Context, app string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]Document, 0, len(m.docs))
	for k, doc := range m.docs {
		if k.app == app {
			docs = append(docs, doc.Clone())
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
	return docs, nil
}

func (m *MemoryStore) FindOne(ctx context.Context, key, app string) (Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[memoryKey{key: key, app: app}]
	if !ok {
		return Document{}, false, nil
	}
	return doc.Clone(), true, nil
}

func (m *MemoryStore) Save(ctx context.Context, doc Document) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := memoryKey{key: doc.Key, app: doc.App}
	if existing, ok := m.docs[k]; ok {
		doc.ID = existing.ID
	} else if !doc.HasID() {
		doc.ID = primitive.NewObjectID()
	}
	m.docs[k] = doc.Clone()
	return doc, nil
}

func (m *MemoryStore) Remove(ctx context.Context, doc Document) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if doc.HasID() {
		for k, existing := range m.docs {
			if existing.ID == doc.ID {
				delete(m.docs, k)
				return 1, nil
			}
		}
		return 0, nil
	}

	k := memoryKey{key: doc.Key, app: doc.App}
	if _, ok := m.docs[k]; !ok {
		return 0, nil
	}
	delete(m.docs, k)
	return 1, nil
}

func (m *MemoryStore) RemoveApp(ctx context.Context, app string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k := range m.docs {
		if k.app == app {
			delete(m.docs, k)
			n++
		}
	}
	return n, nil
}

// Close is a no-op; the documents outlive any one connection.
func (m *MemoryStore) Close(context.Context) error {
	return nil
}

// Len returns the number of stored documents across all apps.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
