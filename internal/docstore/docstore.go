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

// Package docstore defines the document shape persisted for every
// configuration root and the minimal storage capability the cache layer
// needs from a document database.
//
// # Document Model
//
// Each root of the configuration tree is stored as one document:
//
//	{ _id: <opaque>, key: "<namespace>:<root>", value: <tree>, app: "<app>" }
//
// A document is uniquely identified by (key, app). The _id is informational
// and is used for removal when known.
//
// # Backends
//
// Implementations live in their own packages (mongostore, pgstore). The
// in-process MemoryStore in this package is used by tests and by the
// "memory" driver.
package docstore

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrConnection means the backend could not be reached.
	ErrConnection = errors.New("document store connection failed")
	// ErrAuthentication means the backend rejected the supplied credentials.
	ErrAuthentication = errors.New("document store authentication failed")
)

// Document is one persisted configuration root.
type Document struct {
	ID    primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty" yaml:"id,omitempty"`
	Key   string             `bson:"key" json:"key" yaml:"key"`
	Value any                `bson:"value" json:"value" yaml:"value"`
	App   string             `bson:"app" json:"app" yaml:"app"`
}

// NewDocument returns an empty document for key within app.
func NewDocument(key, app string) Document {
	return Document{
		Key:   key,
		Value: map[string]any{},
		App:   app,
	}
}

// HasID reports whether the backend has assigned an identity.
func (d Document) HasID() bool {
	return !d.ID.IsZero()
}

// Clone returns a copy of d that shares no mutable state with it.
func (d Document) Clone() Document {
	d.Value = CloneValue(d.Value)
	return d
}

// Store is the storage capability used by the configuration cache. All
// queries are scoped by app.
type Store interface {
	// Find returns every document stored for app.
	Find(ctx context.Context, app string) ([]Document, error)
	// FindOne returns the document stored under key for app, if any.
	FindOne(ctx context.Context, key, app string) (Document, bool, error)
	// Save upserts doc keyed on (Key, App) and returns it with its identity
	// filled in when the backend reports one.
	Save(ctx context.Context, doc Document) (Document, error)
	// Remove deletes doc by ID when set, otherwise by (Key, App).
	Remove(ctx context.Context, doc Document) (int64, error)
	// RemoveApp deletes every document stored for app.
	RemoveApp(ctx context.Context, app string) (int64, error)
	// Close releases the connection.
	Close(ctx context.Context) error
}

// Connector opens a Store. It covers connecting, authenticating and
// ensuring the target collection exists.
type Connector func(ctx context.Context) (Store, error)
