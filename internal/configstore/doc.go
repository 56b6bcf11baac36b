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

// Package configstore provides a cached, hierarchical configuration store
// backed by a document database.
//
// # Storage Model
//
// Every top-level key ("root") is one document (see docstore.Document).
// Keys such as "database:pool:size" address a path inside the root's value.
//
// # Caching
//
// Reads are served from an in-memory mirror. When an entry is older than the
// TTL, a read still returns the cached value and schedules at most one
// background refresh for that root. A refresh never overwrites a root that
// was modified locally after the refresh started or that has a write-back
// pending.
//
// # Write-back
//
// Set, Merge and Clear change the cache synchronously and enqueue the
// affected document for persistence. The save queue runs a bounded number of
// writes at once and persists each root serially, so the last local change
// is always the last one written. Persistence failures are logged and passed
// to Options.OnPersistError; they are never returned to the caller of the
// mutation.
//
// # Lifecycle
//
// A Store starts Unconnected. Load connects, reads every document for the
// app and moves the store to Ready. Close drains pending writes, cancels
// background work and releases the connection.
package configstore
