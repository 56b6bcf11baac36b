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

// Package keypath translates hierarchical configuration keys such as
// "a:b:c" into the segment lists used for cache lookups and document
// storage.
package keypath

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultDelimiter separates the segments of a configuration key.
	DefaultDelimiter = ":"

	// ValueField is the document field that wraps the configuration tree
	// so it can sit next to document metadata (key, app, _id).
	ValueField = "value"

	namespaceSeparator = ":"
)

var ErrInvalidKey = errors.New("invalid configuration key")

// Resolver holds the delimiter and namespace used to translate keys.
// The zero value uses DefaultDelimiter and no namespace.
type Resolver struct {
	Delimiter string
	Namespace string
}

func (r Resolver) delimiter() string {
	if r.Delimiter == "" {
		return DefaultDelimiter
	}
	return r.Delimiter
}

// Split returns the ordered segments of key. Every segment must be non-empty.
func (r Resolver) Split(key string) ([]string, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	segments := strings.Split(key, r.delimiter())
	for i, s := range segments {
		if s == "" {
			return nil, fmt.Errorf("%w: %q has an empty segment at position %d", ErrInvalidKey, key, i)
		}
	}
	return segments, nil
}

// StoragePath returns the segments of key with ValueField inserted after
// the root, e.g. "a:b:c" becomes [a value b c].
func (r Resolver) StoragePath(key string) ([]string, error) {
	segments, err := r.Split(key)
	if err != nil {
		return nil, err
	}
	path := make([]string, 0, len(segments)+1)
	path = append(path, segments[0], ValueField)
	return append(path, segments[1:]...), nil
}

// FieldPath returns the storage path in dotted field notation ("a.value.b.c").
func (r Resolver) FieldPath(key string) (string, error) {
	path, err := r.StoragePath(key)
	if err != nil {
		return "", err
	}
	return strings.Join(path, "."), nil
}

// DocumentKey returns the storage-side key for root.
func (r Resolver) DocumentKey(root string) string {
	if r.Namespace == "" {
		return root
	}
	return r.Namespace + namespaceSeparator + root
}

// RootOf maps a storage-side document key back to its root. It reports
// false when the key does not belong to this resolver's namespace.
func (r Resolver) RootOf(documentKey string) (string, bool) {
	if r.Namespace == "" {
		return documentKey, documentKey != ""
	}
	root, ok := strings.CutPrefix(documentKey, r.Namespace+namespaceSeparator)
	if !ok || root == "" {
		return "", false
	}
	return root, true
}
