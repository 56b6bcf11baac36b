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
	"fmt"
	"strings"

	"dario.cat/mergo"
)

// lookup walks path below value. A missing segment or an attempt to index
// into a non-object reports not found.
func lookup(value any, path []string) (any, bool) {
	if value == nil {
		return nil, false
	}
	cur := value
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// assign stores leaf at path below root and returns the new root. Missing or
// null intermediates become objects. root is modified in place, so callers
// pass a private copy.
func assign(root any, path []string, leaf any) (any, error) {
	if len(path) == 0 {
		return leaf, nil
	}
	if root == nil {
		root = map[string]any{}
	}
	top, ok := root.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: root holds %T", ErrNotObject, root)
	}
	m := top
	for i, seg := range path[:len(path)-1] {
		next, exists := m[seg]
		if !exists || next == nil {
			child := map[string]any{}
			m[seg] = child
			m = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q holds %T", ErrNotObject, strings.Join(path[:i+1], "."), next)
		}
		m = child
	}
	m[path[len(path)-1]] = leaf
	return top, nil
}

// remove deletes the leaf at path below root in place. It reports whether
// anything was deleted.
func remove(root any, path []string) (bool, error) {
	if root == nil {
		return false, nil
	}
	m, ok := root.(map[string]any)
	if !ok {
		return false, fmt.Errorf("%w: root holds %T", ErrNotObject, root)
	}
	for i, seg := range path[:len(path)-1] {
		next, exists := m[seg]
		if !exists || next == nil {
			return false, nil
		}
		child, ok := next.(map[string]any)
		if !ok {
			return false, fmt.Errorf("%w: %q holds %T", ErrNotObject, strings.Join(path[:i+1], "."), next)
		}
		m = child
	}
	last := path[len(path)-1]
	if _, ok := m[last]; !ok {
		return false, nil
	}
	delete(m, last)
	return true, nil
}

// mergeValues deep merges incoming over existing when both are objects.
// Otherwise incoming replaces existing.
func mergeValues(existing, incoming any) (any, error) {
	dst, ok := existing.(map[string]any)
	if !ok {
		return incoming, nil
	}
	src, ok := incoming.(map[string]any)
	if !ok {
		return incoming, nil
	}
	if err := mergo.Merge(&dst, src, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge objects: %w", err)
	}
	return dst, nil
}
