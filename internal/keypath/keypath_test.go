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

package keypath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Split(t *testing.T) {
	r := Resolver{}

	tests := []struct {
		name    string
		key     string
		want    []string
		wantErr bool
	}{
		{"single segment", "a", []string{"a"}, false},
		{"nested", "a:b:c", []string{"a", "b", "c"}, false},
		{"empty key", "", nil, true},
		{"leading delimiter", ":a", nil, true},
		{"trailing delimiter", "a:", nil, true},
		{"double delimiter", "a::b", nil, true},
		{"only delimiter", ":", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Split(tt.key)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_CustomDelimiter(t *testing.T) {
	r := Resolver{Delimiter: "."}

	got, err := r.Split("server.http.port")
	require.NoError(t, err)
	assert.Equal(t, []string{"server", "http", "port"}, got)

	// The default delimiter is just another character here.
	got, err = r.Split("a:b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a:b"}, got)
}

func TestResolver_StoragePathAlwaysHasValueSecond(t *testing.T) {
	r := Resolver{}
	keys := []string{"a", "a:b", "a:b:c", "x:value", "value", "deep:ly:nested:key:path"}

	for _, key := range keys {
		t.Run(key, func(t *testing.T) {
			path, err := r.StoragePath(key)
			require.NoError(t, err)
			require.GreaterOrEqual(t, len(path), 2)
			assert.Equal(t, ValueField, path[1])

			segments, err := r.Split(key)
			require.NoError(t, err)
			assert.Equal(t, segments[0], path[0])
			assert.Equal(t, segments[1:], path[2:])
		})
	}

	_, err := r.StoragePath("a::b")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestResolver_FieldPath(t *testing.T) {
	r := Resolver{}

	got, err := r.FieldPath("a:b:c")
	require.NoError(t, err)
	assert.Equal(t, "a.value.b.c", got)

	got, err = r.FieldPath("a")
	require.NoError(t, err)
	assert.Equal(t, "a.value", got)

	got, err = Resolver{Delimiter: "/"}.FieldPath("server/http/port")
	require.NoError(t, err)
	assert.Equal(t, "server.value.http.port", got)

	_, err = r.FieldPath("a::b")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestResolver_DocumentKey(t *testing.T) {
	assert.Equal(t, "mongodb:database", Resolver{Namespace: "mongodb"}.DocumentKey("database"))
	assert.Equal(t, "database", Resolver{}.DocumentKey("database"))
}

func TestResolver_RootOf(t *testing.T) {
	r := Resolver{Namespace: "mongodb"}

	root, ok := r.RootOf("mongodb:database")
	assert.True(t, ok)
	assert.Equal(t, "database", root)

	_, ok = r.RootOf("other:database")
	assert.False(t, ok)

	_, ok = r.RootOf("mongodb:")
	assert.False(t, ok)

	root, ok = Resolver{}.RootOf("database")
	assert.True(t, ok)
	assert.Equal(t, "database", root)
}
