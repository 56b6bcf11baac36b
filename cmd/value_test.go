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

package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		raw      string
		expected any
	}{
		{"5", 5},
		{"1.5", 1.5},
		{"true", true},
		{"hello world", "hello world"},
		{`"5"`, "5"},
		{"", nil},
		{"null", nil},
		{"{a: 1, b: [x, y]}", map[string]any{"a": 1, "b": []any{"x", "y"}}},
		{`{"a": {"b": false}}`, map[string]any{"a": map[string]any{"b": false}}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseValue([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, err := parseValue([]byte("{a: [1"))
	assert.Error(t, err)
}

func TestWriteValue(t *testing.T) {
	v := map[string]any{"b": 2, "a": map[string]any{"c": "x"}}

	var out bytes.Buffer
	require.NoError(t, writeValue(&out, outputYAML, v))
	assert.Equal(t, "a:\n  c: x\nb: 2\n", out.String())

	out.Reset()
	require.NoError(t, writeValue(&out, outputJSON, v))
	assert.JSONEq(t, `{"a":{"c":"x"},"b":2}`, out.String())
}
