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

package mongostore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/cardinalhq/mongoconf/internal/docstore"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 27017, cfg.Port)
	assert.Equal(t, "nconf", cfg.Database)
	assert.Equal(t, "config", cfg.Collection)
	assert.True(t, cfg.SafeDBs)
	assert.True(t, cfg.SafeCollections)
	assert.Equal(t, uint64(10), cfg.PoolSize)
	assert.NoError(t, cfg.validate())
}

func TestConfig_URI(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Username = "admin"
	cfg.Password = "secret"
	assert.Equal(t, "mongodb://localhost:27017", cfg.URI())

	cfg.Host = "::1"
	assert.Equal(t, "mongodb://[::1]:27017", cfg.URI())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no host", func(c *Config) { c.Host = "" }},
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"no database", func(c *Config) { c.Database = "" }},
		{"no collection", func(c *Config) { c.Collection = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestConnect_InvalidConfigIsConnectionError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = ""
	_, err := Connect(context.Background(), cfg)
	assert.ErrorIs(t, err, docstore.ErrConnection)
}

func TestWriteConcern(t *testing.T) {
	assert.True(t, writeConcern(true).Acknowledged())
	assert.False(t, writeConcern(false).Acknowledged())
}

func TestClassifyConnectError(t *testing.T) {
	authErr := classifyConnectError(mongo.CommandError{Code: codeAuthenticationFailed, Message: "Authentication failed."})
	assert.ErrorIs(t, authErr, docstore.ErrAuthentication)
	assert.NotErrorIs(t, authErr, docstore.ErrConnection)

	wrapped := classifyConnectError(errors.New("server selection error: auth error: sasl conversation error"))
	assert.ErrorIs(t, wrapped, docstore.ErrAuthentication)

	netErr := classifyConnectError(errors.New("server selection error: context deadline exceeded"))
	assert.ErrorIs(t, netErr, docstore.ErrConnection)
	assert.NotErrorIs(t, netErr, docstore.ErrAuthentication)
}

func TestDocumentFilter(t *testing.T) {
	f := documentFilter("mongodb:a", "general")
	require.Len(t, f, 2)
	assert.Equal(t, "key", f[0].Key)
	assert.Equal(t, "mongodb:a", f[0].Value)
	assert.Equal(t, "app", f[1].Key)
	assert.Equal(t, "general", f[1].Value)
}
