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

//go:build pgtest

package pgstore_test

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/orlangure/gnomock"
	pgpreset "github.com/orlangure/gnomock/preset/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/mongoconf/internal/configstore"
	"github.com/cardinalhq/mongoconf/internal/docstore"
	"github.com/cardinalhq/mongoconf/internal/pgstore"
)

const (
	testUser     = "gnomock"
	testPassword = "gnomick"
	testDatabase = "nconf_test"
)

var sharedContainer *gnomock.Container

// TestMain starts one PostgreSQL container for every test in the package.
func TestMain(m *testing.M) {
	container, err := gnomock.Start(
		pgpreset.Preset(
			pgpreset.WithUser(testUser, testPassword),
			pgpreset.WithDatabase(testDatabase),
		),
		gnomock.WithTimeout(2*time.Minute),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start PostgreSQL container: %v\n", err)
		os.Exit(1)
	}
	sharedContainer = container

	code := m.Run()

	if err := gnomock.Stop(container); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stop PostgreSQL container: %v\n", err)
	}
	os.Exit(code)
}

func testConfig(t *testing.T) pgstore.Config {
	t.Helper()
	cfg := pgstore.DefaultConfig()
	cfg.Host = sharedContainer.Host
	cfg.Port = sharedContainer.DefaultPort()
	cfg.Database = testDatabase
	cfg.Username = testUser
	cfg.Password = testPassword
	cfg.SSLMode = "disable"
	cfg.Table = "config_" + strconv.FormatInt(time.Now().UnixNano(), 36)
	return cfg
}

func connect(t *testing.T, cfg pgstore.Config) *pgstore.Store {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := pgstore.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func TestConnect_BadCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Password = "wrong"
	_, err := pgstore.Connect(context.Background(), cfg)
	assert.ErrorIs(t, err, docstore.ErrAuthentication)
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Host = "127.0.0.1"
	cfg.Port = 1
	cfg.ConnectTimeout = 2 * time.Second
	_, err := pgstore.Connect(context.Background(), cfg)
	assert.ErrorIs(t, err, docstore.ErrConnection)
}

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store := connect(t, testConfig(t))

	saved, err := store.Save(ctx, docstore.Document{
		Key:   "mongodb:db",
		Value: map[string]any{"host": "h", "port": 5432, "tags": []any{"a"}},
		App:   "general",
	})
	require.NoError(t, err)
	require.True(t, saved.HasID())

	again, err := store.Save(ctx, docstore.Document{Key: "mongodb:db", Value: map[string]any{"host": "h2"}, App: "general"})
	require.NoError(t, err)
	assert.Equal(t, saved.ID, again.ID, "upsert keeps the row identity")

	_, err = store.Save(ctx, docstore.Document{Key: "mongodb:db", Value: "other app", App: "other"})
	require.NoError(t, err)

	doc, found, err := store.FindOne(ctx, "mongodb:db", "general")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]any{"host": "h2"}, doc.Value)

	docs, err := store.Find(ctx, "general")
	require.NoError(t, err)
	require.Len(t, docs, 1)

	n, err := store.Remove(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, found, err = store.FindOne(ctx, "mongodb:db", "general")
	require.NoError(t, err)
	assert.False(t, found)

	n, err = store.RemoveApp(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_NumbersRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := connect(t, testConfig(t))

	_, err := store.Save(ctx, docstore.Document{Key: "n", Value: map[string]any{"i": 7, "f": 0.25}, App: "general"})
	require.NoError(t, err)
	doc, found, err := store.FindOne(ctx, "n", "general")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]any{"i": int64(7), "f": 0.25}, doc.Value)
}

func TestConfigStore_EndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	opts := configstore.DefaultOptions()

	first, err := configstore.New(pgstore.Connector(cfg), opts)
	require.NoError(t, err)
	require.NoError(t, first.Load(ctx))
	require.NoError(t, first.Set("svc:db:host", "h"))
	_, err = first.Merge("svc:db", map[string]any{"port": 5432})
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx))
	require.NoError(t, first.Close(ctx))

	second, err := configstore.New(pgstore.Connector(cfg), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close(context.Background()) })
	require.NoError(t, second.Load(ctx))

	v, found, err := second.Get(ctx, "svc:db")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]any{"host": "h", "port": int64(5432)}, v)

	require.NoError(t, second.Reset(ctx))
	docs, err := connect(t, cfg).Find(ctx, opts.App)
	require.NoError(t, err)
	assert.Empty(t, docs)
}
