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

// Package pgstore stores configuration documents in a PostgreSQL table,
// one row per (key, app) with the value held as JSONB.
package pgstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgx-contrib/pgxotel"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/cardinalhq/mongoconf/internal/docstore"
)

type Store struct {
	pool  *pgxpool.Pool
	table string
}

var _ docstore.Store = (*Store)(nil)

// Connector returns a docstore.Connector that opens a Store with cfg.
func Connector(cfg Config) docstore.Connector {
	return func(ctx context.Context) (docstore.Store, error) {
		return Connect(ctx, cfg)
	}
}

// Connect opens a pool, verifies the server is reachable and creates the
// table when missing.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", docstore.ErrConnection, err)
	}
	connString, _ := cfg.ConnString()

	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("%w: parse connection string: %w", docstore.ErrConnection, err)
	}
	poolCfg.ConnConfig.Tracer = &pgxotel.QueryTracer{
		Name: "pgstore",
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, classifyConnectError(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classifyConnectError(err)
	}

	s := &Store{
		pool:  pool,
		table: pgx.Identifier{cfg.Table}.Sanitize(),
	}
	if err := s.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	slog.Info("Connected to PostgreSQL document store",
		slog.String("host", poolCfg.ConnConfig.Host),
		slog.String("database", poolCfg.ConnConfig.Database),
		slog.String("table", cfg.Table))
	return s, nil
}

func classifyConnectError(err error) error {
	if isAuthError(err) {
		return fmt.Errorf("%w: %w", docstore.ErrAuthentication, err)
	}
	return fmt.Errorf("%w: %w", docstore.ErrConnection, err)
}

func isAuthError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// invalid_password, invalid_authorization_specification
	return pgErr.Code == "28P01" || pgErr.Code == "28000"
}

func (s *Store) ensureTable(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
	id    TEXT PRIMARY KEY,
	key   TEXT NOT NULL,
	app   TEXT NOT NULL,
	value JSONB,
	UNIQUE (key, app)
)`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

func (s *Store) Find(ctx context.Context, app string) ([]docstore.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, key, app, value FROM `+s.table+` WHERE app = $1 ORDER BY key`, app)
	if err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (docstore.Document, error) {
		return scanDocument(row)
	})
	if err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}
	return docs, nil
}

func (s *Store) FindOne(ctx context.Context, key, app string) (docstore.Document, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, key, app, value FROM `+s.table+` WHERE key = $1 AND app = $2`, key, app)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.Document{}, false, nil
	}
	if err != nil {
		return docstore.Document{}, false, fmt.Errorf("find document %q: %w", key, err)
	}
	return doc, true, nil
}

// Save upserts doc by (key, app). A new row takes doc's ID when it has one.
func (s *Store) Save(ctx context.Context, doc docstore.Document) (docstore.Document, error) {
	raw, err := json.Marshal(doc.Value)
	if err != nil {
		return docstore.Document{}, fmt.Errorf("encode document %q: %w", doc.Key, err)
	}
	id := doc.ID
	if !doc.HasID() {
		id = primitive.NewObjectID()
	}

	var storedID string
	err = s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table+` (id, key, app, value) VALUES ($1, $2, $3, $4)
ON CONFLICT (key, app) DO UPDATE SET value = EXCLUDED.value
RETURNING id`,
		id.Hex(), doc.Key, doc.App, raw,
	).Scan(&storedID)
	if err != nil {
		return docstore.Document{}, fmt.Errorf("save document %q: %w", doc.Key, err)
	}
	if doc.ID, err = primitive.ObjectIDFromHex(storedID); err != nil {
		return docstore.Document{}, fmt.Errorf("document %q has invalid id %q: %w", doc.Key, storedID, err)
	}
	return doc, nil
}

func (s *Store) Remove(ctx context.Context, doc docstore.Document) (int64, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if doc.HasID() {
		tag, err = s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE id = $1`, doc.ID.Hex())
	} else {
		tag, err = s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE key = $1 AND app = $2`, doc.Key, doc.App)
	}
	if err != nil {
		return 0, fmt.Errorf("remove document %q: %w", doc.Key, err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) RemoveApp(ctx context.Context, app string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE app = $1`, app)
	if err != nil {
		return 0, fmt.Errorf("remove documents for app %q: %w", app, err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

func scanDocument(row pgx.Row) (docstore.Document, error) {
	var (
		doc docstore.Document
		id  string
		raw []byte
	)
	if err := row.Scan(&id, &doc.Key, &doc.App, &raw); err != nil {
		return docstore.Document{}, err
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return docstore.Document{}, fmt.Errorf("document %q has invalid id %q: %w", doc.Key, id, err)
	}
	doc.ID = oid
	if doc.Value, err = decodeValue(raw); err != nil {
		return docstore.Document{}, fmt.Errorf("decode document %q: %w", doc.Key, err)
	}
	return doc, nil
}

// decodeValue parses JSON, keeping integers as int64 rather than float64.
func decodeValue(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return convertNumbers(v), nil
}

func convertNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = convertNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = convertNumbers(e)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}
