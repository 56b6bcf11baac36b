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

// Package mongostore persists configuration documents in a MongoDB
// collection.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/cardinalhq/mongoconf/internal/docstore"
)

const (
	codeUnauthorized         = 13
	codeAuthenticationFailed = 18
	codeNamespaceExists      = 48
)

// Store is a docstore.Store backed by one MongoDB collection.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
}

var _ docstore.Store = (*Store)(nil)

// Connector returns a docstore.Connector that calls Connect with cfg.
func Connector(cfg Config) docstore.Connector {
	return func(ctx context.Context) (docstore.Store, error) {
		return Connect(ctx, cfg)
	}
}

// Connect opens the client, authenticates when credentials are configured,
// and makes sure the collection and its (key, app) index exist.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Join(docstore.ErrConnection, err)
	}

	opts := options.Client().
		ApplyURI(cfg.URI()).
		SetAppName("mongoconf").
		SetMaxPoolSize(cfg.PoolSize)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout).SetServerSelectionTimeout(cfg.ConnectTimeout)
	}
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{
			AuthSource: cfg.AuthSource,
			Username:   cfg.Username,
			Password:   cfg.Password,
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, classifyConnectError(err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, classifyConnectError(err)
	}

	db := client.Database(cfg.Database, options.Database().SetWriteConcern(writeConcern(cfg.SafeDBs)))
	collection, err := ensureCollection(ctx, db, cfg.Collection, cfg.SafeCollections)
	if err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, errors.Join(docstore.ErrConnection, err)
	}

	slog.Info("Connected to MongoDB",
		slog.String("uri", cfg.URI()),
		slog.String("database", cfg.Database),
		slog.String("collection", cfg.Collection),
		slog.Bool("authenticated", cfg.Username != ""))

	return &Store{client: client, collection: collection}, nil
}

func ensureCollection(ctx context.Context, db *mongo.Database, name string, safe bool) (*mongo.Collection, error) {
	names, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	if len(names) == 0 {
		err := db.CreateCollection(ctx, name)
		var cmdErr mongo.CommandError
		if err != nil && !(errors.As(err, &cmdErr) && cmdErr.Code == codeNamespaceExists) {
			return nil, fmt.Errorf("create collection %q: %w", name, err)
		}
	}

	collection := db.Collection(name, options.Collection().SetWriteConcern(writeConcern(safe)))

	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}, {Key: "app", Value: 1}},
		Options: options.Index().SetName("key_app").SetUnique(true),
	})
	if err != nil && !errors.Is(err, mongo.ErrUnacknowledgedWrite) {
		slog.Warn("Failed to ensure key/app index", slog.String("collection", name), slog.Any("error", err))
	}
	return collection, nil
}

func writeConcern(safe bool) *writeconcern.WriteConcern {
	if safe {
		return writeconcern.W1()
	}
	return writeconcern.Unacknowledged()
}

func classifyConnectError(err error) error {
	if isAuthError(err) {
		return fmt.Errorf("%w: %w", docstore.ErrAuthentication, err)
	}
	return fmt.Errorf("%w: %w", docstore.ErrConnection, err)
}

func isAuthError(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && (cmdErr.Code == codeAuthenticationFailed || cmdErr.Code == codeUnauthorized) {
		return true
	}
	// Handshake failures arrive wrapped in server selection errors.
	msg := err.Error()
	return strings.Contains(msg, "auth error") || strings.Contains(msg, "AuthenticationFailed")
}

func documentFilter(key, app string) bson.D {
	return bson.D{{Key: "key", Value: key}, {Key: "app", Value: app}}
}

func (s *Store) Find(ctx context.Context, app string) ([]docstore.Document, error) {
	cur, err := s.collection.Find(ctx, bson.D{{Key: "app", Value: app}})
	if err != nil {
		return nil, fmt.Errorf("find documents for app %q: %w", app, err)
	}
	var docs []docstore.Document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode documents for app %q: %w", app, err)
	}
	for i := range docs {
		docs[i].Value = docstore.Normalize(docs[i].Value)
	}
	return docs, nil
}

func (s *Store) FindOne(ctx context.Context, key, app string) (docstore.Document, bool, error) {
	var doc docstore.Document
	err := s.collection.FindOne(ctx, documentFilter(key, app)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return docstore.Document{}, false, nil
	}
	if err != nil {
		return docstore.Document{}, false, fmt.Errorf("find document %q: %w", key, err)
	}
	doc.Value = docstore.Normalize(doc.Value)
	return doc, true, nil
}

// Save replaces the document stored under (Key, App), inserting it when
// missing. The existing _id is preserved on replace.
func (s *Store) Save(ctx context.Context, doc docstore.Document) (docstore.Document, error) {
	replacement := bson.D{
		{Key: "key", Value: doc.Key},
		{Key: "value", Value: doc.Value},
		{Key: "app", Value: doc.App},
	}
	res, err := s.collection.ReplaceOne(ctx, documentFilter(doc.Key, doc.App), replacement, options.Replace().SetUpsert(true))
	if errors.Is(err, mongo.ErrUnacknowledgedWrite) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("save document %q: %w", doc.Key, err)
	}
	if id, ok := res.UpsertedID.(primitive.ObjectID); ok {
		doc.ID = id
	}
	return doc, nil
}

func (s *Store) Remove(ctx context.Context, doc docstore.Document) (int64, error) {
	filter := documentFilter(doc.Key, doc.App)
	if doc.HasID() {
		filter = bson.D{{Key: "_id", Value: doc.ID}}
	}
	res, err := s.collection.DeleteOne(ctx, filter)
	if errors.Is(err, mongo.ErrUnacknowledgedWrite) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("remove document %q: %w", doc.Key, err)
	}
	return res.DeletedCount, nil
}

func (s *Store) RemoveApp(ctx context.Context, app string) (int64, error) {
	res, err := s.collection.DeleteMany(ctx, bson.D{{Key: "app", Value: app}})
	if errors.Is(err, mongo.ErrUnacknowledgedWrite) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("remove documents for app %q: %w", app, err)
	}
	return res.DeletedCount, nil
}

// Close ends any authenticated sessions and disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
