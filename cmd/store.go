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
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cardinalhq/mongoconf/config"
	"github.com/cardinalhq/mongoconf/internal/configstore"
)

var errKeyNotFound = errors.New("key not found")

// newStore builds an unconnected store for cfg's driver.
func newStore(cfg *config.Config, onPersistError func(*configstore.PersistError)) (*configstore.Store, error) {
	connect, err := cfg.Connector()
	if err != nil {
		return nil, err
	}
	opts := cfg.StoreOptions()
	opts.OnPersistError = onPersistError
	return configstore.New(connect, opts)
}

// runWithStore loads the store, runs fn, optionally saves, and closes.
// Failed write-backs are returned so one-shot commands exit non-zero.
func runWithStore(ctx context.Context, save bool, fn func(context.Context, *configstore.Store) error) (err error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	var (
		mu          sync.Mutex
		persistErrs []error
	)
	store, err := newStore(cfg, func(perr *configstore.PersistError) {
		mu.Lock()
		defer mu.Unlock()
		persistErrs = append(persistErrs, perr)
	})
	if err != nil {
		return err
	}
	defer func() {
		closeErr := store.Close(ctx)
		mu.Lock()
		defer mu.Unlock()
		err = errors.Join(err, closeErr, errors.Join(persistErrs...))
	}()

	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := fn(ctx, store); err != nil {
		return err
	}
	if save {
		if err := store.Save(ctx); err != nil {
			return fmt.Errorf("save configuration: %w", err)
		}
	}
	return nil
}
