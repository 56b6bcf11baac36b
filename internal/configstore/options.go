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
	"errors"
	"fmt"
	"time"

	"github.com/cardinalhq/mongoconf/internal/keypath"
	"github.com/cardinalhq/mongoconf/internal/savequeue"
)

// Options configures a Store.
type Options struct {
	// Namespace prefixes every root in storage ("<namespace>:<root>").
	Namespace string
	// App partitions documents; a store only sees its own app.
	App string
	// Delimiter separates key segments.
	Delimiter string
	// TTL is how long a cached root is served before a read triggers a
	// background refresh. Zero disables refreshing.
	TTL time.Duration
	// Concurrency bounds the number of concurrent write-backs.
	Concurrency int
	// OnPersistError, when set, is called for every failed write-back.
	OnPersistError func(*PersistError)
}

func DefaultOptions() Options {
	return Options{
		Namespace:   "mongodb",
		App:         "general",
		Delimiter:   keypath.DefaultDelimiter,
		TTL:         time.Hour,
		Concurrency: savequeue.DefaultConcurrency,
	}
}

func (o Options) validate() error {
	var errs []error
	if o.App == "" {
		errs = append(errs, errors.New("app is required"))
	}
	if o.Delimiter == "" {
		errs = append(errs, errors.New("delimiter is required"))
	}
	if o.TTL < 0 {
		errs = append(errs, fmt.Errorf("ttl must not be negative, got %s", o.TTL))
	}
	if o.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("concurrency must not be negative, got %d", o.Concurrency))
	}
	return errors.Join(errs...)
}
