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
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config describes the MongoDB endpoint and collection that hold the
// configuration documents.
type Config struct {
	Host       string
	Port       int
	Database   string
	Collection string

	// Username and Password are optional. AuthSource defaults to the
	// driver's default ("admin") when empty.
	Username   string
	Password   string
	AuthSource string

	// SafeDBs and SafeCollections select acknowledged (w:1) writes at the
	// database and collection level. When false, writes are fire-and-forget.
	SafeDBs         bool
	SafeCollections bool

	PoolSize       uint64
	ConnectTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            27017,
		Database:        "nconf",
		Collection:      "config",
		SafeDBs:         true,
		SafeCollections: true,
		PoolSize:        10,
		ConnectTimeout:  10 * time.Second,
	}
}

// URI returns the connection string for the configured endpoint. Credentials
// are passed separately and never appear in it.
func (c Config) URI() string {
	return "mongodb://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) validate() error {
	if c.Host == "" {
		return fmt.Errorf("mongodb host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("mongodb port %d is out of range", c.Port)
	}
	if c.Database == "" {
		return fmt.Errorf("mongodb database is required")
	}
	if c.Collection == "" {
		return fmt.Errorf("mongodb collection is required")
	}
	return nil
}
