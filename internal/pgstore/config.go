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

package pgstore

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config describes how to reach PostgreSQL. When URL is set it is used as
// is and the individual connection fields are ignored.
type Config struct {
	URL            string
	Host           string
	Port           int
	Database       string
	Username       string
	Password       string
	SSLMode        string
	Table          string
	MaxConns       int32
	ConnectTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           5432,
		Database:       "nconf",
		Table:          "config",
		MaxConns:       10,
		ConnectTimeout: 10 * time.Second,
	}
}

// ConnString returns the PostgreSQL URL for c. When OTEL_SERVICE_NAME is set
// it becomes the application_name unless the URL already carries one.
func (c Config) ConnString() (string, error) {
	if c.URL != "" {
		return c.URL, nil
	}

	var missing []string
	if c.Host == "" {
		missing = append(missing, "host")
	}
	if c.Database == "" {
		missing = append(missing, "database")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing required postgres setting(s): %s", strings.Join(missing, ", "))
	}

	port := c.Port
	if port == 0 {
		port = 5432
	}
	u := &url.URL{
		Scheme: "postgresql",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:   c.Database,
	}
	if c.Username != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		} else {
			u.User = url.User(c.Username)
		}
	}

	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if appName := os.Getenv("OTEL_SERVICE_NAME"); appName != "" && q.Get("application_name") == "" {
		q.Set("application_name", sanitizeAppName(appName))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// sanitizeAppName keeps letters, digits, '-' and '_' and fits the
// PostgreSQL identifier length.
func sanitizeAppName(name string) string {
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '-' || r == '_' {
			return r
		}
		return '_'
	}, name)
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}

func (c Config) validate() error {
	var errs []error
	if c.Table == "" {
		errs = append(errs, errors.New("table is required"))
	}
	if c.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("max connections must not be negative, got %d", c.MaxConns))
	}
	if c.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("connect timeout must not be negative, got %s", c.ConnectTimeout))
	}
	if _, err := c.ConnString(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
