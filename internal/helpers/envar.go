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

package helpers

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// GetBoolEnv reads a boolean environment variable. "true", "1", "yes", "on",
// "enable" and "enabled" are true and their opposites false, ignoring case.
// An unset or unrecognized value yields defaultValue.
func GetBoolEnv(envVar string, defaultValue bool) bool {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(envVar)))

	switch env {
	case "true", "1", "yes", "on", "enable", "enabled":
		return true
	case "false", "0", "no", "off", "disable", "disabled":
		return false
	case "":
		return defaultValue
	default:
		slog.Warn("Unrecognized boolean environment value, using default",
			slog.String("name", envVar),
			slog.String("value", env),
			slog.Bool("default", defaultValue))
		return defaultValue
	}
}

// GetPortEnv reads a TCP port from an environment variable. "0", "off" and
// "false" disable the listener and return 0. An unset or invalid value
// yields defaultPort.
func GetPortEnv(envVar string, defaultPort int) int {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(envVar)))

	switch env {
	case "":
		return defaultPort
	case "0", "off", "false":
		return 0
	}

	port, err := strconv.Atoi(env)
	if err != nil || port < 0 || port > 65535 {
		slog.Warn("Invalid port in environment, using default",
			slog.String("name", envVar),
			slog.String("value", env),
			slog.Int("default", defaultPort))
		return defaultPort
	}
	return port
}
