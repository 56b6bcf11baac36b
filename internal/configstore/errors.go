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
)

var (
	// ErrNotObject is returned when a key indexes through a value that is
	// not an object, e.g. setting "a:b" when "a" holds a number.
	ErrNotObject = errors.New("value is not an object")
	// ErrPersistence matches every PersistError.
	ErrPersistence = errors.New("configuration write-back failed")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("configuration store is closed")
)

// PersistError describes one document that could not be written back.
type PersistError struct {
	Root string
	Key  string
	Op   string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// State is the connection state of a Store.
type State int32

const (
	StateUnconnected State = iota
	StateConnecting
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
