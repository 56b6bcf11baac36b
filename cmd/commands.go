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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/mongoconf/internal/configstore"
)

var resetConfirmed bool

func init() {
	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value at a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd.Context(), false, func(ctx context.Context, store *configstore.Store) error {
				v, found, err := store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("%w: %q", errKeyNotFound, args[0])
				}
				return writeValue(cmd.OutOrStdout(), outputFormat, v)
			})
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value at a key",
		Long:  "Store a value at a key. The value is parsed as YAML, so 5, true, '{a: 1}' and JSON are accepted.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseValue([]byte(args[1]))
			if err != nil {
				return err
			}
			return runWithStore(cmd.Context(), true, func(_ context.Context, store *configstore.Store) error {
				return store.Set(args[0], value)
			})
		},
	}

	mergeCmd := &cobra.Command{
		Use:   "merge <key> <value>",
		Short: "Deep merge an object into the value at a key and print the result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseValue([]byte(args[1]))
			if err != nil {
				return err
			}
			return runWithStore(cmd.Context(), true, func(_ context.Context, store *configstore.Store) error {
				merged, err := store.Merge(args[0], value)
				if err != nil {
					return err
				}
				return writeValue(cmd.OutOrStdout(), outputFormat, merged)
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear <key>",
		Short: "Remove the value at a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd.Context(), true, func(_ context.Context, store *configstore.Store) error {
				return store.Clear(args[0])
			})
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Remove every document stored for the app",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !resetConfirmed {
				return fmt.Errorf("reset removes all stored configuration for the app; pass --yes to confirm")
			}
			return runWithStore(cmd.Context(), false, func(ctx context.Context, store *configstore.Store) error {
				if err := store.Reset(ctx); err != nil {
					return err
				}
				slog.Info("Configuration reset")
				return nil
			})
		},
	}
	resetCmd.Flags().BoolVar(&resetConfirmed, "yes", false, "Confirm removal of all stored configuration")

	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Print every root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithStore(cmd.Context(), false, func(_ context.Context, store *configstore.Store) error {
				return writeValue(cmd.OutOrStdout(), outputFormat, store.Snapshot())
			})
		},
	}

	rootCmd.AddCommand(getCmd, setCmd, mergeCmd, clearCmd, resetCmd, dumpCmd)
}
