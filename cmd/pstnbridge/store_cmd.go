// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuGH/pstnbridge/internal/domain/bridge/store"
	"github.com/ManuGH/pstnbridge/internal/persistence/sqlite"
)

func newStoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect the session store",
	}
	cmd.AddCommand(newStoreVerifyCmd())
	return cmd
}

func newStoreVerifyCmd() *cobra.Command {
	var (
		path string
		mode string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check integrity of a sqlite session store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				return fmt.Errorf("--path is required")
			}
			mode = strings.ToLower(strings.TrimSpace(mode))
			if mode != "quick" && mode != "full" {
				return fmt.Errorf("invalid mode %q, use quick or full", mode)
			}

			problems, err := sqlite.VerifyIntegrity(path, mode, store.SqliteTables()...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintf(out, "  - %s\n", p)
				}
				return fmt.Errorf("%s: %d integrity problem(s)", path, len(problems))
			}
			_, _ = fmt.Fprintf(out, "%s: ok (%s)\n", path, mode)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "path to the sqlite database file")
	cmd.Flags().StringVar(&mode, "mode", "quick", "verification mode: quick or full")
	return cmd
}
