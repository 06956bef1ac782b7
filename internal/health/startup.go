// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ManuGH/pstnbridge/internal/config"
	"github.com/ManuGH/pstnbridge/internal/log"
)

// PerformStartupChecks verifies the local prerequisites before the server starts.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")

	if err := checkFileReadable(cfg.Vonage.PrivateKeyPath); err != nil {
		return fmt.Errorf("private key %s: %w", cfg.Vonage.PrivateKeyPath, err)
	}
	if err := checkListenAddr("listen", cfg.Server.ListenAddr); err != nil {
		return err
	}
	if cfg.Server.MetricsAddr != "" {
		if err := checkListenAddr("metrics", cfg.Server.MetricsAddr); err != nil {
			return err
		}
	}
	if err := checkStorePath(logger, cfg.Store); err != nil {
		return fmt.Errorf("store check failed: %w", err)
	}
	logger.Info().Str("event", "startup.checks_passed").Msg("startup checks passed")
	return nil
}

func checkListenAddr(name, addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid %s address %q: %w", name, addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid %s port %q in %q", name, port, addr)
	}
	return nil
}

// checkStorePath makes sure file backed stores can write where they point.
func checkStorePath(logger zerolog.Logger, st config.StoreConfig) error {
	var dir string
	switch st.Backend {
	case "sqlite":
		dir = filepath.Dir(st.Path)
	case "badger":
		dir = st.Path
	case "", "memory":
		logger.Warn().Str("store_backend", "memory").Msg("sessions are not persistent across restarts")
		return nil
	default:
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	probe := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", dir, err)
	}
	_ = os.Remove(probe)
	return nil
}

func checkFileReadable(path string) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}
	return f.Close()
}
