// SPDX-License-Identifier: MIT

package health

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/ManuGH/lowroll/internal/config"
	"github.com/ManuGH/lowroll/internal/log"
)

// PerformStartupChecks validates the environment before the daemon binds.
// Failures here are configuration errors, not runtime faults.
func PerformStartupChecks(cfg config.Config) error {
	logger := log.WithComponent("startup-check")

	if err := checkDataDir(cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	if _, _, err := net.SplitHostPort(cfg.ListenAddr); err != nil {
		return fmt.Errorf("LISTEN_ADDR %q is not host:port: %w", cfg.ListenAddr, err)
	}
	if cfg.TermsFile != "" {
		if _, err := os.Stat(cfg.TermsFile); err != nil {
			// The watcher tolerates a missing file; surface it early anyway.
			logger.Warn().Str("path", cfg.TermsFile).Err(err).Msg("terms file is not readable yet")
		}
	}

	logger.Info().Msg("startup checks passed")
	return nil
}

func checkDataDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(path, 0o750)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	probe := filepath.Join(path, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s: %w", path, err)
	}
	return os.Remove(probe)
}
