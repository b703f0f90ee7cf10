// Package config resolves the on-disk locations the runtime reads and
// writes: per-workspace database files and the process-wide state/log
// directory. Both honor SIDE_*-prefixed environment overrides, matching the
// rest of the runtime's env-var conventions.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// StateHome returns the directory for process-wide state (logs, caches),
// creating it if necessary. Overridden by SIDE_STATE_HOME.
func StateHome() (string, error) {
	dir := os.Getenv("SIDE_STATE_HOME")
	if dir == "" {
		dir = filepath.Join(xdg.StateHome, "sidekickcore")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state home %s: %w", dir, err)
	}
	return dir, nil
}

// WorkspaceDBPath returns the sqlite database path for a given workspace id,
// under SIDE_DATA_HOME (or XDG data home by default). One embedded database
// per workspace, per the persisted state layout.
func WorkspaceDBPath(workspaceId string) (string, error) {
	dir := os.Getenv("SIDE_DATA_HOME")
	if dir == "" {
		dir = filepath.Join(xdg.DataHome, "sidekickcore", "workspaces")
	} else {
		dir = filepath.Join(dir, "workspaces")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace data dir %s: %w", dir, err)
	}
	return filepath.Join(dir, workspaceId+".db"), nil
}
