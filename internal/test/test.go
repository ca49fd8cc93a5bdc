// Package test holds helpers shared by integration tests.
package test

import (
	"fmt"
	"os"
	"testing"

	"github.com/kelseyhightower/envconfig"
)

// Integration skips the test unless ORCHTEST_INTEGRATION is set.
// Integration tests boot real clusters, so they need a Docker daemon,
// cluster build material, and an installer artifact.
func Integration(t *testing.T) {
	t.Helper()
	if os.Getenv("ORCHTEST_INTEGRATION") == "" {
		t.Skip("set ORCHTEST_INTEGRATION to run integration tests")
	}
}

// Config is the environment-supplied configuration for integration tests.
type Config struct {
	// BuildDir is the directory holding the cluster build tooling.
	BuildDir string `envconfig:"BUILD_DIR" required:"true"`
	// InstallerPath is the installer artifact to stage into each cluster.
	InstallerPath string `envconfig:"INSTALLER_PATH" required:"true"`
	// WorkRoot overrides where cluster working directories are staged.
	WorkRoot string `envconfig:"WORK_ROOT"`
}

// LoadConfig reads integration test configuration from ORCHTEST_-prefixed
// environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("orchtest", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment config: %w", err)
	}
	return &cfg, nil
}
