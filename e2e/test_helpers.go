//go:build e2e

package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tonimelisma/graph-snippets/internal/app"
	"github.com/tonimelisma/graph-snippets/pkg/graph"
)

// E2ETestHelper provides utilities for E2E testing
type E2ETestHelper struct {
	App     *app.App
	Config  *Config
	TestID  string
	TestDir string
}

// NewE2ETestHelper connects to Graph with the signed-in CLI configuration.
func NewE2ETestHelper(t *testing.T) *E2ETestHelper {
	t.Helper()

	cfg := LoadConfig()
	if cfg.ConfigHome != "" {
		t.Setenv("XDG_CONFIG_HOME", cfg.ConfigHome)
	}

	a, err := app.NewApp(&cobra.Command{})
	if err != nil {
		if errors.Is(err, graph.ErrReauthRequired) || errors.Is(err, app.ErrLoginPending) {
			t.Fatal(`
E2E Testing Setup Required:

1. Sign in with the CLI first:
   ./graph-snippets auth login

2. Optionally point the tests at a dedicated config directory:
   export GRAPH_SNIPPETS_E2E_CONFIG_HOME=/path/to/config-home

3. Then run E2E tests:
   go test -tags=e2e -v ./e2e/...
`)
		}
		t.Fatalf("Failed to create app: %v", err)
	}

	testID := fmt.Sprintf("%s-%s", time.Now().Format("20060102-150405"), uuid.NewString()[:8])
	return &E2ETestHelper{
		App:     a,
		Config:  cfg,
		TestID:  testID,
		TestDir: path.Join(cfg.TestDir, testID),
	}
}

// Context returns a context bounded by the configured timeout.
func (h *E2ETestHelper) Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), h.Config.Timeout)
	t.Cleanup(cancel)
	return ctx
}

// CreateTestFileWithSize creates a test file with specified size
func (h *E2ETestHelper) CreateTestFileWithSize(t *testing.T, name string, size int64) string {
	t.Helper()

	content := make([]byte, size)
	// Fill with some pattern to make it compressible but not all zeros
	for i := range content {
		content[i] = byte(i % 256)
	}

	filePath := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(filePath, content, 0600); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return filePath
}

// GetTestPath returns the full path for a test file
func (h *E2ETestHelper) GetTestPath(filename string) string {
	return path.Join(h.TestDir, filename)
}

// UploadOptions returns the configured upload options with the test slice size.
func (h *E2ETestHelper) UploadOptions() graph.UploadOptions {
	opts := h.App.Settings.UploadOptions()
	opts.SliceSize = h.Config.SliceSize
	opts.Logger = h.App.Logger
	return opts
}

// LogTestInfo logs information about the current test
func (h *E2ETestHelper) LogTestInfo(t *testing.T) {
	t.Helper()
	t.Logf("E2E Test ID: %s", h.TestID)
	t.Logf("Test Directory: %s", h.TestDir)
}
