package observe

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestInitLogging_WritesToFileWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transcribe.log")

	InitLogging(LogConfig{FilePath: path})
	t.Cleanup(func() { InitLogging(LogConfig{}) })

	slog.Info("test log line")

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected log file to exist after logging: %v", err)
	}
}

func TestInitLogging_DefaultsMaxSizeBackupsAge(t *testing.T) {
	if got := orDefault(0, 100); got != 100 {
		t.Fatalf("orDefault(0, 100) = %d, want 100", got)
	}
	if got := orDefault(7, 100); got != 7 {
		t.Fatalf("orDefault(7, 100) = %d, want 7", got)
	}
}
