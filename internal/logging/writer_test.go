package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openbid/auction-gateway/internal/config"
)

func TestRotatesAtSizeLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.log")

	rw, err := NewRotatingWriter(path, 1, 3, 30)
	if err != nil {
		t.Fatal(err)
	}
	defer rw.Close()
	rw.maxBytes = 64 // shrink for the test

	line := []byte(strings.Repeat("x", 40) + "\n")
	for i := 0; i < 3; i++ {
		if _, err := rw.Write(line); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected a rotated file alongside the active log, got %d entries", len(entries))
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() > 64 {
		t.Fatalf("active log exceeds limit: %d bytes", info.Size())
	}
}

func TestNewLoggerToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.log")

	logger, closer, err := New(config.LoggingConfig{
		Output: path, Level: "info", MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("startup", "port", 8080)
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"startup"`) {
		t.Fatalf("expected JSON log line, got %q", data)
	}
}

func TestNewLoggerStdout(t *testing.T) {
	logger, closer, err := New(config.LoggingConfig{Output: "stdout", Level: "debug"})
	if err != nil {
		t.Fatal(err)
	}
	if logger == nil {
		t.Fatal("expected logger")
	}
	if closer != nil {
		t.Fatal("stdout output must not return a closer")
	}
}
