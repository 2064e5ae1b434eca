package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gridd/internal/ipc"
)

func TestEmitter_Frames(t *testing.T) {
	var buf bytes.Buffer
	emit := emitter(&buf, false)
	if err := emit("/dev/ttyUSB0"); err != nil {
		t.Fatalf("emit() error = %v", err)
	}

	msgs, err := ipc.NewDecoder().Feed(buf.Bytes())
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("decoded %d messages, want 1", len(msgs))
	}
	conn, ok := msgs[0].(ipc.Connection)
	if !ok || conn.Devnode != "/dev/ttyUSB0" {
		t.Errorf("message = %#v", msgs[0])
	}
}

func TestEmitter_Interactive(t *testing.T) {
	var buf bytes.Buffer
	emit := emitter(&buf, true)
	if err := emit("/dev/ttyACM1"); err != nil {
		t.Fatalf("emit() error = %v", err)
	}
	if buf.String() != "/dev/ttyACM1\n" {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRun_ReportsExistingNodes(t *testing.T) {
	dir := t.TempDir()
	devDir := filepath.Join(dir, "dev")
	if err := os.Mkdir(devDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"ttyUSB0", "ttyS0", "ttyACM3"} {
		if err := os.WriteFile(filepath.Join(devDir, name), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	configPath := filepath.Join(dir, "config.yaml")
	content := "detector:\n  dev_dir: " + devDir + "\nlogging:\n  level: error\n"
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var buf bytes.Buffer
	if err := run(ctx, configPath, &buf, true); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	want := filepath.Join(devDir, "ttyACM3") + "\n" + filepath.Join(devDir, "ttyUSB0") + "\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}
