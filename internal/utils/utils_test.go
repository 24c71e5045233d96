package utils

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestRunCommand(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("success", func(t *testing.T) {
		out, err := RunCommand(context.Background(), log, nil, "", "echo", "hello")
		if err != nil {
			t.Fatalf("RunCommand: %v", err)
		}
		if out != "hello" {
			t.Errorf("out = %q, want %q", out, "hello")
		}
	})

	t.Run("failure includes stderr", func(t *testing.T) {
		_, err := RunCommand(context.Background(), log, nil, "", "ls", "/no-such-path-gitfs-test")
		if err == nil {
			t.Fatal("expected an error")
		}
		if !strings.Contains(err.Error(), "No such file or directory") {
			t.Errorf("error %q does not include the command's stderr", err)
		}
	})

	t.Run("cwd is honored", func(t *testing.T) {
		dir := t.TempDir()
		out, err := RunCommand(context.Background(), log, nil, dir, "pwd")
		if err != nil {
			t.Fatalf("RunCommand: %v", err)
		}
		if out != dir {
			t.Errorf("pwd output = %q, want %q", out, dir)
		}
	})

	t.Run("deadline exceeded surfaces as context error", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 0)
		defer cancel()
		_, err := RunCommand(ctx, log, nil, "", "sleep", "1")
		if err == nil {
			t.Fatal("expected an error")
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want it to wrap context.DeadlineExceeded", err)
		}
	})
}
