package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fastRunner() *Runner {
	return New(Config{
		Timeout:    300 * time.Millisecond,
		ProbeDelay: 100 * time.Millisecond,
		Grace:      100 * time.Millisecond,
	})
}

func TestRun_Success(t *testing.T) {
	dir := t.TempDir()
	res, err := fastRunner().Run(context.Background(), Program{
		Language: "sh",
		Code:     "echo hello; pwd",
		Dir:      dir,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.ExitCode != 0 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.HasPrefix(res.Stdout, "hello\n") {
		t.Errorf("stdout = %q", res.Stdout)
	}
	// The working directory is honored.
	wantDir, _ := filepath.EvalSymlinks(dir)
	if !strings.Contains(res.Stdout, filepath.Base(wantDir)) {
		t.Errorf("stdout %q does not show dir %s", res.Stdout, dir)
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	res, err := fastRunner().Run(context.Background(), Program{
		Language: "sh",
		Code:     "echo boom >&2; exit 3",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.ExitCode != 3 {
		t.Errorf("result = %+v", res)
	}
	if !strings.Contains(res.Error, "boom") || !strings.HasPrefix(res.Error, "execution failed") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestRun_Timeout(t *testing.T) {
	start := time.Now()
	res, err := fastRunner().Run(context.Background(), Program{
		Language: "sh",
		Code:     "exec sleep 10",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || !res.TimedOut || res.ExitCode != -1 {
		t.Errorf("result = %+v", res)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("timeout took %v", time.Since(start))
	}
}

func TestRun_TimeoutIgnoringInterruptIsKilled(t *testing.T) {
	start := time.Now()
	res, err := fastRunner().Run(context.Background(), Program{
		Language: "sh",
		Code:     "trap '' INT; exec sleep 10",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.TimedOut {
		t.Errorf("result = %+v", res)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("kill after grace took %v", time.Since(start))
	}
}

func TestRun_GUIProbe(t *testing.T) {
	start := time.Now()
	res, err := fastRunner().Run(context.Background(), Program{
		Language: "sh",
		Code:     "exec sleep 10",
		GUI:      true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || !res.Probed || res.TimedOut {
		t.Errorf("result = %+v", res)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("probe took %v", time.Since(start))
	}
}

func TestRun_GUIEarlyExit(t *testing.T) {
	res, err := fastRunner().Run(context.Background(), Program{
		Language: "sh",
		Code:     "echo 'no display' >&2; exit 1",
		GUI:      true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Probed {
		t.Errorf("result = %+v", res)
	}
	if !strings.HasPrefix(res.Error, "GUI application failed to start") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestRun_Unsupported(t *testing.T) {
	r := fastRunner()
	_, err := r.Run(context.Background(), Program{Language: "cobol", Code: "x"})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
	if r.Supports("cobol") || !r.Supports("Py") || !r.Supports("shell") {
		t.Error("Supports mismatch")
	}
}

func TestRun_RemovesTempFile(t *testing.T) {
	res, err := fastRunner().Run(context.Background(), Program{
		Language: "sh",
		Code:     `echo "$0"`,
	})
	if err != nil || !res.Success {
		t.Fatalf("run: %+v %v", res, err)
	}
	path := strings.TrimSpace(res.Stdout)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("temp file %s still exists", path)
	}
}

func TestNormalizeLanguage(t *testing.T) {
	tests := map[string]string{
		"Python3": "python",
		"js":      "javascript",
		"golang":  "go",
		"shell":   "bash",
		" rb ":    "ruby",
		"rust":    "rust",
	}
	for in, want := range tests {
		if got := NormalizeLanguage(in); got != want {
			t.Errorf("NormalizeLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsGUI(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"import tkinter as tk\nroot = tk.Tk()\nroot.mainloop()", true},
		{"from tkinter import *", true},
		{"import pygame\npygame.display.set_mode((640, 480))", true},
		{"print('hello')", false},
		{"def main():\n    return 1", false},
	}
	for _, tt := range tests {
		if got := IsGUI(tt.code); got != tt.want {
			t.Errorf("IsGUI(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{max: 4}
	n, err := b.Write([]byte("abcdef"))
	if err != nil || n != 6 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	b.Write([]byte("gh"))
	if b.String() != "abcd" {
		t.Errorf("buffer = %q", b.String())
	}
}
