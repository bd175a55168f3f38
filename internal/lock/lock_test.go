package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	db := filepath.Join(t.TempDir(), "nested", "foreman.db")
	l := ForDatabase(db)

	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	data, err := os.ReadFile(db + Suffix)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("lock content = %q", data)
	}
	if pid, ok := l.Holder(); !ok || pid != os.Getpid() {
		t.Errorf("Holder = %d, %v", pid, ok)
	}

	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
	if _, ok := l.Holder(); ok {
		t.Error("released lock still held")
	}
}

func TestAcquire_HeldByLiveProcess(t *testing.T) {
	db := filepath.Join(t.TempDir(), "foreman.db")
	first := ForDatabase(db)
	if err := first.Acquire(); err != nil {
		t.Fatal(err)
	}
	defer first.Release()

	err := ForDatabase(db).Acquire()
	if !errors.Is(err, ErrLocked) {
		t.Errorf("err = %v, want ErrLocked", err)
	}
}

func TestAcquire_ReclaimsStale(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		// PIDs are capped well below this on every supported platform.
		{"dead pid", "999999999"},
		{"garbage", "not-a-pid"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := filepath.Join(t.TempDir(), "foreman.db")
			if err := os.WriteFile(db+Suffix, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			old := time.Now().Add(-time.Minute)
			if err := os.Chtimes(db+Suffix, old, old); err != nil {
				t.Fatal(err)
			}
			l := ForDatabase(db)
			if err := l.Acquire(); err != nil {
				t.Fatalf("Acquire: %v", err)
			}
			if pid, ok := l.Holder(); !ok || pid != os.Getpid() {
				t.Errorf("Holder = %d, %v", pid, ok)
			}
		})
	}
}

func TestAcquire_FreshUnwrittenLockIsHeld(t *testing.T) {
	for _, content := range []string{"", "12a"} {
		db := filepath.Join(t.TempDir(), "foreman.db")
		if err := os.WriteFile(db+Suffix, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		err := ForDatabase(db).Acquire()
		if !errors.Is(err, ErrLocked) {
			t.Errorf("content %q: err = %v, want ErrLocked", content, err)
		}
		if _, statErr := os.Stat(db + Suffix); statErr != nil {
			t.Errorf("content %q: lock file removed: %v", content, statErr)
		}
	}
}
