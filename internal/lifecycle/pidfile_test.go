// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lifecycle

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
)

// deadPID returns a pid that belonged to a process which has already
// been reaped, so liveness probes against it fail with ESRCH.
func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start helper process: %v", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Wait(); err != nil {
		t.Fatalf("helper process failed: %v", err)
	}
	return pid
}

func TestPIDFile_OpenAndWriteSelf(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test.pid")

	p := NewPIDFile(path)
	defer p.Cleanup()

	if err := p.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if !p.Exists() {
		t.Error("pid file does not exist after Open()")
	}

	// Nothing recorded yet
	if pid := p.ReadOwner(); pid != 0 {
		t.Errorf("ReadOwner() = %d before WriteSelf, want 0", pid)
	}

	locked, err := p.TryLock()
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if !locked {
		t.Fatal("TryLock() = false on a fresh file")
	}

	if err := p.WriteSelf(); err != nil {
		t.Fatalf("WriteSelf() error = %v", err)
	}

	if pid := p.ReadOwner(); pid != os.Getpid() {
		t.Errorf("ReadOwner() = %d, want %d", pid, os.Getpid())
	}
	if !p.IsMine() {
		t.Error("IsMine() = false after WriteSelf")
	}
	if !p.IsRunning() {
		t.Error("IsRunning() = false for own live pid")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if mode := info.Mode() & os.ModePerm; mode != 0644 {
		t.Errorf("pid file mode = %04o, want 0644", mode)
	}
}

func TestPIDFile_OpenFailsWithoutDirectory(t *testing.T) {
	p := NewPIDFile(filepath.Join(t.TempDir(), "missing", "test.pid"))
	if err := p.Open(); err == nil {
		p.Cleanup()
		t.Fatal("Open() succeeded with a missing parent directory")
	}
}

func TestPIDFile_WriteSelfOverwritesStaleContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.pid")
	if err := os.WriteFile(path, []byte("99999999\n"), 0644); err != nil {
		t.Fatalf("failed to seed stale file: %v", err)
	}

	p := NewPIDFile(path)
	defer p.Cleanup()

	if err := p.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if locked, err := p.TryLock(); err != nil || !locked {
		t.Fatalf("TryLock() = %v, %v; want true, nil", locked, err)
	}
	if err := p.WriteSelf(); err != nil {
		t.Fatalf("WriteSelf() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	want := fmt.Sprintf("%d\n", os.Getpid())
	if string(data) != want {
		t.Errorf("file content = %q, want %q", data, want)
	}
}

func TestPIDFile_ReadOwner(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"valid", "9999\n", 9999},
		{"whitespace", "  1234  \n", 1234},
		{"first line only", "4321\ntrailing junk\n", 4321},
		{"non-numeric", "not-a-number\n", 0},
		{"negative", "-123\n", 0},
		{"zero", "0\n", 0},
		{"float", "123.45\n", 0},
		{"empty", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.name+".pid")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to create test file: %v", err)
			}

			if got := NewPIDFile(path).ReadOwner(); got != tt.want {
				t.Errorf("ReadOwner() = %d, want %d", got, tt.want)
			}
		})
	}

	t.Run("missing file reads as zero", func(t *testing.T) {
		p := NewPIDFile(filepath.Join(tmpDir, "nonexistent.pid"))
		if got := p.ReadOwner(); got != 0 {
			t.Errorf("ReadOwner() = %d, want 0", got)
		}
		if p.IsRunning() {
			t.Error("IsRunning() = true for a missing file")
		}
	})
}

func TestPIDFile_Locking(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "lock.pid")

	t.Run("second descriptor cannot lock", func(t *testing.T) {
		p1 := NewPIDFile(path)
		p2 := NewPIDFile(path)
		defer p1.Cleanup()
		defer p2.Cleanup()

		if err := p1.Open(); err != nil {
			t.Fatalf("first Open() error = %v", err)
		}
		if locked, err := p1.TryLock(); err != nil || !locked {
			t.Fatalf("first TryLock() = %v, %v; want true, nil", locked, err)
		}

		if err := p2.Open(); err != nil {
			t.Fatalf("second Open() error = %v", err)
		}
		locked, err := p2.TryLock()
		if err != nil {
			t.Fatalf("second TryLock() error = %v", err)
		}
		if locked {
			t.Error("second TryLock() = true while the lock is held")
		}
	})

	t.Run("raw flock conflicts while held", func(t *testing.T) {
		path := filepath.Join(tmpDir, "raw.pid")
		p := NewPIDFile(path)
		defer p.Cleanup()

		if err := p.Open(); err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if locked, _ := p.TryLock(); !locked {
			t.Fatal("TryLock() = false on a fresh file")
		}

		f, err := os.OpenFile(path, os.O_RDWR, 0644)
		if err != nil {
			t.Fatalf("failed to open pid file: %v", err)
		}
		defer f.Close()

		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			t.Error("acquired flock on an already-locked file")
			syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		} else if err != syscall.EWOULDBLOCK {
			t.Errorf("Flock error = %v, want EWOULDBLOCK", err)
		}
	})

	t.Run("stale content does not block a fresh lock", func(t *testing.T) {
		path := filepath.Join(tmpDir, "stale-lock.pid")
		// A live pid in the file, but nobody holds the lock. The lock
		// attempt must succeed: the lock is the truth, not the content.
		if err := os.WriteFile(path, []byte("1\n"), 0644); err != nil {
			t.Fatalf("failed to seed file: %v", err)
		}

		p := NewPIDFile(path)
		defer p.Cleanup()

		if err := p.Open(); err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		locked, err := p.TryLock()
		if err != nil {
			t.Fatalf("TryLock() error = %v", err)
		}
		if !locked {
			t.Error("TryLock() = false on an unlocked stale file")
		}
	})
}

func TestPIDFile_Cleanup(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("owner removes file and releases lock", func(t *testing.T) {
		path := filepath.Join(tmpDir, "own.pid")
		p := NewPIDFile(path)

		if err := p.Open(); err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if locked, _ := p.TryLock(); !locked {
			t.Fatal("TryLock() = false")
		}
		if err := p.WriteSelf(); err != nil {
			t.Fatalf("WriteSelf() error = %v", err)
		}

		if err := p.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
		if p.Exists() {
			t.Error("pid file still exists after owner Cleanup()")
		}

		// Lock must be free again
		p2 := NewPIDFile(path)
		defer p2.Cleanup()
		if err := p2.Open(); err != nil {
			t.Fatalf("re-Open() error = %v", err)
		}
		if locked, _ := p2.TryLock(); !locked {
			t.Error("TryLock() = false after previous owner cleaned up")
		}
	})

	t.Run("keeps file owned by a live foreign process", func(t *testing.T) {
		path := filepath.Join(tmpDir, "foreign.pid")
		// pid 1 is always alive (probe succeeds or fails with EPERM)
		if err := os.WriteFile(path, []byte("1\n"), 0644); err != nil {
			t.Fatalf("failed to seed file: %v", err)
		}

		p := NewPIDFile(path)
		if err := p.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
		if !p.Exists() {
			t.Error("Cleanup() removed a file owned by a live process")
		}
		os.Remove(path)
	})

	t.Run("removes file owned by a dead process", func(t *testing.T) {
		path := filepath.Join(tmpDir, "dead.pid")
		pid := deadPID(t)
		if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
			t.Fatalf("failed to seed file: %v", err)
		}

		p := NewPIDFile(path)
		if err := p.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
		if p.Exists() {
			t.Error("Cleanup() kept a file owned by a dead process")
		}
	})

	t.Run("succeeds when nothing was ever opened", func(t *testing.T) {
		p := NewPIDFile(filepath.Join(tmpDir, "never-opened.pid"))
		if err := p.Cleanup(); err != nil {
			t.Errorf("Cleanup() error = %v, want nil", err)
		}
	})
}

func TestPIDFile_Adopt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adopted.pid")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("failed to open file: %v", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		t.Fatalf("failed to lock file: %v", err)
	}

	p := Adopt(path, f)
	if err := p.WriteSelf(); err != nil {
		t.Fatalf("WriteSelf() error = %v", err)
	}
	if !p.IsMine() {
		t.Error("IsMine() = false on an adopted descriptor")
	}
	if err := p.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if p.Exists() {
		t.Error("pid file still exists after Cleanup()")
	}
}

func TestPIDFile_TryLockBeforeOpen(t *testing.T) {
	p := NewPIDFile(filepath.Join(t.TempDir(), "unopened.pid"))
	if _, err := p.TryLock(); err != ErrNotOpen {
		t.Errorf("TryLock() error = %v, want ErrNotOpen", err)
	}
	if err := p.WriteSelf(); err != ErrNotOpen {
		t.Errorf("WriteSelf() error = %v, want ErrNotOpen", err)
	}
}
