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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

var (
	// ErrNotOpen is returned when a lock operation is attempted before Open.
	ErrNotOpen = errors.New("pid file not open")

	// ErrShortWrite is returned when the pid could not be written completely.
	// A partially written pid file would make liveness tracking unreliable.
	ErrShortWrite = errors.New("short write to pid file")

	// ErrUnsafeDirectory is returned when the PID file parent is world-writable.
	ErrUnsafeDirectory = errors.New("pid file directory is world-writable")
)

// PIDFile is the supervisor's singleton lock: a file whose exclusive
// advisory lock (flock) enforces at most one live instance per path, and
// whose first line records the owning supervisor's pid for the stop path
// and for humans.
//
// The file is opened without O_EXCL. A leftover file from a crashed
// supervisor carries no live lock (the kernel drops advisory locks when
// the holder dies), so TryLock succeeding is definitive evidence that no
// other instance is alive, regardless of the file's content.
type PIDFile struct {
	path string
	file *os.File
}

// NewPIDFile creates a PIDFile for the given path. No file is touched
// until Open or one of the read-side helpers is called.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Adopt wraps an already open descriptor for path, typically one
// inherited from the foreground process that acquired the lock before
// detaching. The descriptor is marked close-on-exec so the supervised
// child can never inherit the lock.
func Adopt(path string, f *os.File) *PIDFile {
	syscall.CloseOnExec(int(f.Fd()))
	return &PIDFile{path: path, file: f}
}

// Path returns the pid file path.
func (p *PIDFile) Path() string {
	return p.path
}

// File returns the open descriptor, or nil before Open. Used to hand
// the held lock down to the detached supervisor.
func (p *PIDFile) File() *os.File {
	return p.file
}

// Open opens the pid file, creating it if absent. It fails when the
// directory is missing or unwritable, or when the parent directory is
// world-writable without the sticky bit (a symlink-planting hazard).
// Open does not lock and does not truncate; existing content is left
// alone until WriteSelf.
func (p *PIDFile) Open() error {
	if err := verifyDirectorySafety(filepath.Dir(p.path)); err != nil {
		return fmt.Errorf("unsafe pid file location: %w", err)
	}

	f, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open pid file: %w", err)
	}
	p.file = f
	return nil
}

// TryLock attempts a non-blocking exclusive advisory lock on the open
// descriptor. It returns false, without blocking, when another process
// holds the lock. The descriptor is close-on-exec (the os package opens
// all files that way), so a successfully locked descriptor is never
// leaked into the supervised child.
func (p *PIDFile) TryLock() (bool, error) {
	if p.file == nil {
		return false, ErrNotOpen
	}
	if err := syscall.Flock(int(p.file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("failed to lock pid file: %w", err)
	}
	return true, nil
}

// WriteSelf truncates the file and records the calling process's pid
// followed by a newline. It must only be called while the lock is held,
// by the detached supervisor. An incomplete write is reported as
// ErrShortWrite; callers treat it as fatal.
func (p *PIDFile) WriteSelf() error {
	if p.file == nil {
		return ErrNotOpen
	}

	if err := p.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate pid file: %w", err)
	}
	if _, err := p.file.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to rewind pid file: %w", err)
	}

	line := fmt.Sprintf("%d\n", os.Getpid())
	n, err := p.file.WriteString(line)
	if err != nil {
		return fmt.Errorf("failed to write pid: %w", err)
	}
	if n != len(line) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(line))
	}

	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync pid file: %w", err)
	}
	return nil
}

// ReadOwner reads the recorded owner pid. A missing, empty, or
// unparsable file reads as 0, meaning "not running"; it is never an
// error.
func (p *PIDFile) ReadOwner() int {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0
	}

	line := string(data)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	pid, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// IsMine reports whether the recorded owner is the calling process.
func (p *PIDFile) IsMine() bool {
	return p.ReadOwner() == os.Getpid()
}

// IsRunning reports whether the recorded owner is a live process. A
// liveness probe answered with EPERM still counts as alive: the process
// exists, it just belongs to someone else, and starting a duplicate
// supervisor next to it would be worse than refusing.
func (p *PIDFile) IsRunning() bool {
	pid := p.ReadOwner()
	if pid == 0 {
		return false
	}
	return ProcessAlive(pid)
}

// Cleanup removes the pid file when the caller is the recorded owner or
// the recorded owner is dead, then releases the lock and descriptor
// unconditionally. Safe to call whether or not Open or TryLock ever ran.
func (p *PIDFile) Cleanup() error {
	var removeErr error
	if p.IsMine() || !p.IsRunning() {
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
			removeErr = fmt.Errorf("failed to remove pid file: %w", err)
		}
	}

	if p.file != nil {
		syscall.Flock(int(p.file.Fd()), syscall.LOCK_UN)
		p.file.Close()
		p.file = nil
	}

	return removeErr
}

// Exists returns true if the pid file exists.
func (p *PIDFile) Exists() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

// verifyDirectorySafety rejects world-writable parent directories unless
// the sticky bit is set (as on /tmp), where unlink by other users is
// already prevented.
func verifyDirectorySafety(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}

	mode := info.Mode()
	if mode&0002 != 0 && mode&os.ModeSticky == 0 {
		return fmt.Errorf("%w: %s has mode %04o", ErrUnsafeDirectory, dir, mode&os.ModePerm)
	}

	return nil
}
