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

// Package bootstrap ties the start command's two halves together: the
// foreground process that acquires the pid file lock and re-execs
// itself detached, and the detached supervisor that adopts the lock and
// runs the restart loop. Both halves run from the same binary; the
// ChildMarker argv flag selects the detached half before any other
// argument processing.
package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// ChildMarker is the argv flag that switches the binary into the
	// detached supervisor. It is never typed by operators; the
	// foreground half injects it when re-execing itself.
	ChildMarker = "--supervise-child"

	// RootEnv names the environment variable holding the installation
	// root. The foreground half exports it, so the detached half and
	// the supervised child see the same value.
	RootEnv = "STEWARD_HOME"

	// DefaultRoot is the installation root when RootEnv is unset.
	DefaultRoot = "/opt/steward"

	// pidFileFD is where the foreground half places the locked pid
	// file descriptor for the detached half: the first slot after
	// stdin, stdout, and stderr.
	pidFileFD = 3
)

// ResolveRoot determines the installation root, exports it through
// RootEnv, and changes the working directory there so every relative
// path in the configuration resolves against the root. Both halves call
// this; the second call is a no-op beyond re-validating the directory.
func ResolveRoot() (string, error) {
	root := os.Getenv(RootEnv)
	if root == "" {
		root = DefaultRoot
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root %s: %w", root, err)
	}

	if err := os.Setenv(RootEnv, abs); err != nil {
		return "", fmt.Errorf("failed to export %s: %w", RootEnv, err)
	}
	if err := os.Chdir(abs); err != nil {
		return "", fmt.Errorf("cannot chdir to %s: %w", abs, err)
	}
	return abs, nil
}
