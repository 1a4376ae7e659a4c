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

package cli

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/steward/internal/config"
)

func executeCommand(t *testing.T, args ...string) error {
	t.Helper()
	cmd := NewRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestRootCommand_FlagValidation(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantMsg string
	}{
		{
			name:    "start requires a program",
			args:    []string{},
			wantMsg: "a program to supervise is required",
		},
		{
			name:    "stop takes no program",
			args:    []string{"-S", "sleep", "30"},
			wantMsg: "takes no program arguments",
		},
		{
			name:    "stop command is stop mode only",
			args:    []string{"-k", "kill-script", "sleep", "30"},
			wantMsg: "only applies to -S stop mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := executeCommand(t, tt.args...)
			require.Error(t, err)

			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, ExitUsage, exitErr.Code)
			assert.Contains(t, exitErr.Error(), tt.wantMsg)
		})
	}
}

func TestRootCommand_ProgramFlagsPassThrough(t *testing.T) {
	// Everything after the first positional belongs to the supervised
	// program, even when it looks like one of our flags.
	cmd := NewRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{"-s", "webapp", "/usr/bin/webapp", "-S", "--service", "x"}))

	stop, err := cmd.Flags().GetBool("stop")
	require.NoError(t, err)
	assert.False(t, stop, "-S after the program name leaked into our flags")

	service, err := cmd.Flags().GetString("service")
	require.NoError(t, err)
	assert.Equal(t, "webapp", service)

	assert.Equal(t, []string{"/usr/bin/webapp", "-S", "--service", "x"}, cmd.Flags().Args())
}

func TestApplyFlags(t *testing.T) {
	t.Run("zero options keep config values", func(t *testing.T) {
		cfg := config.Default()
		cfg.Service = "fromfile"
		cfg.RestartInterval = 45 * time.Second

		applyFlags(cfg, &rootOptions{restartSec: -1})

		assert.Equal(t, "fromfile", cfg.Service)
		assert.Equal(t, 45*time.Second, cfg.RestartInterval)
	})

	t.Run("flags win over config", func(t *testing.T) {
		cfg := config.Default()
		cfg.Service = "fromfile"
		cfg.StopCommand = "old-stop"

		applyFlags(cfg, &rootOptions{
			service:     "fromflag",
			restartSec:  30,
			pidFile:     "run/other.pid",
			stopCommand: "new-stop",
			logLevel:    "debug",
			logFormat:   "text",
		})

		assert.Equal(t, "fromflag", cfg.Service)
		assert.Equal(t, 30*time.Second, cfg.RestartInterval)
		assert.Equal(t, "run/other.pid", cfg.PIDFile)
		assert.Equal(t, "new-stop", cfg.StopCommand)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "text", cfg.Log.Format)
	})

	t.Run("restart zero disables restarts explicitly", func(t *testing.T) {
		cfg := config.Default()
		cfg.RestartInterval = 45 * time.Second

		applyFlags(cfg, &rootOptions{restartSec: 0})
		assert.Equal(t, time.Duration(0), cfg.RestartInterval)
	})
}

func TestRootCommand_Version(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2026-01-01")
	defer SetVersion("dev", "unknown", "unknown")

	cmd := NewRootCommand()
	assert.Contains(t, cmd.Version, "1.2.3")
	assert.Contains(t, cmd.Version, "abc123")
}
