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

package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSuperviseChildFlags(t *testing.T) {
	t.Run("full handoff", func(t *testing.T) {
		flags, err := parseSuperviseChildFlags([]string{
			"--lock-inherited",
			"--service", "webapp",
			"--pidfile", "run/webapp.pid",
			"--restart", "30s",
			"--config", "conf/webapp.yaml",
			"--",
			"/usr/bin/webapp", "-v", "--service", "decoy",
		})
		require.NoError(t, err)

		assert.True(t, flags.lockInherited)
		assert.Equal(t, "webapp", flags.service)
		assert.Equal(t, "run/webapp.pid", flags.pidFile)
		assert.Equal(t, 30*time.Second, flags.restart)
		assert.Equal(t, "conf/webapp.yaml", flags.config)
		assert.Equal(t, []string{"/usr/bin/webapp", "-v", "--service", "decoy"}, flags.command)
	})

	t.Run("bare command", func(t *testing.T) {
		flags, err := parseSuperviseChildFlags([]string{"--", "sleep", "30"})
		require.NoError(t, err)

		assert.False(t, flags.lockInherited)
		assert.Empty(t, flags.service)
		assert.Less(t, flags.restart, time.Duration(0), "unset restart must stay negative")
		assert.Equal(t, []string{"sleep", "30"}, flags.command)
	})

	t.Run("flags after the terminator are argv", func(t *testing.T) {
		flags, err := parseSuperviseChildFlags([]string{"--", "prog", "--service", "x"})
		require.NoError(t, err)
		assert.Empty(t, flags.service)
		assert.Equal(t, []string{"prog", "--service", "x"}, flags.command)
	})

	t.Run("malformed duration", func(t *testing.T) {
		_, err := parseSuperviseChildFlags([]string{"--restart", "banana", "--", "prog"})
		require.Error(t, err)
	})
}
