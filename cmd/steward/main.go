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
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tombee/steward/internal/bootstrap"
	"github.com/tombee/steward/internal/cli"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Check for the supervise-child marker before any cobra
	// processing. It means this process was re-exec'd by a foreground
	// start and must become the detached supervisor.
	for i, arg := range os.Args[1:] {
		if arg == bootstrap.ChildMarker {
			flags, err := parseSuperviseChildFlags(os.Args[i+2:])
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid %s invocation: %v\n", bootstrap.ChildMarker, err)
				os.Exit(cli.ExitUsage)
			}

			os.Exit(bootstrap.Run(bootstrap.RunOptions{
				Version:       version,
				Commit:        commit,
				BuildDate:     buildDate,
				ConfigPath:    flags.config,
				LockInherited: flags.lockInherited,
				Service:       flags.service,
				PIDFile:       flags.pidFile,
				Restart:       flags.restart,
				Command:       flags.command,
			}))
		}
	}

	// Normal CLI mode
	cli.SetVersion(version, commit, buildDate)

	rootCmd := cli.NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}

// superviseChildFlags holds the settings the foreground start resolved
// and handed to the detached supervisor.
type superviseChildFlags struct {
	service       string
	pidFile       string
	restart       time.Duration
	config        string
	lockInherited bool
	command       []string
}

// parseSuperviseChildFlags parses the flags following the marker with
// the standard flag package; everything after the -- terminator is the
// program argv to supervise.
func parseSuperviseChildFlags(args []string) (superviseChildFlags, error) {
	var flags superviseChildFlags

	fs := flag.NewFlagSet("supervise-child", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&flags.service, "service", "", "Service name")
	fs.StringVar(&flags.pidFile, "pidfile", "", "Pid file path")
	fs.DurationVar(&flags.restart, "restart", -1, "Restart interval")
	fs.StringVar(&flags.config, "config", "", "Config file path")
	fs.BoolVar(&flags.lockInherited, "lock-inherited", false, "Locked pid file inherited as fd 3")

	if err := fs.Parse(args); err != nil {
		return flags, err
	}
	flags.command = fs.Args()
	return flags, nil
}
