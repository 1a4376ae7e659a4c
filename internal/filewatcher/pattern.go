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

package filewatcher

import (
	"fmt"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// Patterns decides which changed paths count as a reason to restart.
// Globs use doublestar syntax, so ** crosses path separators. A path
// counts when it matches at least one include (no includes = everything
// included) and no exclude; each pattern is tried against the full path
// and against the bare filename.
type Patterns struct {
	include []string
	exclude []string
}

// NewPatterns validates the globs and returns a matcher.
func NewPatterns(include, exclude []string) (*Patterns, error) {
	for _, pattern := range include {
		if _, err := doublestar.Match(pattern, "probe"); err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", pattern, err)
		}
	}
	for _, pattern := range exclude {
		if _, err := doublestar.Match(pattern, "probe"); err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
	}
	return &Patterns{include: include, exclude: exclude}, nil
}

// Match reports whether a change to path should trigger a restart.
func (p *Patterns) Match(path string) bool {
	included := len(p.include) == 0
	for _, pattern := range p.include {
		if included {
			break
		}
		included = matchOne(pattern, path)
	}
	if !included {
		return false
	}

	for _, pattern := range p.exclude {
		if matchOne(pattern, path) {
			return false
		}
	}
	return true
}

func matchOne(pattern, path string) bool {
	if ok, _ := doublestar.PathMatch(pattern, path); ok {
		return true
	}
	ok, _ := doublestar.Match(pattern, filepath.Base(path))
	return ok
}

// DefaultExcludes covers editor temp files and similar churn that
// should never bounce a service.
func DefaultExcludes() []string {
	return []string{
		"*.swp",
		"*.swo",
		".*.sw?",
		"*~",
		"#*#",
		".#*",
		".DS_Store",
		"*.tmp",
		"*.temp",
	}
}
