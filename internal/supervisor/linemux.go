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

package supervisor

import (
	"bytes"
	"io"
	"sync"
)

// Stream names for tagged child output.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Line is one complete newline-terminated line of child output, tagged
// with the stream it arrived on. The terminator is stripped.
type Line struct {
	Stream string
	Text   string
}

// LineMux drains a child's stdout and stderr concurrently and merges
// complete lines onto one channel, so neither stream can starve the
// other and the consumer never blocks on a quiet pipe. The channel
// closes once both streams reach end-of-stream.
//
// Only newline-terminated lines are emitted: bytes that arrive without
// a terminator are held until the newline shows up, and dropped if the
// stream ends first. A child that dies mid-line does not produce a
// phantom final line.
type LineMux struct {
	lines chan Line
	wg    sync.WaitGroup
}

// NewLineMux starts draining both readers. It takes ownership: each
// reader is closed when its stream ends.
func NewLineMux(stdout, stderr io.ReadCloser) *LineMux {
	m := &LineMux{lines: make(chan Line, 64)}
	m.wg.Add(2)
	go m.drain(StreamStdout, stdout)
	go m.drain(StreamStderr, stderr)
	go func() {
		m.wg.Wait()
		close(m.lines)
	}()
	return m
}

// Lines returns the merged line channel. It closes when both streams
// are fully drained.
func (m *LineMux) Lines() <-chan Line {
	return m.lines
}

func (m *LineMux) drain(stream string, r io.ReadCloser) {
	defer m.wg.Done()
	defer r.Close()

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				i := bytes.IndexByte(buf, '\n')
				if i < 0 {
					break
				}
				m.lines <- Line{Stream: stream, Text: string(buf[:i])}
				buf = buf[i+1:]
			}
		}
		if err != nil {
			// EOF or a broken pipe; any unterminated tail in buf is
			// discarded.
			return
		}
	}
}
