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

package logfwd

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/steward/internal/supervisor"
)

var _ supervisor.LineForwarder = (*Forwarder)(nil)

func decodeRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		records = append(records, rec)
	}
	return records
}

func TestForwarder_LevelsByStream(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	fwd := New(logger, "myservice")

	fwd.ForwardLine(42, supervisor.Line{Stream: supervisor.StreamStdout, Text: "all good"})
	fwd.ForwardLine(42, supervisor.Line{Stream: supervisor.StreamStderr, Text: "something broke"})

	records := decodeRecords(t, &buf)
	require.Len(t, records, 2)

	assert.Equal(t, "INFO", records[0]["level"])
	assert.Equal(t, "all good", records[0]["msg"])
	assert.Equal(t, "stdout", records[0]["stream"])
	assert.Equal(t, "myservice", records[0]["service"])
	assert.Equal(t, float64(42), records[0]["pid"])

	assert.Equal(t, "WARN", records[1]["level"])
	assert.Equal(t, "something broke", records[1]["msg"])
	assert.Equal(t, "stderr", records[1]["stream"])
}

func TestForwarder_MessageIsRawLine(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	fwd := New(logger, "svc")

	raw := `level=error msg="already structured" weird="  spacing  "`
	fwd.ForwardLine(1, supervisor.Line{Stream: supervisor.StreamStdout, Text: raw})

	records := decodeRecords(t, &buf)
	require.Len(t, records, 1)
	assert.Equal(t, raw, records[0]["msg"])
}

func TestForwarder_NilLoggerDefaults(t *testing.T) {
	fwd := New(nil, "svc")
	assert.NotPanics(t, func() {
		fwd.ForwardLine(1, supervisor.Line{Stream: supervisor.StreamStdout, Text: "ok"})
	})
}
