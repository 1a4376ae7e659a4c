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

package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/steward/internal/supervisor"
)

var _ supervisor.Recorder = (*Recorder)(nil)

func TestRecorder_ChildLifecycle(t *testing.T) {
	r := NewRecorder("svc")

	r.ChildStarted(100)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.childUp))

	r.ChildExited(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.childUp))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.crashes))

	r.ChildStarted(101)
	r.ChildExited(1)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.crashes))

	r.ChildStarted(102)
	r.ChildSignaled(9, true)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.signals))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.childUp))

	r.ChildRestarted()
	r.ChildRestarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(r.restarts))
}

func TestRecorder_LinesPerStream(t *testing.T) {
	r := NewRecorder("svc")

	r.LineForwarded("stdout")
	r.LineForwarded("stdout")
	r.LineForwarded("stderr")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.lines.WithLabelValues("stdout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.lines.WithLabelValues("stderr")))
}

func TestRecorder_IndependentRegistries(t *testing.T) {
	a := NewRecorder("a")
	b := NewRecorder("b")

	a.ChildRestarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.restarts))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.restarts))
}

func TestServer_ServesMetricsAndHealth(t *testing.T) {
	rec := NewRecorder("svc")
	rec.ChildStarted(1)
	rec.ChildRestarted()

	srv := NewServer("127.0.0.1:0", rec, nil)
	require.NoError(t, srv.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", srv.Addr()))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(fmt.Sprintf("http://%s/metrics", srv.Addr()))
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "steward_child_restarts_total"),
		"metrics output missing the restart counter")
	assert.True(t, strings.Contains(string(body), `service="svc"`),
		"metrics output missing the service label")
}

func TestServer_BindFailure(t *testing.T) {
	rec := NewRecorder("svc")

	first := NewServer("127.0.0.1:0", rec, nil)
	require.NoError(t, first.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		first.Shutdown(ctx)
	}()

	second := NewServer(first.Addr(), NewRecorder("other"), nil)
	assert.Error(t, second.Start())
}
