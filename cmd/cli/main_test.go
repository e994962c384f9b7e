// Copyright 2026 fanjia1024
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
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeGateway(t *testing.T, clears *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"ok"}`)
	})
	mux.HandleFunc("GET /api/apps", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"apps":["registration","faq"]}`)
	})
	mux.HandleFunc("POST /api/chat/send", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tester", r.Header.Get("X-Client-ID"))
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "boom") {
			io.WriteString(w, `{"type":"text-start","id":"t1"}`+"\n")
			io.WriteString(w, `{"type":"error","id":"t1","error":"The response was interrupted. Please try again."}`+"\n")
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, `{"type":"text-start","id":"t1"}`+"\n")
		io.WriteString(w, `{"type":"text-delta","id":"t1","delta":"Hi "}`+"\n")
		io.WriteString(w, `{"type":"text-delta","id":"t1","delta":"there"}`+"\n")
		io.WriteString(w, `{"type":"text-end","id":"t1"}`+"\n")
		io.WriteString(w, `{"type":"finish","id":"t1","finishReason":"stop"}`+"\n")
	})
	mux.HandleFunc("DELETE /api/chat/session", func(w http.ResponseWriter, r *http.Request) {
		clears.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, in string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(in))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGatewayBackend_HealthAndApps(t *testing.T) {
	var clears atomic.Int32
	srv := fakeGateway(t, &clears)

	out, err := execute(t, "", "--gateway", srv.URL, "--client-id", "tester", "health")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)

	out, err = execute(t, "", "--gateway", srv.URL, "--client-id", "tester", "apps")
	require.NoError(t, err)
	assert.Equal(t, "registration\nfaq\n", out)
}

func TestGatewayBackend_Chat(t *testing.T) {
	var clears atomic.Int32
	srv := fakeGateway(t, &clears)

	out, err := execute(t, "hello\n/clear\nboom\nexit\n", "--gateway", srv.URL, "--client-id", "tester", "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "Hi there\n")
	assert.Contains(t, out, "(会话已重置)")
	assert.Contains(t, out, "[错误] The response was interrupted")
	assert.Equal(t, int32(1), clears.Load())
}

func TestGatewayBackend_SessionClear(t *testing.T) {
	var clears atomic.Int32
	srv := fakeGateway(t, &clears)

	out, err := execute(t, "", "--gateway", srv.URL, "--client-id", "tester", "session", "clear")
	require.NoError(t, err)
	assert.Equal(t, "session cleared\n", out)
	assert.Equal(t, int32(1), clears.Load())
}

func TestGatewayBackend_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"error":"上一条回复尚未结束"}`)
	}))
	defer srv.Close()

	g := newGatewayBackend(srv.URL, "tester")
	err := g.Send(context.Background(), "hi", func(string) {})
	assert.EqualError(t, err, "上一条回复尚未结束")
	assert.EqualError(t, g.HealthCheck(context.Background()), "上一条回复尚未结束")
}

type fakeBackend struct {
	sent   []string
	clears int
	err    error
}

func (f *fakeBackend) HealthCheck(ctx context.Context) error          { return f.err }
func (f *fakeBackend) ListApps(ctx context.Context) ([]string, error) { return nil, f.err }
func (f *fakeBackend) ClearSession(ctx context.Context) error         { f.clears++; return nil }
func (f *fakeBackend) Close() error                                   { return nil }

func (f *fakeBackend) Send(ctx context.Context, text string, onDelta func(string)) error {
	f.sent = append(f.sent, text)
	onDelta("echo: ")
	onDelta(text)
	return f.err
}

func TestRunChat(t *testing.T) {
	b := &fakeBackend{}
	var out bytes.Buffer
	// 最后一行没有换行符也要发送
	require.NoError(t, runChat(context.Background(), b, strings.NewReader("first\n\n  second  \n/clear\nlast"), &out))
	assert.Equal(t, []string{"first", "second", "last"}, b.sent)
	assert.Equal(t, 1, b.clears)
	assert.Contains(t, out.String(), "echo: second\n")

	b = &fakeBackend{err: errors.New("runtime down")}
	out.Reset()
	require.NoError(t, runChat(context.Background(), b, strings.NewReader("hi\nquit\nignored\n"), &out))
	assert.Equal(t, []string{"hi"}, b.sent)
	assert.Contains(t, out.String(), "[错误] runtime down")
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
runtime:
  base_url: http://runtime.local:8000
  app_name: registration
  timeout: 10s
session:
  store:
    type: memory
`), 0o644))

	out, err := execute(t, "", "--config", path, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "runtime.base_url=http://runtime.local:8000\n")
	assert.Contains(t, out, "runtime.app_name=registration\n")
	assert.Contains(t, out, "runtime.timeout=10s\n")
	assert.Contains(t, out, "session.ttl=24h\n")
}

func TestLocalBackend_RuntimeDown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
runtime:
  base_url: http://127.0.0.1:1
  app_name: registration
  retry_count: 0
log:
  level: error
`), 0o644))

	_, err := execute(t, "", "--config", path, "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unable to reach the assistant service")
}
