package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/coder/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/stagehand/internal/build"
	"github.com/conneroisu/stagehand/internal/errors"
	"github.com/conneroisu/stagehand/internal/logging"
	"github.com/conneroisu/stagehand/internal/task"
	ws "github.com/conneroisu/stagehand/internal/websocket"
)

type fakeStatus struct {
	results   []task.Result
	metrics   *build.Metrics
	collector *errors.Collector
}

func (f *fakeStatus) Latest() []task.Result { return f.results }

func (f *fakeStatus) Metrics() *build.Metrics { return f.metrics }

func (f *fakeStatus) Collector() *errors.Collector { return f.collector }

func newFakeStatus() *fakeStatus {
	return &fakeStatus{metrics: build.NewMetrics(), collector: errors.NewCollector()}
}

func newTestServer(t *testing.T, status StatusSource, compress bool) (*Server, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	files := map[string]string{
		"dist/index.html":                 "<html><head></head><body><h1>Home</h1></body></html>",
		"dist/about.html":                 "<html><body>About</body></html>",
		"dist/static/css/styles.css":      "body{color:red}" + strings.Repeat(" ", 512),
		"dist/static/js/main.js":          "console.log(1)",
		"dist/static/img/pixel.png":       "\x89PNG\r\n\x1a\n",
		"dist/static/img/sprite/icon.svg": "<svg></svg>",
	}
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fsys, name, []byte(content), 0o644))
	}

	srv := New(fsys, status, Options{Addr: "localhost:3000", Output: "dist", Compress: compress}, logging.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Hub().Shutdown(ctx)
	})
	return srv, fsys
}

func get(t *testing.T, h http.Handler, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServesPagesWithReloadScript(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)
	h := srv.Handler()

	for _, target := range []string{"/", "/index.html", "/about.html"} {
		t.Run(target, func(t *testing.T) {
			rec := get(t, h, target, nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), reloadTag+"</body>")
			assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		})
	}
}

func TestServesAssetsUnchanged(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)
	h := srv.Handler()

	rec := get(t, h, "/static/js/main.js", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())

	rec = get(t, h, "/static/img/sprite/icon.svg", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<svg></svg>", rec.Body.String())
}

func TestMissingFiles(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)
	h := srv.Handler()

	assert.Equal(t, http.StatusNotFound, get(t, h, "/missing.html", nil).Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/static/css/missing.css", nil).Code)
}

func TestPageEditsAreServedFresh(t *testing.T) {
	srv, fsys := newTestServer(t, nil, false)
	h := srv.Handler()

	require.NoError(t, afero.WriteFile(fsys, "dist/index.html", []byte("<body>v2</body>"), 0o644))
	assert.Contains(t, get(t, h, "/", nil).Body.String(), "v2")
}

func TestInjectReloadScript(t *testing.T) {
	tests := []struct {
		name     string
		page     string
		expected string
	}{
		{
			name:     "before body end tag",
			page:     "<html><body><p>hi</p></body></html>",
			expected: "<html><body><p>hi</p>" + reloadTag + "</body></html>",
		},
		{
			name:     "upper case end tag",
			page:     "<HTML><BODY>hi</BODY></HTML>",
			expected: "<HTML><BODY>hi" + reloadTag + "</BODY></HTML>",
		},
		{
			name:     "no body end tag",
			page:     "<p>fragment</p>",
			expected: "<p>fragment</p>" + reloadTag,
		},
		{
			name:     "end tag inside comment and script",
			page:     "<body><!-- </body> --><script>var s = \"</body>\";</script></body>",
			expected: "<body><!-- </body> --><script>var s = \"</body>\";</script>" + reloadTag + "</body>",
		},
		{
			name:     "already injected",
			page:     "<body>" + reloadTag + "</body>",
			expected: "<body>" + reloadTag + "</body>",
		},
		{
			name:     "pretty printed whitespace kept",
			page:     "<body>\n  <p>\n    hi\n  </p>\n</body>\n",
			expected: "<body>\n  <p>\n    hi\n  </p>\n" + reloadTag + "</body>\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(injectReloadScript([]byte(tt.page))))
		})
	}
}

func TestReloadScriptRoute(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)

	rec := get(t, srv.Handler(), ReloadScriptURL, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")
	assert.Contains(t, rec.Body.String(), WebSocketURL)
}

func TestBrotliCompression(t *testing.T) {
	srv, _ := newTestServer(t, nil, true)
	h := srv.Handler()
	header := http.Header{"Accept-Encoding": []string{"gzip, deflate, br"}}

	rec := get(t, h, "/static/css/styles.css", header)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "br", rec.Header().Get("Content-Encoding"))
	assert.Empty(t, rec.Header().Get("Content-Length"))

	decoded, err := io.ReadAll(brotli.NewReader(bytes.NewReader(rec.Body.Bytes())))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(decoded), "body{color:red}"))

	rec = get(t, h, "/", header)
	require.Equal(t, "br", rec.Header().Get("Content-Encoding"))
	decoded, err = io.ReadAll(brotli.NewReader(bytes.NewReader(rec.Body.Bytes())))
	require.NoError(t, err)
	assert.Contains(t, string(decoded), reloadTag)

	rec = get(t, h, "/static/img/pixel.png", header)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))

	rec = get(t, h, "/static/css/styles.css", nil)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
}

func TestCompressionDisabled(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)

	rec := get(t, srv.Handler(), "/static/css/styles.css", http.Header{"Accept-Encoding": []string{"br"}})
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
}

func TestAcceptsBrotli(t *testing.T) {
	tests := []struct {
		header   string
		expected bool
	}{
		{"", false},
		{"gzip", false},
		{"br", true},
		{"gzip, br", true},
		{"BR;q=0.8", true},
		{"br;q=0", false},
		{"brotli", false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.expected, acceptsBrotli(tt.header))
		})
	}
}

func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy(Options{
		Addr:           "localhost:3000",
		AllowedOrigins: []string{"https://preview.example.com"},
	})

	tests := []struct {
		origin   string
		expected bool
	}{
		{"http://localhost:3000", true},
		{"http://127.0.0.1:3000", true},
		{"https://localhost:3000", true},
		{"https://preview.example.com", true},
		{"http://localhost:8080", false},
		{"http://evil.com", false},
		{"javascript://localhost:3000", false},
		{"not-a-url", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.expected, policy.IsAllowedOrigin(tt.origin))
		})
	}
}

func TestMessagesFor(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)

	msgs := srv.messagesFor(task.Result{
		Task:    task.Styles,
		Outputs: []string{"dist/static/css/styles.css"},
	})
	require.Len(t, msgs, 1)
	assert.Equal(t, ws.MessageCSS, msgs[0].Type)
	assert.Equal(t, "/static/css/styles.css", msgs[0].Target)

	msgs = srv.messagesFor(task.Result{Task: task.Pages, Outputs: []string{"dist/index.html"}})
	require.Len(t, msgs, 1)
	assert.Equal(t, ws.MessageReload, msgs[0].Type)
	assert.Equal(t, task.Pages, msgs[0].Task)

	msgs = srv.messagesFor(task.Result{Task: task.Styles})
	require.Len(t, msgs, 1)
	assert.Equal(t, ws.MessageReload, msgs[0].Type)
}

func TestTaskSucceededReachesBrowser(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)
	httpServer := httptest.NewServer(srv.Handler())
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + WebSocketURL
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return srv.Hub().ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	srv.TaskSucceeded(task.Result{Task: task.Styles, Outputs: []string{"dist/static/css/styles.css"}})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg ws.UpdateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, ws.MessageCSS, msg.Type)
	assert.Equal(t, "/static/css/styles.css", msg.Target)
}

func TestStatusEndpoints(t *testing.T) {
	status := newFakeStatus()
	fault := errors.NewSyntaxError(errors.ErrCodeTemplateSyntax, "unexpected <end>", nil).
		WithLocation("dev/templates/pages/index.html", 3, 7).
		WithTask(task.Pages)
	status.results = []task.Result{
		{Task: task.Pages, Faults: []*errors.AssetError{fault}, Duration: 12 * time.Millisecond},
		{Task: task.Styles, Outputs: []string{"dist/static/css/styles.css"}, Duration: 30 * time.Millisecond},
	}
	status.collector.Replace(task.Pages, []*errors.AssetError{fault})
	for _, r := range status.results {
		status.metrics.RecordRun(r)
	}

	srv, _ := newTestServer(t, status, false)
	h := srv.Handler()

	rec := get(t, h, StatusJSONURL, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Tasks, 2)
	assert.Equal(t, task.Pages, got.Tasks[0].Name)
	assert.True(t, got.Tasks[0].Failed)
	assert.False(t, got.Tasks[1].Failed)
	assert.Equal(t, []string{"dist/static/css/styles.css"}, got.Tasks[1].Outputs)
	require.Len(t, got.Faults, 1)
	assert.Equal(t, 3, got.Faults[0].Line)
	assert.Equal(t, "error", got.Faults[0].Severity)
	assert.EqualValues(t, 2, got.Metrics.TotalRuns)
	assert.EqualValues(t, 1, got.Metrics.FailedRuns)

	rec = get(t, h, StatusURL, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, `<td class="failed">failed</td>`)
	assert.Contains(t, body, "dev/templates/pages/index.html:3:7")
	assert.Contains(t, body, "unexpected &lt;end&gt;")
	assert.NotContains(t, body, "unexpected <end>")
}

func TestStatusWithoutSource(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)

	rec := get(t, srv.Handler(), StatusJSONURL, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tasks":[]`)
}

func TestServeStopsOnCancel(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + ReloadScriptURL)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
