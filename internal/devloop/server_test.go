package devloop

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetstage/internal/config"
	"github.com/conneroisu/assetstage/internal/fsutil"
	"github.com/conneroisu/assetstage/internal/logging"
)

func newPreview(t *testing.T, liveReload bool, metrics http.Handler) (*config.Config, *Hub, *httptest.Server) {
	t.Helper()
	cfg := testConfig(t.TempDir())
	cfg.Development.LiveReload = liveReload
	files := map[string]string{
		"index.html":      "<!doctype html><html><body><main>hi</main></BODY></html>",
		"demo.css":        "a{color:red}",
		"docs/index.html": "<p>docs</p>",
		config.MarkerFile: "stamp",
	}
	for rel, content := range files {
		require.NoError(t, fsutil.WriteFile(filepath.Join(cfg.StagingDir(), filepath.FromSlash(rel)), []byte(content)))
	}

	hub := NewHub(nil)
	srv := httptest.NewServer(NewServer(cfg, hub, metrics, logging.NewDiscard()).Handler())
	t.Cleanup(srv.Close)
	return cfg, hub, srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestInjectReload(t *testing.T) {
	script := ReloadScript(ReloadPath)
	ctx := context.Background()

	out, err := InjectReload(ctx, []byte("<html><body><p>x</p></body></html>"), script)
	require.NoError(t, err)
	page := string(out)
	assert.True(t, strings.HasSuffix(page, "</script>\n</body></html>"))
	assert.Contains(t, page, `var path = "/__reload"`)
	assert.Equal(t, 1, strings.Count(page, "data-assetstage-reload"))

	out, err = InjectReload(ctx, []byte("<p>fragment</p>"), script)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "<p>fragment</p><script"))
}

func TestServerInjectsReloadIntoHTML(t *testing.T) {
	_, _, srv := newPreview(t, true, nil)

	resp, body := get(t, srv.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, "<main>hi</main><script data-assetstage-reload>")
	assert.NotEmpty(t, resp.Header.Get("Cache-Control"))

	resp, body = get(t, srv.URL+"/demo.css")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a{color:red}", body)
}

func TestServerWithoutLiveReload(t *testing.T) {
	_, _, srv := newPreview(t, false, nil)

	_, body := get(t, srv.URL+"/index.html")
	assert.NotContains(t, body, "data-assetstage-reload")

	resp, _ := get(t, srv.URL+ReloadPath)
	assert.NotEqual(t, http.StatusSwitchingProtocols, resp.StatusCode)
}

func TestServerRoutes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("assetstage_reload_subscribers 0\n"))
	})
	_, _, srv := newPreview(t, true, metrics)

	tests := []struct {
		name   string
		path   string
		status int
		body   string
	}{
		{"marker hidden", "/" + config.MarkerFile, http.StatusNotFound, ""},
		{"missing", "/nope.js", http.StatusNotFound, ""},
		{"directory redirect", "/docs", http.StatusMovedPermanently, ""},
		{"directory index", "/docs/", http.StatusOK, "<p>docs</p>"},
		{"metrics", "/metrics", http.StatusOK, "assetstage_reload_subscribers"},
		{"health", "/health", http.StatusOK, `"status":"ok"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := get(t, srv.URL+tt.path)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.body != "" {
				assert.Contains(t, body, tt.body)
			}
		})
	}
}

func TestReloadWebSocketReceivesBroadcast(t *testing.T) {
	_, hub, srv := newPreview(t, true, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + ReloadPath
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Broadcast(Message{Type: MessageReload, Paths: []string{"demo.css"}})

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)

	var msg Message
	require.NoError(t, json.NewDecoder(bytes.NewReader(data)).Decode(&msg))
	assert.Equal(t, MessageReload, msg.Type)
	assert.Equal(t, []string{"demo.css"}, msg.Paths)

	conn.Close(websocket.StatusNormalClosure, "")
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
