package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treefix50/nowplaying/internal/broker"
	"github.com/treefix50/nowplaying/internal/control"
	"github.com/treefix50/nowplaying/internal/metrics"
	"github.com/treefix50/nowplaying/internal/notify"
	"github.com/treefix50/nowplaying/internal/playback"
)

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	err       error
	payloads  []string
}

func (f *fakePublisher) Connected() bool { return f.connected }

func (f *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, topic+"="+string(payload))
	return nil
}

type fixture struct {
	srv   *Server
	store *playback.Store
	hub   *notify.Hub
	pub   *fakePublisher
}

func newFixture(t *testing.T, tweak func(*Options)) *fixture {
	t.Helper()
	store := playback.NewStore()
	m := metrics.New()
	hub := notify.NewHub(store, 4, m)
	pub := &fakePublisher{connected: true}

	opts := Options{
		Addr:      "127.0.0.1:0",
		KeepAlive: time.Minute,
		State:     store,
		Hub:       hub,
		Control:   control.New("shairport-sync", pub, m, zerolog.Nop()),
		Metrics:   m,
		Logger:    zerolog.Nop(),
	}
	if tweak != nil {
		tweak(&opts)
	}
	return &fixture{srv: New(opts), store: store, hub: hub, pub: pub}
}

func (f *fixture) do(method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) set(field, text string) {
	if f.store.Apply(playback.Event{Kind: playback.MetadataField, Field: field, Text: text}) {
		f.hub.Publish(f.store.Snapshot())
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestState(t *testing.T) {
	f := newFixture(t, nil)
	f.set(playback.FieldArtist, "Nina Simone")
	f.store.Apply(playback.Event{Kind: playback.ProgressUpdate, Progress: playback.Progress{Start: 0, Current: 44100, End: 441000}})

	rec := f.do(http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, jsonContentType, rec.Header().Get("Content-Type"))

	var got playback.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, f.store.Snapshot(), got)
	assert.Equal(t, "Nina Simone", got.Artist)
	assert.Equal(t, 10.0, got.Duration)
	assert.Equal(t, 1.0, got.Elapsed)
}

func TestStateMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodPost, "/api/state", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCoverRedirectsToPlaceholder(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/api/cover", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, placeholderPath, rec.Header().Get("Location"))

	rec = f.do(http.MethodGet, placeholderPath, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "image/svg+xml")
}

func TestCoverServesBlobWithETag(t *testing.T) {
	f := newFixture(t, nil)
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 1, 2, 3}
	require.True(t, f.store.Apply(playback.Event{Kind: playback.CoverUpdate, Cover: png}))
	cover, ok := f.store.Cover()
	require.True(t, ok)
	etag := coverETag(cover.Version)

	rec := f.do(http.MethodGet, "/api/cover", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, playback.MimePNG, rec.Header().Get("Content-Type"))
	assert.Equal(t, etag, rec.Header().Get("ETag"))
	assert.Equal(t, png, rec.Body.Bytes())

	rec = f.do(http.MethodGet, "/api/cover", http.Header{"If-None-Match": {etag}})
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	// a new cover invalidates the old tag
	require.True(t, f.store.Apply(playback.Event{Kind: playback.CoverUpdate, Cover: []byte{0xFF, 0xD8, 0xFF, 0xE0}}))
	rec = f.do(http.MethodGet, "/api/cover", http.Header{"If-None-Match": {etag}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, playback.MimeJPEG, rec.Header().Get("Content-Type"))
	assert.NotEqual(t, etag, rec.Header().Get("ETag"))
}

func TestControl(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/control/Next", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"command":"nextitem"}`, rec.Body.String())
	assert.Equal(t, []string{"shairport-sync/remote=nextitem"}, f.pub.payloads)

	rec = f.do(http.MethodPost, "/api/control/LEVITATE", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Unknown command: LEVITATE"}`, rec.Body.String())
	assert.Len(t, f.pub.payloads, 1)

	rec = f.do(http.MethodGet, "/api/control/next", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestControlBrokerUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.pub.connected = false

	rec := f.do(http.MethodPost, "/api/control/play", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"MQTT not connected"}`, rec.Body.String())

	f.pub.connected = true
	f.pub.err = broker.ErrNotConnected
	rec = f.do(http.MethodPost, "/api/control/play", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f.pub.err = errors.New("write: broken pipe")
	rec = f.do(http.MethodPost, "/api/control/play", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestControlRateLimited(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ControlMinInterval = time.Hour })

	rec := f.do(http.MethodPost, "/api/control/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/control/pause", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Len(t, f.pub.payloads, 1)
}

func TestListCommands(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/api/control", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Commands []string `json:"commands"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, control.Commands(), body.Commands)
}

func TestIndexAndMetrics(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/events")

	rec = f.do(http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.do(http.MethodPost, "/api/control/stop", nil)
	rec = f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `nowplaying_control_commands_total{result="ok"} 1`)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.CORS = true })

	rec := f.do(http.MethodGet, "/api/state", nil)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(http.MethodOptions, "/api/control/play", http.Header{
		"Origin":                        {"http://example.com"},
		"Access-Control-Request-Method": {"POST"},
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Empty(t, f.pub.payloads)

	f = newFixture(t, nil)
	rec = f.do(http.MethodGet, "/api/state", nil)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func startHTTP(t *testing.T, f *fixture) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(f.srv.Handler())
	t.Cleanup(ts.Close)
	// runs before ts.Close so no stream keeps the server busy
	t.Cleanup(f.hub.Close)
	return ts
}

func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			continue
		}
		return line
	}
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t, nil)
	f.set(playback.FieldTitle, "First")
	ts := startHTTP(t, f)

	resp, err := http.Get(ts.URL + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sseContentType, resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	r := bufio.NewReader(resp.Body)
	var snap playback.Snapshot
	line := readEvent(t, r)
	require.True(t, strings.HasPrefix(line, "data: "), line)
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap))
	assert.Equal(t, "First", snap.Title)

	require.Eventually(t, func() bool { return f.hub.Len() == 1 }, time.Second, 5*time.Millisecond)
	f.set(playback.FieldTitle, "Second")

	line = readEvent(t, r)
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap))
	assert.Equal(t, "Second", snap.Title)

	resp.Body.Close()
	assert.Eventually(t, func() bool { return f.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventsKeepAlive(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.KeepAlive = 20 * time.Millisecond })
	ts := startHTTP(t, f)

	resp, err := http.Get(ts.URL + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	assert.True(t, strings.HasPrefix(readEvent(t, r), "data: "))
	assert.Equal(t, ": keepalive", readEvent(t, r))
}

func TestEventsEndWhenHubCloses(t *testing.T) {
	f := newFixture(t, nil)
	ts := startHTTP(t, f)

	resp, err := http.Get(ts.URL + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	readEvent(t, r)
	f.hub.Close()

	_, err = io.ReadAll(r)
	assert.NoError(t, err)
}

func TestWebSocketStream(t *testing.T) {
	f := newFixture(t, nil)
	f.set(playback.FieldArtist, "Artist")
	ts := startHTTP(t, f)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	var snap playback.Snapshot
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, "Artist", snap.Artist)

	require.Eventually(t, func() bool { return f.hub.Len() == 1 }, time.Second, 5*time.Millisecond)
	f.set(playback.FieldAlbum, "Album")
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, "Album", snap.Album)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return f.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketPing(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.KeepAlive = 20 * time.Millisecond })
	ts := startHTTP(t, f)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	// control frames are only dispatched while reading
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}
