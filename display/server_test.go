package display

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/stereo-depth-service/logger"
	"github.com/Tutortoise/stereo-depth-service/models"
)

type fakeSession struct {
	state string
	err   error
	calls int
}

func (f *fakeSession) Toggle(context.Context) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.state == "open" {
		f.state = "closed"
	} else {
		f.state = "open"
	}
	return nil
}

func (f *fakeSession) Status() string { return f.state }

func newTestServer(t *testing.T, sess SessionControl) (*Server, *httptest.Server) {
	t.Helper()
	s := &Server{
		Latest:  NewLatestSink(),
		Session: sess,
		Metrics: func() map[string]any { return map[string]any{"pipeline": "ok"} },
		Log:     logger.Discard(),
	}
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, ts
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestServer_Frame(t *testing.T) {
	s, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/frame")
	require.NoError(t, err)
	var errResp ErrorResponse
	decodeJSON(t, resp, &errResp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "no_frame", errResp.Code)

	frame := models.NewImageBuffer(8, 4, 0)
	frame.Fill(models.BGRA{G: 200, A: 255})
	s.Latest.Publish(frame)

	resp, err = http.Get(ts.URL + "/frame?format=jpeg")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	img, err := jpeg.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())

	resp, err = http.Get(ts.URL + "/frame?format=gif")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_SessionToggle(t *testing.T) {
	sess := &fakeSession{state: "closed"}
	_, ts := newTestServer(t, sess)

	resp, err := http.Get(ts.URL + "/session")
	require.NoError(t, err)
	var got SessionResponse
	decodeJSON(t, resp, &got)
	assert.Equal(t, "closed", got.State)

	resp, err = http.Post(ts.URL+"/session/toggle", "application/json", nil)
	require.NoError(t, err)
	decodeJSON(t, resp, &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "open", got.State)

	sess.err = errors.New("session is changing state")
	resp, err = http.Post(ts.URL+"/session/toggle", "application/json", nil)
	require.NoError(t, err)
	var errResp ErrorResponse
	decodeJSON(t, resp, &errResp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "session_busy", errResp.Code)

	resp, err = http.Get(ts.URL + "/session/toggle")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_NoSessionConfigured(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/session")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_MetricsAndHealth(t *testing.T) {
	s, ts := newTestServer(t, nil)
	s.Latest.Publish(models.NewImageBuffer(2, 2, 0))

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	var metrics map[string]any
	decodeJSON(t, resp, &metrics)
	assert.Equal(t, "ok", metrics["pipeline"])
	assert.Equal(t, float64(1), metrics["frames_published"])

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	var health map[string]string
	decodeJSON(t, resp, &health)
	assert.Equal(t, "ok", health["status"])
}

func TestHub_StreamsPreviews(t *testing.T) {
	hub := NewHub(16, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	s := &Server{Latest: NewLatestSink(), Hub: hub, Log: logger.Discard()}
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	frame := models.NewImageBuffer(64, 32, 0)
	frame.Fill(models.BGRA{R: 255, A: 255})
	hub.Publish(frame)
	assert.Eventually(t, func() bool { return frame.Refs() == 0 }, time.Second, 5*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)

	img, err := jpeg.Decode(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy())

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_PublishWithoutViewersReleases(t *testing.T) {
	hub := NewHub(0, logger.Discard())
	frame := models.NewImageBuffer(4, 4, 0)
	frame.Retain()
	hub.Publish(frame)
	assert.Equal(t, 1, frame.Refs())
}

func TestHub_PublishHandsOffWithoutEncoding(t *testing.T) {
	// no Run loop: nothing encodes, so Publish must only queue
	hub := NewHub(16, logger.Discard())
	hub.clients[&client{send: make(chan []byte, 1)}] = true

	first := models.NewImageBuffer(64, 32, 0)
	hub.Publish(first)
	assert.Equal(t, 1, first.Refs(), "queued for the encoder")

	second := models.NewImageBuffer(64, 32, 0)
	hub.Publish(second)
	assert.Equal(t, 0, first.Refs(), "superseded before encoding")
	assert.Equal(t, 1, second.Refs())
	assert.Empty(t, hub.broadcast)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.encodeLoop(ctx)
	assert.Equal(t, 0, second.Refs())
}
