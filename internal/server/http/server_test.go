package httpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/rookery/internal/broadcast"
	cfgpkg "github.com/rzbill/rookery/internal/config"
	"github.com/rzbill/rookery/internal/ingest"
	"github.com/rzbill/rookery/internal/measurement"
	"github.com/rzbill/rookery/internal/runtime"
	pebblestore "github.com/rzbill/rookery/internal/storage/pebble"
	logpkg "github.com/rzbill/rookery/pkg/log"
)

var testNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestServer(t *testing.T) (*runtime.Runtime, *Server) {
	t.Helper()
	logger, err := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})
	require.NoError(t, err)
	rt, err := runtime.Open(runtime.Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeAlways,
		Config:  cfgpkg.Default(),
		Logger:  logger,
		Clock:   func() time.Time { return testNow },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt, New(rt, logger)
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func ingestRequest(t *testing.T, metadata string, image []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if metadata != "" {
		require.NoError(t, mw.WriteField("metadata", metadata))
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "capture.jpg")
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/penguin", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func getJSON(t *testing.T, s *Server, path string, want int, v any) {
	t.Helper()
	w := do(s, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, want, w.Code, "GET %s: %s", path, w.Body.String())
	if v != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
	}
}

func waitSubscribers(t *testing.T, hub *broadcast.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for hub.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers: got %d want %d", hub.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func ingestWeight(t *testing.T, rt *runtime.Runtime, subject string, w float64) {
	t.Helper()
	_, err := rt.Ingest().Ingest(context.Background(), ingest.Request{
		Record: measurement.Record{SubjectID: subject, Weight: &w, Date: "2025-03-14", Time: "09:26:53"},
		Source: "test",
	})
	require.NoError(t, err)
}

func TestHealthHandler(t *testing.T) {
	_, s := newTestServer(t)
	var body map[string]string
	getJSON(t, s, "/v1/healthz", http.StatusOK, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestIngestAndQueries(t *testing.T) {
	_, s := newTestServer(t)

	w := do(s, ingestRequest(t, `{"weight":5.2,"date":"2025-03-14","time":"09:26:53"}`, []byte("jpeg-bytes")))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"message":"Data received","date":"2025-03-14","time":"09:26:53"}`, w.Body.String())

	w = do(s, ingestRequest(t, `{"subject_id":"PNG-002","weight":3.5,"date":"2025-03-13","time":"18:00:00"}`, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var recent []map[string]any
	getJSON(t, s, "/api/penguin/PNG-001/recent", http.StatusOK, &recent)
	require.Len(t, recent, 1)
	assert.Equal(t, 5.2, recent[0]["weight"])

	var global []map[string]any
	getJSON(t, s, "/api/latest-global-measurements", http.StatusOK, &global)
	require.Len(t, global, 2)
	assert.Equal(t, "PNG-001", global[0]["id"])

	var details struct {
		Metadata     []map[string]string `json:"metadata"`
		Measurements []map[string]any    `json:"measurements"`
	}
	getJSON(t, s, "/api/penguin/PNG-001/specific", http.StatusOK, &details)
	require.Len(t, details.Measurements, 1)
	imageURL := details.Measurements[0]["image_url"].(string)
	assert.Equal(t, "/uploads/PNG-001_20250314-092653.jpg", imageURL)
	assert.Empty(t, details.Metadata)

	img := do(s, httptest.NewRequest(http.MethodGet, imageURL, nil))
	require.Equal(t, http.StatusOK, img.Code)
	assert.Equal(t, "jpeg-bytes", img.Body.String())

	getJSON(t, s, "/api/penguin/PNG-002/specific", http.StatusOK, &details)
	assert.Equal(t, "/static/default_penguin.jpg", details.Measurements[0]["image_url"])

	var refs []map[string]string
	getJSON(t, s, "/api/penguin/search?q=png-00", http.StatusOK, &refs)
	assert.Equal(t, []map[string]string{{"id": "PNG-001"}, {"id": "PNG-002"}}, refs)
}

func TestIngestRejectsBadInput(t *testing.T) {
	rt, s := newTestServer(t)

	w := do(s, ingestRequest(t, "", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Metadata not received"}`, w.Body.String())

	w = do(s, ingestRequest(t, `{"weight":-1,"date":"2025-03-14","time":"09:26:53"}`, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "weight")

	w = do(s, ingestRequest(t, `{"weight":`, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/penguin", strings.NewReader(`{"weight":5}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, do(s, req).Code)

	assert.Equal(t, http.StatusMethodNotAllowed, do(s, httptest.NewRequest(http.MethodGet, "/penguin", nil)).Code)
	assert.Equal(t, uint64(0), rt.Hub().LastEventID())
	getJSON(t, s, "/api/penguin/PNG-001/recent", http.StatusNotFound, nil)
}

func TestUpdatePenguinID(t *testing.T) {
	_, s := newTestServer(t)

	w := do(s, httptest.NewRequest(http.MethodPost, "/update-penguin-id", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Missing 'id' in request"}`, w.Body.String())

	w = do(s, httptest.NewRequest(http.MethodPost, "/update-penguin-id", strings.NewReader(`{"id":"PNG-042"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Penguin ID updated to PNG-042"}`, w.Body.String())

	w = do(s, ingestRequest(t, `{"weight":4.4}`, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var recent []map[string]any
	getJSON(t, s, "/api/penguin/PNG-042/recent", http.StatusOK, &recent)
	assert.Len(t, recent, 1)
}

func TestNotFoundAndEmptyResults(t *testing.T) {
	_, s := newTestServer(t)

	w := do(s, httptest.NewRequest(http.MethodGet, "/api/penguin/nobody/recent", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Penguin not found"}`, w.Body.String())

	w = do(s, httptest.NewRequest(http.MethodGet, "/api/penguin/nobody/specific", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = do(s, httptest.NewRequest(http.MethodGet, "/api/latest-global-measurements", nil))
	assert.JSONEq(t, `[]`, w.Body.String())

	w = do(s, httptest.NewRequest(http.MethodGet, "/reports/table", nil))
	assert.JSONEq(t, `[]`, w.Body.String())

	w = do(s, httptest.NewRequest(http.MethodGet, "/reports/summary", nil))
	assert.JSONEq(t, `{"total_penguins":0,"avg_weight_7d":0,"heaviest":{},"lightest":{}}`, w.Body.String())
}

func TestSubjectIDsMustBeUsableFileNames(t *testing.T) {
	rt, s := newTestServer(t)

	w := do(s, httptest.NewRequest(http.MethodPost, "/update-penguin-id", strings.NewReader(`{"id":".hidden"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, "PNG-001", rt.Subject().Current())

	w = do(s, ingestRequest(t, `{"subject_id":"..","weight":5.0}`, []byte("jpeg-bytes")))
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = do(s, ingestRequest(t, `{"weight":5.0,"date":"2025-03-14","time":"09:26:53"}`, []byte("jpeg-bytes")))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, uint64(1), rt.Hub().LastEventID())

	req := httptest.NewRequest(http.MethodPost, "/api/penguin/PNG-001%00x/metadata",
		strings.NewReader(`{"field_name":"colony","field_value":"south"}`))
	w = do(s, req)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	var details struct {
		Metadata []map[string]string `json:"metadata"`
	}
	getJSON(t, s, "/api/penguin/PNG-001/specific", http.StatusOK, &details)
	assert.Empty(t, details.Metadata)
}

func TestIngestAcceptsStringWeight(t *testing.T) {
	_, s := newTestServer(t)
	w := do(s, ingestRequest(t, `{"weight":"5.5","date":"2025-03-14","time":"09:26:53"}`, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var recent []map[string]any
	getJSON(t, s, "/api/penguin/PNG-001/recent", http.StatusOK, &recent)
	require.Len(t, recent, 1)
	assert.Equal(t, 5.5, recent[0]["weight"])
}

func TestMetadataAndReports(t *testing.T) {
	rt, s := newTestServer(t)
	ingestWeight(t, rt, "PNG-001", 3.5)
	ingestWeight(t, rt, "PNG-002", 5.0)
	ingestWeight(t, rt, "PNG-003", 6.5)

	w := do(s, httptest.NewRequest(http.MethodPost, "/api/penguin/PNG-001/metadata", strings.NewReader(`{"field_value":"x"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(s, httptest.NewRequest(http.MethodPost, "/api/penguin/PNG-001/metadata", strings.NewReader(`{"field_name":"colony","field_value":"north"}`)))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"status":"success"}`, w.Body.String())

	var details struct {
		Metadata []map[string]string `json:"metadata"`
	}
	getJSON(t, s, "/api/penguin/PNG-001/specific", http.StatusOK, &details)
	assert.Equal(t, []map[string]string{{"field_name": "colony", "field_value": "north"}}, details.Metadata)

	var rows []map[string]any
	getJSON(t, s, "/reports/table?filter=underweight", http.StatusOK, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, "PNG-001", rows[0]["penguin_id"])
	assert.Equal(t, "underweight", rows[0]["status"])
	assert.Equal(t, "colony: north", rows[0]["comments"])

	getJSON(t, s, "/reports/table?filter=id", http.StatusOK, &rows)
	assert.Len(t, rows, 3)
	getJSON(t, s, "/reports/table?filter=bogus", http.StatusBadRequest, nil)

	var sum struct {
		Total    int            `json:"total_penguins"`
		Heaviest map[string]any `json:"heaviest"`
		Lightest map[string]any `json:"lightest"`
	}
	getJSON(t, s, "/reports/summary", http.StatusOK, &sum)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, "PNG-003", sum.Heaviest["id"])
	assert.Equal(t, "PNG-001", sum.Lightest["id"])
}

func TestSSEStream(t *testing.T) {
	rt, s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream?filter="+url.QueryEscape("weight > 5.0"), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	waitSubscribers(t, rt.Hub(), 1)
	ingestWeight(t, rt, "PNG-001", 4.0)
	ingestWeight(t, rt, "PNG-001", 6.0)

	r := bufio.NewReader(resp.Body)
	id, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "id: 2\n", id)
	data, err := r.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(data, "data: "), data)
	assert.JSONEq(t,
		`{"id":"PNG-001","weight":6,"date":"2025-03-14","time":"09:26:53","imageUrl":"/static/default_penguin.jpg"}`,
		strings.TrimPrefix(strings.TrimSpace(data), "data: "))

	cancel()
	waitSubscribers(t, rt.Hub(), 0)
}

func TestSSERejectsBadFilter(t *testing.T) {
	rt, s := newTestServer(t)
	w := do(s, httptest.NewRequest(http.MethodGet, "/stream?filter="+url.QueryEscape("weight >"), nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, rt.Hub().Len())
}

func TestWebSocketStream(t *testing.T) {
	rt, s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	waitSubscribers(t, rt.Hub(), 1)
	ingestWeight(t, rt, "PNG-009", 5.5)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	mt, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	var p measurement.Payload
	require.NoError(t, json.Unmarshal(msg, &p))
	assert.Equal(t, "PNG-009", p.ID)
	assert.Equal(t, 5.5, p.Weight)

	require.NoError(t, conn.Close())
	waitSubscribers(t, rt.Hub(), 0)
}

func TestStaticMetricsAndMiddleware(t *testing.T) {
	rt, s := newTestServer(t)
	ingestWeight(t, rt, "PNG-001", 5.0)

	w := do(s, httptest.NewRequest(http.MethodGet, "/static/default_penguin.jpg", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte{0xFF, 0xD8}))
	assert.Equal(t, http.StatusNotFound, do(s, httptest.NewRequest(http.MethodGet, "/uploads/", nil)).Code)

	w = do(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body, _ := io.ReadAll(w.Body)
	assert.Contains(t, string(body), `rookery_ingest_accepted_total{source="test"} 1`)

	w = do(s, httptest.NewRequest(http.MethodOptions, "/penguin", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	req.Header.Set("X-Request-ID", "req-1")
	assert.Equal(t, "req-1", do(s, req).Header().Get("X-Request-ID"))
	assert.NotEmpty(t, do(s, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)).Header().Get("X-Request-ID"))
}
