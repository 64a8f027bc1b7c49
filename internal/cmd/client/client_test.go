package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	rookeryv1 "github.com/rzbill/rookery/api/rookery/v1"
	"github.com/rzbill/rookery/internal/measurement"
)

type received struct {
	meta      measurement.Record
	imageName string
	image     []byte
}

// penguinServer records POST /penguin uploads.
type penguinServer struct {
	mu      sync.Mutex
	uploads []received
}

func (s *penguinServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/penguin" {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var rec received
	if err := json.Unmarshal([]byte(r.FormValue("metadata")), &rec.meta); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if f, h, err := r.FormFile("image"); err == nil {
		rec.imageName = h.Filename
		rec.image, _ = io.ReadAll(f)
		f.Close()
	}
	s.mu.Lock()
	s.uploads = append(s.uploads, rec)
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"message":"Data received","date":%q,"time":%q}`, rec.meta.Date, rec.meta.Time)
}

func (s *penguinServer) all() []received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]received(nil), s.uploads...)
}

func writeImage(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("jpeg:"+name), 0o644))
	mod := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(p, mod, mod))
	return p
}

func TestSubjectSet_PrintsStatus(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/update-penguin-id", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"message":"Penguin ID updated to PNG-007"}`)
	}))
	defer srv.Close()

	cmd := NewSubjectCommand(func() string { return srv.URL })
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"set", " PNG-007 "})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, map[string]string{"id": "PNG-007"}, got)
	assert.Contains(t, buf.String(), "status: 200 OK")
	assert.Contains(t, buf.String(), "Penguin ID updated to PNG-007")
}

func TestSubjectSet_FailureStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Missing 'id' in request"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	cmd := NewSubjectCommand(func() string { return srv.URL })
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"set", "x"})
	assert.Error(t, cmd.Execute())
}

func TestNewestImage(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "IMG-20250314-091000.jpg", time.Minute)
	writeImage(t, dir, "IMG-20250314-091455.jpg", 4*time.Second)
	want := writeImage(t, dir, "IMG-20250314-091500.JPG", time.Second)
	writeImage(t, dir, "snapshot.png", 0)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.jpg"), 0o755))

	got, err := newestImage(dir, 10*time.Second, time.Now())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = newestImage(dir, 100*time.Millisecond, time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, errNoImage)
}

func TestUpload_SendsNewestImageWithMetadata(t *testing.T) {
	ps := &penguinServer{}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	dir := t.TempDir()
	writeImage(t, dir, "old.jpg", time.Hour)
	writeImage(t, dir, "new.jpg", 0)

	cmd := NewUploadCommand(func() string { return srv.URL })
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--dir", dir, "--weight", "6.1", "--subject", "PNG-002"})
	require.NoError(t, cmd.Execute())

	ups := ps.all()
	require.Len(t, ups, 1)
	assert.Equal(t, "new.jpg", ups[0].imageName)
	assert.Equal(t, []byte("jpeg:new.jpg"), ups[0].image)
	require.NotNil(t, ups[0].meta.Weight)
	assert.Equal(t, 6.1, *ups[0].meta.Weight)
	assert.Equal(t, "PNG-002", ups[0].meta.SubjectID)
	_, err := time.Parse(measurement.DateLayout, ups[0].meta.Date)
	assert.NoError(t, err)
	_, err = time.Parse(measurement.TimeLayout, ups[0].meta.Time)
	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "Data received")
}

func TestUpload_DefaultsAndNoImage(t *testing.T) {
	ps := &penguinServer{}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	cmd := NewUploadCommand(func() string { return srv.URL })
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"--no-image"})
	require.NoError(t, cmd.Execute())

	ups := ps.all()
	require.Len(t, ups, 1)
	assert.Empty(t, ups[0].imageName)
	assert.Empty(t, ups[0].meta.SubjectID)
	assert.Equal(t, DefaultWeight, *ups[0].meta.Weight)
}

func TestUpload_NoRecentImage(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "stale.jpg", time.Hour)

	cmd := NewUploadCommand(func() string { return "http://127.0.0.1:0" })
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--dir", dir})
	err := cmd.Execute()
	assert.ErrorIs(t, err, errNoImage)
}

func TestCaptureTime(t *testing.T) {
	fallback := time.Date(2025, 1, 1, 0, 0, 0, 0, time.Local)
	got := captureTime("/cam/IMG-20250314-091500.jpg", fallback)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 15, 0, 0, time.Local), got)
	assert.Equal(t, fallback, captureTime("/cam/photo.jpg", fallback))
}

func TestDirWatcher_UploadsSettledImagesOnce(t *testing.T) {
	ps := &penguinServer{}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	dir := t.TempDir()
	img := writeImage(t, dir, "IMG-20250314-091500.jpg", 0)
	buf := &bytes.Buffer{}
	w := newDirWatcher(&uploader{baseURL: srv.URL, client: srv.Client()}, time.Second, 4.2, "", buf)

	t0 := time.Now()
	w.observe(fsnotify.Event{Name: img, Op: fsnotify.Create}, t0)
	w.observe(fsnotify.Event{Name: filepath.Join(dir, "notes.txt"), Op: fsnotify.Create}, t0)
	w.observe(fsnotify.Event{Name: img, Op: fsnotify.Write}, t0.Add(300*time.Millisecond))
	w.observe(fsnotify.Event{Name: img, Op: fsnotify.Chmod}, t0.Add(900*time.Millisecond))

	w.flush(context.Background(), t0.Add(time.Second))
	assert.Empty(t, ps.all(), "still settling")

	w.flush(context.Background(), t0.Add(1300*time.Millisecond))
	ups := ps.all()
	require.Len(t, ups, 1)
	assert.Equal(t, "2025-03-14", ups[0].meta.Date)
	assert.Equal(t, "09:15:00", ups[0].meta.Time)
	assert.Equal(t, 4.2, *ups[0].meta.Weight)
	assert.True(t, strings.HasPrefix(buf.String(), "IMG-20250314-091500.jpg: status: 200 OK"))

	w.observe(fsnotify.Event{Name: img, Op: fsnotify.Write}, t0.Add(2*time.Second))
	w.flush(context.Background(), t0.Add(time.Hour))
	assert.Len(t, ps.all(), 1)
}

func TestTickInterval(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, tickInterval(time.Second))
	assert.Equal(t, minTick, tickInterval(time.Nanosecond))
	assert.Equal(t, minTick, tickInterval(0))
}

func TestWatch_TinySettleDoesNotPanic(t *testing.T) {
	cmd := NewWatchCommand(func() string { return "http://127.0.0.1:0" })
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--dir", t.TempDir(), "--settle", "1ns"})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NotPanics(t, func() {
		assert.NoError(t, cmd.ExecuteContext(ctx))
	})
}

func TestTail_SSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "weight > 5", r.URL.Query().Get("filter"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": ping\n\n")
		for i := 1; i <= 3; i++ {
			fmt.Fprintf(w, "id: %d\ndata: {\"id\":\"PNG-00%d\",\"weight\":5.5}\n\n", i, i)
		}
	}))
	defer srv.Close()

	cmd := NewTailCommand(func() string { return srv.URL })
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--filter", "weight > 5", "--limit", "2"})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, float64(1), first["event_id"])
	assert.Equal(t, "PNG-001", first["payload_json"].(map[string]any)["id"])
}

func TestTail_InvalidTransport(t *testing.T) {
	cmd := NewTailCommand(func() string { return "http://127.0.0.1:0" })
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--transport", "carrier-pigeon"})
	assert.ErrorContains(t, cmd.Execute(), "invalid --transport")
}

// --- gRPC tail ---

type measurementsStub struct {
	mu     sync.Mutex
	filter string
	toSend int
}

func (s *measurementsStub) Subscribe(in *structpb.Struct, stream rookeryv1.Measurements_SubscribeServer) error {
	s.mu.Lock()
	s.filter = in.GetFields()["filter"].GetStringValue()
	s.mu.Unlock()
	for i := 1; i <= s.toSend; i++ {
		m, err := structpb.NewStruct(map[string]any{
			"id":       fmt.Sprintf("PNG-00%d", i),
			"weight":   5.0 + float64(i),
			"event_id": float64(i),
		})
		if err != nil {
			return err
		}
		if err := stream.Send(m); err != nil {
			return err
		}
	}
	return nil
}

func startGRPCStub(t *testing.T, svc rookeryv1.MeasurementsServer) (addr string, stop func()) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	gs := grpc.NewServer()
	rookeryv1.RegisterMeasurementsServer(gs, svc)
	done := make(chan struct{})
	go func() {
		_ = gs.Serve(l)
		close(done)
	}()
	stop = func() {
		gs.Stop()
		<-done
	}
	return l.Addr().String(), stop
}

func TestTail_GRPC(t *testing.T) {
	stub := &measurementsStub{toSend: 3}
	addr, stop := startGRPCStub(t, stub)
	defer stop()
	t.Setenv("ROOKERY_GRPC", addr)

	cmd := NewTailCommand(func() string { return "http://unused" })
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--transport", "grpc", "--filter", `id == "PNG-002"`})
	require.NoError(t, cmd.Execute())

	stub.mu.Lock()
	assert.Equal(t, `id == "PNG-002"`, stub.filter)
	stub.mu.Unlock()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	var last map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &last))
	assert.Equal(t, float64(3), last["event_id"])
	payload := last["payload_json"].(map[string]any)
	assert.Equal(t, "PNG-003", payload["id"])
	assert.NotContains(t, payload, "event_id")
}

func TestNewRootRegistersCommands(t *testing.T) {
	root := NewRoot(func() string { return "" })
	for _, name := range []string{"subject", "upload", "watch", "tail"} {
		c, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}
}
