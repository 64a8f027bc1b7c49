package mqttbridge

import (
	"context"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/rookery/internal/ingest"
)

type fakeMessage struct {
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return "rookery/measurements" }
func (m fakeMessage) MessageID() uint16 { return 7 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

var _ mqtt.Message = fakeMessage{}

type recordingIngester struct {
	reqs []ingest.Request
}

func (r *recordingIngester) Ingest(_ context.Context, req ingest.Request) (ingest.Result, error) {
	r.reqs = append(r.reqs, req)
	m, err := req.Record.Build("PNG-001", measurementNow)
	return ingest.Result{Measurement: m}, err
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options{Topic: "t"}, &recordingIngester{})
	assert.Error(t, err)
	_, err = New(Options{Broker: "localhost:1883"}, &recordingIngester{})
	assert.Error(t, err)
	_, err = New(Options{Broker: "localhost:1883", Topic: "t", QoS: 3}, &recordingIngester{})
	assert.Error(t, err)

	b, err := New(Options{Broker: "localhost:1883", Topic: "t"}, &recordingIngester{})
	require.NoError(t, err)
	assert.Equal(t, "tcp://localhost:1883", b.opts.Broker)

	b, err = New(Options{Broker: "ssl://broker:8883", Topic: "t"}, &recordingIngester{})
	require.NoError(t, err)
	assert.Equal(t, "ssl://broker:8883", b.opts.Broker)
}

func TestHandleIngestsRecord(t *testing.T) {
	ing := &recordingIngester{}
	b, err := New(Options{Broker: "localhost:1883", Topic: "rookery/measurements"}, ing)
	require.NoError(t, err)

	b.handle(nil, fakeMessage{payload: []byte(`{"subject_id":"PNG-042","weight":5.1,"date":"2025-03-14","time":"08:00:00"}`)})
	require.Len(t, ing.reqs, 1)
	req := ing.reqs[0]
	assert.Equal(t, "mqtt", req.Source)
	assert.Empty(t, req.Image)
	assert.Equal(t, "PNG-042", req.Record.SubjectID)
	require.NotNil(t, req.Record.Weight)
	assert.Equal(t, 5.1, *req.Record.Weight)
}

func TestHandleDropsMalformed(t *testing.T) {
	ing := &recordingIngester{}
	b, err := New(Options{Broker: "localhost:1883", Topic: "t"}, ing)
	require.NoError(t, err)

	b.handle(nil, fakeMessage{payload: []byte(`not json`)})
	b.handle(nil, fakeMessage{payload: nil})
	assert.Empty(t, ing.reqs)
}

func TestHandleAfterCancel(t *testing.T) {
	ing := &recordingIngester{}
	b, err := New(Options{Broker: "localhost:1883", Topic: "t"}, ing)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.ctx = ctx

	b.handle(nil, fakeMessage{payload: []byte(`{"weight":5}`)})
	assert.Empty(t, ing.reqs)
}

var measurementNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
