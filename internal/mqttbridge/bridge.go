package mqttbridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rzbill/rookery/internal/ingest"
	"github.com/rzbill/rookery/internal/measurement"
	logpkg "github.com/rzbill/rookery/pkg/log"
)

// Ingester accepts measurements. *ingest.Service satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error)
}

// Options configures the bridge.
type Options struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
	Username string
	Password string
	// Timeout bounds connect and subscribe round trips. Default 5s.
	Timeout time.Duration
	Logger  logpkg.Logger
}

// Bridge subscribes to a topic and ingests each message as a measurement
// without an image.
type Bridge struct {
	opts   Options
	ing    Ingester
	logger logpkg.Logger

	mu     sync.Mutex
	client mqtt.Client
	ctx    context.Context
}

var newClient = mqtt.NewClient

// New validates opts. Nothing connects until Start.
func New(opts Options, ing Ingester) (*Bridge, error) {
	if opts.Broker == "" {
		return nil, errors.New("mqttbridge: broker is required")
	}
	if opts.Topic == "" {
		return nil, errors.New("mqttbridge: topic is required")
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("mqttbridge: invalid qos %d", opts.QoS)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if !strings.Contains(opts.Broker, "://") {
		opts.Broker = "tcp://" + opts.Broker
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	return &Bridge{
		opts:   opts,
		ing:    ing,
		logger: logger.With(logpkg.Component("mqtt"), logpkg.Str("topic", opts.Topic)),
		ctx:    context.Background(),
	}, nil
}

// Start connects, subscribes and returns. The subscription is restored
// after reconnects. Messages stop being ingested once ctx is done.
func (b *Bridge) Start(ctx context.Context) error {
	co := mqtt.NewClientOptions()
	co.AddBroker(b.opts.Broker)
	co.SetClientID(b.opts.ClientID)
	co.SetUsername(b.opts.Username)
	co.SetPassword(b.opts.Password)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(2 * time.Second)
	co.SetMaxReconnectInterval(30 * time.Second)
	co.SetCleanSession(true)
	co.OnConnect = func(c mqtt.Client) {
		tok := c.Subscribe(b.opts.Topic, b.opts.QoS, b.handle)
		if !tok.WaitTimeout(b.opts.Timeout) {
			b.logger.Error("subscribe timed out")
			return
		}
		if err := tok.Error(); err != nil {
			b.logger.Error("subscribe failed", logpkg.Err(err))
			return
		}
		b.logger.Info("mqtt subscribed", logpkg.Str("broker", b.opts.Broker))
	}
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		b.logger.Warn("mqtt connection lost, reconnecting", logpkg.Err(err))
	}

	client := newClient(co)
	b.mu.Lock()
	b.client = client
	b.ctx = ctx
	b.mu.Unlock()

	tok := client.Connect()
	if !tok.WaitTimeout(b.opts.Timeout) {
		return fmt.Errorf("mqttbridge: connect to %s timed out", b.opts.Broker)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqttbridge: connect to %s: %w", b.opts.Broker, err)
	}
	return nil
}

// Close unsubscribes and disconnects.
func (b *Bridge) Close() {
	b.mu.Lock()
	client := b.client
	b.client = nil
	b.mu.Unlock()
	if client == nil {
		return
	}
	if client.IsConnected() {
		client.Unsubscribe(b.opts.Topic).WaitTimeout(b.opts.Timeout)
	}
	client.Disconnect(250)
}

func (b *Bridge) handle(_ mqtt.Client, msg mqtt.Message) {
	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	log := b.logger.With(logpkg.Int("message_id", int(msg.MessageID())))

	rec, err := measurement.ParseRecord(msg.Payload())
	if err != nil {
		log.Warn("mqtt message rejected", logpkg.Err(err))
		return
	}
	res, err := b.ing.Ingest(ctx, ingest.Request{Record: rec, Source: "mqtt"})
	if err != nil {
		// Ingest has already logged the cause.
		log.Debug("mqtt message not ingested", logpkg.Err(err))
		return
	}
	log.Debug("mqtt message ingested",
		logpkg.Str("subject_id", res.Measurement.SubjectID),
		logpkg.Uint64("event_id", res.EventID),
	)
}
