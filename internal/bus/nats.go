package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/notas/internal/domain"
)

// MetaOrigin names the metadata entry carrying the publishing node id.
const MetaOrigin = "origin"

// NATSBus carries change and slow-query events between notas nodes.
type NATSBus struct {
	node string
	conn *nats.Conn

	mu   sync.Mutex
	subs map[*natsSubscription]struct{}
}

type natsSubscription struct {
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

// NewNATSBus dials the configured server, retrying up to
// NATSMaxReconnects times before giving up.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	attempts := cfg.NATSMaxReconnects
	if attempts <= 0 {
		attempts = 10
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second
	if wait <= 0 {
		wait = 5 * time.Second
	}

	node := uuid.NewString()
	opts := []nats.Option{
		nats.Name("notas-" + node[:8]),
		nats.MaxReconnects(attempts),
		nats.ReconnectWait(wait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("event bus disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("event bus reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("event bus error", "subject", subject, "error", err)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	var conn *nats.Conn
	var err error
	for i := 1; i <= attempts; i++ {
		if conn, err = nats.Connect(url, opts...); err == nil {
			break
		}
		slog.Warn("event bus connect failed", "attempt", i, "max_attempts", attempts, "error", err)
		if i < attempts {
			time.Sleep(wait)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	slog.Info("event bus connected", "url", conn.ConnectedUrl(), "node", node)
	return &NATSBus{node: node, conn: conn, subs: make(map[*natsSubscription]struct{})}, nil
}

// Node returns the id stamped on every message this bus publishes.
func (b *NATSBus) Node() string { return b.node }

// Publish wraps payload in a Message envelope and sends it on topic.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(&domain.Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  map[string]string{MetaOrigin: b.node},
		Timestamp: time.Now().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return b.conn.Publish(topic, data)
}

// Subscribe delivers decoded envelopes on topic to handler. Handler errors
// are logged and the message is dropped.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	ns, err := b.conn.Subscribe(topic, func(m *nats.Msg) {
		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Warn("discarding malformed event", "subject", m.Subject, "error", err)
			return
		}
		if err := handler(ctx, &msg); err != nil {
			slog.Error("event handler failed", "subject", m.Subject, "message_id", msg.ID, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &natsSubscription{topic: topic, sub: ns, bus: b}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

// Ping flushes the connection, which round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if status := b.conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("event bus not connected: %s", status)
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains pending deliveries and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	b.subs = make(map[*natsSubscription]struct{})
	b.mu.Unlock()

	if b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("failed to drain event bus: %w", err)
	}
	return nil
}

func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string { return s.topic }
