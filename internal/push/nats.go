package push

import (
	"context"
	"fmt"
	"time"

	"github.com/mvalente/tablechat/internal/api"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Transport is a push delivery channel feeding the ingestor.
type Transport interface {
	Start(ctx context.Context) error
	Stop()
}

// NATSTransport subscribes to the per-user push subject on a NATS server
// and forwards each payload to the ingestor.
type NATSTransport struct {
	url      string
	userID   int64
	ingestor *Ingestor
	logger   *zap.Logger

	conn *nats.Conn
	sub  *nats.Subscription
}

// NewNATSTransport creates a transport for the given server URL and user.
func NewNATSTransport(url string, userID int64, ingestor *Ingestor, logger *zap.Logger) *NATSTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSTransport{url: url, userID: userID, ingestor: ingestor, logger: logger}
}

// Start connects and subscribes to chat.push.<userID>. The NATS client
// reconnects on its own; delivery gaps are covered by the next poll.
func (t *NATSTransport) Start(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(fmt.Sprintf("tablechat-%d", t.userID)),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			t.logger.Warn("push channel disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			t.logger.Info("push channel reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(t.url, opts...)
	if err != nil {
		return fmt.Errorf("connect push channel: %w", err)
	}
	t.conn = conn

	subject := fmt.Sprintf("chat.push.%d", t.userID)
	sub, err := conn.Subscribe(subject, func(m *nats.Msg) {
		payload, err := api.DecodePushPayload(m.Data)
		if err != nil {
			t.logger.Warn("bad push payload", zap.Error(err))
			return
		}
		t.ingestor.Handle(ctx, Event{
			ConversationID: payload.ConversationID,
			Message:        payload.Message.ToDomain(),
		})
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	t.sub = sub
	t.logger.Info("push channel connected", zap.String("subject", subject))
	return nil
}

// Stop unsubscribes and closes the connection.
func (t *NATSTransport) Stop() {
	if t.sub != nil {
		_ = t.sub.Unsubscribe()
	}
	if t.conn != nil {
		t.conn.Close()
	}
}
