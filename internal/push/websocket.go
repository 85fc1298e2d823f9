package push

import (
	"context"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/mvalente/tablechat/internal/api"
	"go.uber.org/zap"
)

// WSTransport reads push payloads from a WebSocket endpoint. It redials on
// failure with a flat delay; missed events are recovered by the next poll.
type WSTransport struct {
	url      string
	ingestor *Ingestor
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewWSTransport creates a transport for the given ws:// or wss:// URL.
func NewWSTransport(url string, ingestor *Ingestor, logger *zap.Logger) *WSTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSTransport{url: url, ingestor: ingestor, logger: logger}
}

// Start launches the dial/read loop.
func (t *WSTransport) Start(ctx context.Context) error {
	ctx, t.cancel = context.WithCancel(ctx)
	go t.loop(ctx)
	return nil
}

// Stop terminates the loop and closes any live connection.
func (t *WSTransport) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *WSTransport) loop(ctx context.Context) {
	for ctx.Err() == nil {
		if err := t.readOnce(ctx); err != nil && ctx.Err() == nil {
			t.logger.Warn("push socket closed, redialing", zap.Error(err))
		}
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return
		}
	}
}

func (t *WSTransport) readOnce(ctx context.Context) error {
	conn, _, _, err := ws.DefaultDialer.Dial(ctx, t.url)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	t.logger.Info("push socket connected", zap.String("url", t.url))
	for {
		data, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			return err
		}
		if op != ws.OpText {
			continue
		}
		payload, err := api.DecodePushPayload(data)
		if err != nil {
			t.logger.Warn("bad push payload", zap.Error(err))
			continue
		}
		t.ingestor.Handle(ctx, Event{
			ConversationID: payload.ConversationID,
			Message:        payload.Message.ToDomain(),
		})
	}
}
