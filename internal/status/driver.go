package status

import (
	"context"
	"sync/atomic"

	"github.com/mvalente/tablechat/internal/bus"
	"go.uber.org/zap"
)

// Driver maps directory events onto state machine transitions so the
// UI can render a single connection indicator.
type Driver struct {
	machine *Machine
	bus     *bus.Bus
	logger  *zap.Logger
	pushUp  atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDriver creates a driver for the given machine.
func NewDriver(machine *Machine, b *bus.Bus, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{machine: machine, bus: b, logger: logger}
}

// SetPushConnected records push transport health. A connected transport
// upgrades Polling to Live on the next good refresh. Safe to call while
// the consumer loop is running.
func (d *Driver) SetPushConnected(up bool) {
	d.pushUp.Store(up)
}

// Start begins consuming directory events until the context is
// cancelled or Stop is called.
func (d *Driver) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	ch, cancelSub := d.bus.Subscribe("directory.", 32)
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		defer cancelSub()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-ch:
				d.handle(evt)
			}
		}
	}()
}

// Stop cancels the consumer loop and waits for it to drain.
func (d *Driver) Stop() {
	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
}

func (d *Driver) handle(evt bus.Event) {
	var to State
	switch evt.Kind {
	case bus.KindDirectoryUpdated:
		to = Polling
		if d.pushUp.Load() {
			to = Live
		}
	case bus.KindDirectoryError:
		kind, _ := evt.Payload.(string)
		if kind == "auth" {
			to = AuthRequired
		} else {
			to = Degraded
		}
	default:
		return
	}
	if err := d.machine.Transition(to); err != nil {
		d.logger.Debug("status transition skipped",
			zap.String("to", string(to)), zap.Error(err))
	}
}
