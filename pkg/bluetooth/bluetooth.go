// Package bluetooth connects the peripheral to a BLE stack. Each backend
// turns the stack's callbacks into peripheral requests and carries
// registrations, advertising commands and notifications the other way.
package bluetooth

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jwoglom/fakecadence/pkg/advertising"
	"github.com/jwoglom/fakecadence/pkg/attribute"
	"github.com/jwoglom/fakecadence/pkg/dispatch"
	"github.com/jwoglom/fakecadence/pkg/peripheral"
	"github.com/jwoglom/fakecadence/pkg/subscription"
)

const defaultTimeout = 5 * time.Second

// Backend names accepted by Open.
const (
	BackendHCI      = "hci"
	BackendBlueZ    = "bluez"
	BackendLoopback = "loopback"
)

// ErrNoHandler is returned when a central request arrives before SetHandler.
var ErrNoHandler = errors.New("no request handler")

// Handler receives link-layer events. *peripheral.Peripheral implements it.
type Handler interface {
	Read(ctx context.Context, req dispatch.ReadRequest) (dispatch.Response, error)
	Write(ctx context.Context, batch []dispatch.WriteRequest) (dispatch.WriteOutcome, error)
	Subscribe(ctx context.Context, central subscription.CentralID, key attribute.Key) error
	Unsubscribe(ctx context.Context, central subscription.CentralID, key attribute.Key) error
	Disconnect(ctx context.Context, central subscription.CentralID) (int, error)
	PowerChanged(ctx context.Context, on bool) error
}

// Backend is a BLE stack the peripheral can run on.
type Backend interface {
	advertising.Radio
	peripheral.Link

	// SetHandler must be called before Run.
	SetHandler(h Handler)
	// Run reports power state to the handler and serves centrals until ctx
	// is done.
	Run(ctx context.Context) error
}

// Options configures a backend.
type Options struct {
	Backend string
	// Adapter is the HCI adapter, e.g. "hci0". Empty picks the first one.
	Adapter string
	// RequestTimeout bounds each call into the handler.
	RequestTimeout time.Duration
}

// Open creates the backend named by opts.Backend.
func Open(opts Options) (Backend, error) {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = defaultTimeout
	}
	switch opts.Backend {
	case BackendLoopback:
		return NewLoopback(), nil
	case BackendHCI, BackendBlueZ:
		return openPlatform(opts)
	default:
		return nil, errors.Errorf("unknown bluetooth backend: %s", opts.Backend)
	}
}

// adapterIndex parses "hci0" or "0" into a device index, -1 for any.
func adapterIndex(adapter string) (int, error) {
	if adapter == "" {
		return -1, nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(adapter, "hci"))
	if err != nil || n < 0 {
		return 0, errors.Errorf("invalid adapter %q", adapter)
	}
	return n, nil
}

// caller wraps a Handler with per-request timeouts for stack callbacks,
// which have no context of their own.
type caller struct {
	handler Handler
	timeout time.Duration
}

func (c *caller) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func (c *caller) read(req dispatch.ReadRequest) dispatch.Response {
	if c.handler == nil {
		log.Warnf("pkg bluetooth; read %s before handler was set", req.Key)
		return dispatch.Response{Central: req.Central, Key: req.Key, Result: dispatch.AttributeNotFound}
	}
	ctx, cancel := c.ctx()
	defer cancel()
	rsp, err := c.handler.Read(ctx, req)
	if err != nil {
		log.Errorf("pkg bluetooth; read %s: %v", req.Key, err)
		return dispatch.Response{Central: req.Central, Key: req.Key, Result: dispatch.AttributeNotFound}
	}
	return rsp
}

func (c *caller) write(batch []dispatch.WriteRequest) dispatch.WriteOutcome {
	fail := func(r dispatch.Result) dispatch.WriteOutcome {
		out := dispatch.WriteOutcome{Responses: make([]dispatch.Response, len(batch))}
		for i, req := range batch {
			out.Responses[i] = dispatch.Response{Central: req.Central, Key: req.Key, Result: r}
		}
		return out
	}
	if c.handler == nil {
		log.Warn("pkg bluetooth; write before handler was set")
		return fail(dispatch.AttributeNotFound)
	}
	ctx, cancel := c.ctx()
	defer cancel()
	out, err := c.handler.Write(ctx, batch)
	if err != nil {
		log.Errorf("pkg bluetooth; write: %v", err)
		return fail(dispatch.AttributeNotFound)
	}
	return out
}

func (c *caller) subscribe(central subscription.CentralID, key attribute.Key, on bool) error {
	if c.handler == nil {
		return ErrNoHandler
	}
	ctx, cancel := c.ctx()
	defer cancel()
	if on {
		return c.handler.Subscribe(ctx, central, key)
	}
	return c.handler.Unsubscribe(ctx, central, key)
}

func (c *caller) disconnect(central subscription.CentralID) {
	if c.handler == nil {
		return
	}
	ctx, cancel := c.ctx()
	defer cancel()
	if _, err := c.handler.Disconnect(ctx, central); err != nil {
		log.Warnf("pkg bluetooth; disconnect %s: %v", central, err)
	}
}

func (c *caller) power(on bool) {
	if c.handler == nil {
		return
	}
	ctx, cancel := c.ctx()
	defer cancel()
	err := c.handler.PowerChanged(ctx, on)
	if err != nil {
		log.Warnf("pkg bluetooth; power change: %v", err)
	}
}
