package bluetooth

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jwoglom/fakecadence/pkg/attribute"
	"github.com/jwoglom/fakecadence/pkg/catalog"
	"github.com/jwoglom/fakecadence/pkg/dispatch"
	"github.com/jwoglom/fakecadence/pkg/subscription"
)

const (
	// DefaultMTU is the ATT MTU a loopback central negotiates.
	DefaultMTU = 23
	// notificationQueue is how many notifications a virtual central buffers.
	notificationQueue = 64
)

var (
	// ErrNotAdvertising is returned when connecting to a silent peripheral.
	ErrNotAdvertising = errors.New("peripheral is not advertising")
	// ErrDisconnected is returned by a virtual central after Disconnect.
	ErrDisconnected = errors.New("central disconnected")
)

// Loopback is an in-memory link layer. Virtual centrals connect to it and
// issue requests the way a remote device would.
type Loopback struct {
	caller *caller
	mtu    int

	mutex       sync.Mutex
	powered     bool
	advertising bool
	name        string
	ids         []uuid.UUID
	services    []catalog.ServiceDefinition
	centrals    map[subscription.CentralID]*VirtualCentral
}

// NewLoopback creates a powered-off loopback; Run powers it on.
func NewLoopback() *Loopback {
	return &Loopback{
		caller:   &caller{timeout: defaultTimeout},
		mtu:      DefaultMTU,
		centrals: make(map[subscription.CentralID]*VirtualCentral),
	}
}

// SetHandler implements Backend.
func (l *Loopback) SetHandler(handler Handler) {
	l.caller.handler = handler
}

// Run implements Backend.
func (l *Loopback) Run(ctx context.Context) error {
	if err := l.SetPower(ctx, true); err != nil {
		log.Debugf("loopback power on: %v", err)
	}
	<-ctx.Done()
	return nil
}

// SetPower simulates the radio being switched on or off.
func (l *Loopback) SetPower(ctx context.Context, on bool) error {
	l.mutex.Lock()
	l.powered = on
	if !on {
		l.advertising = false
	}
	l.mutex.Unlock()

	if l.caller.handler == nil {
		return ErrNoHandler
	}
	return l.caller.handler.PowerChanged(ctx, on)
}

// Register implements advertising.Radio.
func (l *Loopback) Register(defs []catalog.ServiceDefinition) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if len(l.services) > 0 {
		return errors.New("services already registered")
	}
	l.services = append([]catalog.ServiceDefinition(nil), defs...)
	log.Debugf("loopback: registered %d services", len(defs))
	return nil
}

// StartAdvertising implements advertising.Radio.
func (l *Loopback) StartAdvertising(name string, ids []uuid.UUID) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if !l.powered {
		return errors.New("radio is off")
	}
	l.advertising = true
	l.name = name
	l.ids = append([]uuid.UUID(nil), ids...)
	return nil
}

// StopAdvertising implements advertising.Radio.
func (l *Loopback) StopAdvertising() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.advertising = false
	return nil
}

// Advertisement returns what is being advertised, if anything.
func (l *Loopback) Advertisement() (name string, ids []uuid.UUID, ok bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.name, append([]uuid.UUID(nil), l.ids...), l.advertising
}

// Services returns the registered service definitions, as discovery would.
func (l *Loopback) Services() []catalog.ServiceDefinition {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]catalog.ServiceDefinition(nil), l.services...)
}

// Deliver implements peripheral.Link.
func (l *Loopback) Deliver(n dispatch.Notification) error {
	l.mutex.Lock()
	c, ok := l.centrals[n.Central]
	l.mutex.Unlock()
	if !ok {
		return errors.Errorf("central %s is not connected", n.Central)
	}

	value := n.Value
	if max := l.mtu - 3; len(value) > max {
		value = value[:max]
	}
	select {
	case c.notifications <- dispatch.Notification{Central: n.Central, Key: n.Key, Value: value}:
		return nil
	default:
		return errors.Errorf("notification queue of %s is full", n.Central)
	}
}

// Connect attaches a virtual central. An empty name gets a random id.
func (l *Loopback) Connect(name string) (*VirtualCentral, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if !l.advertising {
		return nil, ErrNotAdvertising
	}
	if name == "" {
		name = uuid.NewString()
	}
	id := subscription.CentralID(name)
	if _, exists := l.centrals[id]; exists {
		return nil, errors.Errorf("central %s is already connected", id)
	}

	c := &VirtualCentral{
		id:            id,
		link:          l,
		notifications: make(chan dispatch.Notification, notificationQueue),
	}
	l.centrals[id] = c
	log.Infof("loopback: ** New connection from: %s", id)
	return c, nil
}

// Centrals returns the connected central ids, sorted.
func (l *Loopback) Centrals() []subscription.CentralID {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	out := make([]subscription.CentralID, 0, len(l.centrals))
	for id := range l.centrals {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (l *Loopback) detach(id subscription.CentralID) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if _, ok := l.centrals[id]; !ok {
		return false
	}
	delete(l.centrals, id)
	return true
}

// VirtualCentral is a central connected to a Loopback.
type VirtualCentral struct {
	id            subscription.CentralID
	link          *Loopback
	notifications chan dispatch.Notification

	mutex        sync.Mutex
	disconnected bool
}

// ID returns the central id.
func (c *VirtualCentral) ID() subscription.CentralID {
	return c.id
}

// Notifications receives every notification delivered to this central.
func (c *VirtualCentral) Notifications() <-chan dispatch.Notification {
	return c.notifications
}

func (c *VirtualCentral) handler() (Handler, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.disconnected {
		return nil, ErrDisconnected
	}
	if c.link.caller.handler == nil {
		return nil, ErrNoHandler
	}
	return c.link.caller.handler, nil
}

// Read reads key at offset. Like a real ATT read, the value is cut to
// MTU-1 bytes.
func (c *VirtualCentral) Read(ctx context.Context, key attribute.Key, offset int) (dispatch.Response, error) {
	h, err := c.handler()
	if err != nil {
		return dispatch.Response{}, err
	}
	rsp, err := h.Read(ctx, dispatch.ReadRequest{Central: c.id, Key: key, Offset: offset})
	if err != nil {
		return rsp, err
	}
	if max := c.link.mtu - 1; len(rsp.Value) > max {
		rsp.Value = rsp.Value[:max]
	}
	return rsp, nil
}

// ReadLong reads a whole value with a read followed by blob reads.
func (c *VirtualCentral) ReadLong(ctx context.Context, key attribute.Key) ([]byte, error) {
	var value []byte
	chunk := c.link.mtu - 1
	for {
		rsp, err := c.Read(ctx, key, len(value))
		if err != nil {
			return nil, err
		}
		if !rsp.Result.OK() {
			return nil, errors.Errorf("read %s at %d: %s", key, len(value), rsp.Result)
		}
		value = append(value, rsp.Value...)
		if len(rsp.Value) < chunk {
			return value, nil
		}
	}
}

// Write writes value to key as a single request.
func (c *VirtualCentral) Write(ctx context.Context, key attribute.Key, value []byte) (dispatch.Response, error) {
	out, err := c.WriteBatch(ctx, []dispatch.WriteRequest{{Key: key, Value: value}})
	if err != nil {
		return dispatch.Response{}, err
	}
	return out.Responses[0], nil
}

// WriteLong splits value into prepared writes that are executed together.
func (c *VirtualCentral) WriteLong(ctx context.Context, key attribute.Key, value []byte) (dispatch.WriteOutcome, error) {
	chunk := c.link.mtu - 5
	var batch []dispatch.WriteRequest
	for off := 0; off < len(value) || off == 0; off += chunk {
		end := off + chunk
		if end > len(value) {
			end = len(value)
		}
		batch = append(batch, dispatch.WriteRequest{Key: key, Offset: off, Value: value[off:end]})
		if end == len(value) {
			break
		}
	}
	return c.WriteBatch(ctx, batch)
}

// WriteBatch sends batch as one atomic set of writes from this central.
func (c *VirtualCentral) WriteBatch(ctx context.Context, batch []dispatch.WriteRequest) (dispatch.WriteOutcome, error) {
	h, err := c.handler()
	if err != nil {
		return dispatch.WriteOutcome{}, err
	}
	reqs := make([]dispatch.WriteRequest, len(batch))
	for i, req := range batch {
		req.Central = c.id
		reqs[i] = req
	}
	return h.Write(ctx, reqs)
}

// Subscribe enables notifications on key.
func (c *VirtualCentral) Subscribe(ctx context.Context, key attribute.Key) error {
	h, err := c.handler()
	if err != nil {
		return err
	}
	return h.Subscribe(ctx, c.id, key)
}

// Unsubscribe disables notifications on key.
func (c *VirtualCentral) Unsubscribe(ctx context.Context, key attribute.Key) error {
	h, err := c.handler()
	if err != nil {
		return err
	}
	return h.Unsubscribe(ctx, c.id, key)
}

// Disconnect drops the connection and all of its subscriptions.
func (c *VirtualCentral) Disconnect(ctx context.Context) error {
	h, err := c.handler()
	if err != nil {
		return err
	}

	c.mutex.Lock()
	c.disconnected = true
	c.mutex.Unlock()

	if c.link.detach(c.id) {
		log.Infof("loopback: ** disconnect: %s", c.id)
	}
	_, err = h.Disconnect(ctx, c.id)
	return err
}
