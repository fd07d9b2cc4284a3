// Package peripheral owns the attribute table, subscription registry and
// advertising controller, and serializes every operation on them through a
// single event loop.
package peripheral

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jwoglom/fakecadence/pkg/advertising"
	"github.com/jwoglom/fakecadence/pkg/attribute"
	"github.com/jwoglom/fakecadence/pkg/catalog"
	"github.com/jwoglom/fakecadence/pkg/dispatch"
	"github.com/jwoglom/fakecadence/pkg/protocol"
	"github.com/jwoglom/fakecadence/pkg/subscription"
)

var (
	// ErrStopped is returned by every call once the loop has exited.
	ErrStopped = errors.New("peripheral stopped")
	// ErrNotNotifiable is returned when subscribing to a characteristic
	// without the notify property.
	ErrNotNotifiable = errors.New("characteristic does not support notifications")
)

// Link delivers notifications to centrals. Deliver is called from the event
// loop and must not call back into the Peripheral.
type Link interface {
	Deliver(n dispatch.Notification) error
}

// Config describes a peripheral.
type Config struct {
	// Name is the advertised local name.
	Name string
	// Kinds are the services added to the table, in order.
	Kinds []catalog.ServiceKind
	// Source computes values of characteristics with nothing cached.
	Source dispatch.ValueSource
	// Override is consulted before cached values, e.g. value scripts.
	Override dispatch.ValueSource
	Radio    advertising.Radio
	Link     Link
	// StaleAfter is how long a request may stay open before it is reported.
	StaleAfter time.Duration
}

// Peripheral is the BLE peripheral state machine.
type Peripheral struct {
	table  *attribute.Table
	subs   *subscription.Registry
	disp   *dispatch.Dispatcher
	adv    *advertising.Controller
	ledger *protocol.Ledger
	link   Link

	observers   []Observer
	observerMtx sync.Mutex

	events  chan event
	done    chan struct{}
	runOnce sync.Once
}

// New builds the attribute table from cfg.Kinds. Setup errors, such as a
// repeated service kind, are returned here and never reach a central.
func New(cfg Config) (*Peripheral, error) {
	table := attribute.NewTable()
	for _, k := range cfg.Kinds {
		if err := table.AddService(k); err != nil {
			return nil, errors.Wrapf(err, "add service %s", k)
		}
	}

	staleAfter := cfg.StaleAfter
	if staleAfter == 0 {
		staleAfter = 5 * time.Second
	}

	subs := subscription.NewRegistry()
	disp := dispatch.New(table, subs, cfg.Source)
	disp.SetOverride(cfg.Override)
	return &Peripheral{
		table:  table,
		subs:   subs,
		disp:   disp,
		adv:    advertising.New(cfg.Name, table, cfg.Radio),
		ledger: protocol.NewLedger(staleAfter),
		link:   cfg.Link,
		events: make(chan event),
		done:   make(chan struct{}),
	}, nil
}

// AddObserver registers o. Observers run on the event loop.
func (p *Peripheral) AddObserver(o Observer) {
	p.observerMtx.Lock()
	defer p.observerMtx.Unlock()
	p.observers = append(p.observers, o)
}

// Ledger exposes request accounting for diagnostics.
func (p *Peripheral) Ledger() *protocol.Ledger {
	return p.ledger
}

// Run processes events until ctx is done. Advertising is stopped on the way
// out. Run may only be called once.
func (p *Peripheral) Run(ctx context.Context) error {
	started := false
	p.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("peripheral already ran")
	}
	defer close(p.done)

	log.Debugf("peripheral loop started with %d services", p.table.Len())
	staleTicker := time.NewTicker(time.Second)
	defer staleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := p.adv.Stop(); err != nil {
				log.Warnf("stop advertising on shutdown: %v", err)
			}
			p.emitAdvertising()
			log.Debug("peripheral loop stopped")
			return nil
		case ev := <-p.events:
			ev.apply(p)
		case <-staleTicker.C:
			p.ledger.Stale()
		}
	}
}

func call[T any](ctx context.Context, p *Peripheral, ev event, reply chan T) (T, error) {
	var zero T
	select {
	case p.events <- ev:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-p.done:
		return zero, ErrStopped
	}

	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-p.done:
		return zero, ErrStopped
	}
}

// Read resolves one read request. The response is the only one the request
// gets. The request is open in the ledger from here until the loop answers
// it, so one that never reaches the loop is reported as stale.
func (p *Peripheral) Read(ctx context.Context, req dispatch.ReadRequest) (dispatch.Response, error) {
	id := p.ledger.Open(protocol.KindRead, string(req.Central), req.Key.String())
	reply := make(chan dispatch.Response, 1)
	return call(ctx, p, &ReadEvent{Request: req, id: id, reply: reply}, reply)
}

// Write resolves a batch of writes. Batches are processed in arrival order
// and never interleave.
func (p *Peripheral) Write(ctx context.Context, batch []dispatch.WriteRequest) (dispatch.WriteOutcome, error) {
	ids := make([]uint64, len(batch))
	for i, req := range batch {
		ids[i] = p.ledger.Open(protocol.KindWrite, string(req.Central), req.Key.String())
	}
	reply := make(chan dispatch.WriteOutcome, 1)
	return call(ctx, p, &WriteEvent{Batch: batch, ids: ids, reply: reply}, reply)
}

// Subscribe subscribes central to notifications on key.
func (p *Peripheral) Subscribe(ctx context.Context, central subscription.CentralID, key attribute.Key) error {
	reply := make(chan error, 1)
	err, callErr := call(ctx, p, &SubscriptionEvent{Central: central, Key: key, Subscribe: true, reply: reply}, reply)
	if callErr != nil {
		return callErr
	}
	return err
}

// Unsubscribe removes central from future notifications on key.
func (p *Peripheral) Unsubscribe(ctx context.Context, central subscription.CentralID, key attribute.Key) error {
	reply := make(chan error, 1)
	err, callErr := call(ctx, p, &SubscriptionEvent{Central: central, Key: key, reply: reply}, reply)
	if callErr != nil {
		return callErr
	}
	return err
}

// Disconnect drops every subscription of central and returns how many were
// removed.
func (p *Peripheral) Disconnect(ctx context.Context, central subscription.CentralID) (int, error) {
	reply := make(chan int, 1)
	return call(ctx, p, &DisconnectEvent{Central: central, reply: reply}, reply)
}

// PowerChanged reports a radio power transition. A deferred advertising start
// is retried on power-on and its error returned.
func (p *Peripheral) PowerChanged(ctx context.Context, on bool) error {
	reply := make(chan error, 1)
	err, callErr := call(ctx, p, &PowerChange{On: on, reply: reply}, reply)
	if callErr != nil {
		return callErr
	}
	return err
}

// StartAdvertising publishes the table on first use and starts advertising.
// With the radio off it returns advertising.ErrRadioOff and starts once power
// returns.
func (p *Peripheral) StartAdvertising(ctx context.Context) error {
	reply := make(chan error, 1)
	err, callErr := call(ctx, p, &StartAdvertise{reply: reply}, reply)
	if callErr != nil {
		return callErr
	}
	return err
}

// StopAdvertising stops advertising. It is a no-op while idle.
func (p *Peripheral) StopAdvertising(ctx context.Context) error {
	reply := make(chan error, 1)
	err, callErr := call(ctx, p, &StopAdvertise{reply: reply}, reply)
	if callErr != nil {
		return callErr
	}
	return err
}

// Update caches value for key and notifies its subscribers.
func (p *Peripheral) Update(ctx context.Context, key attribute.Key, value []byte) ([]dispatch.Notification, error) {
	reply := make(chan updateResult, 1)
	r, err := call(ctx, p, &UpdateEvent{Key: key, Value: value, reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	return r.notes, r.err
}

// Value returns what a read of key at offset 0 would return.
func (p *Peripheral) Value(ctx context.Context, key attribute.Key) ([]byte, bool, error) {
	reply := make(chan valueResult, 1)
	r, err := call(ctx, p, &ValueEvent{Key: key, reply: reply}, reply)
	return r.value, r.ok, err
}

// Snapshot returns a copy of the table, subscriptions and advertising state.
func (p *Peripheral) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	return call(ctx, p, &SnapshotEvent{reply: reply}, reply)
}

func (p *Peripheral) handleRead(id uint64, req dispatch.ReadRequest) dispatch.Response {
	rsp := p.disp.Read(req)
	if err := p.ledger.Complete(id, rsp.Result.String()); err != nil {
		log.Errorf("read %s: %v", req.Key, err)
	}

	p.each(func(o Observer) { o.OnRead(req, rsp) })
	return rsp
}

func (p *Peripheral) handleWrite(ids []uint64, batch []dispatch.WriteRequest) dispatch.WriteOutcome {
	out := p.disp.Write(batch)
	for i, rsp := range out.Responses {
		if err := p.ledger.Complete(ids[i], rsp.Result.String()); err != nil {
			log.Errorf("write %s: %v", rsp.Key, err)
		}
	}

	p.each(func(o Observer) { o.OnWrite(batch, out) })
	p.deliver(out.Notifications)
	return out
}

func (p *Peripheral) handleSubscription(central subscription.CentralID, key attribute.Key, subscribe bool) error {
	if !subscribe {
		if p.subs.Unsubscribe(central, key) {
			log.Infof("%s unsubscribed from %s", central, key)
			p.each(func(o Observer) { o.OnSubscription(central, key, false) })
		}
		return nil
	}

	c, ok := p.table.LookupKey(key)
	if !ok {
		return errors.Wrap(attribute.ErrNotFound, key.String())
	}
	if !c.Definition.Properties.Has(catalog.PropNotify) {
		return errors.Wrap(ErrNotNotifiable, key.String())
	}

	if p.subs.Subscribe(central, key) {
		log.Infof("%s subscribed to %s", central, key)
		p.each(func(o Observer) { o.OnSubscription(central, key, true) })
	}
	return nil
}

func (p *Peripheral) handleDisconnect(central subscription.CentralID) int {
	var keys []attribute.Key
	for _, c := range p.table.Characteristics() {
		if p.subs.IsSubscribed(central, c.Key) {
			keys = append(keys, c.Key)
		}
	}

	n := p.subs.RemoveCentral(central)
	log.Infof("%s disconnected, dropped %d subscriptions", central, n)
	for _, key := range keys {
		k := key
		p.each(func(o Observer) { o.OnSubscription(central, k, false) })
	}
	return n
}

func (p *Peripheral) handlePower(on bool) error {
	err := p.adv.PowerChanged(on)
	p.emitAdvertising()
	return err
}

func (p *Peripheral) handleStart() error {
	err := p.adv.Start()
	p.emitAdvertising()
	return err
}

func (p *Peripheral) handleStop() error {
	err := p.adv.Stop()
	p.emitAdvertising()
	return err
}

func (p *Peripheral) handleUpdate(key attribute.Key, value []byte) ([]dispatch.Notification, error) {
	notes, err := p.disp.Update(key, value)
	if err != nil {
		return nil, err
	}
	p.each(func(o Observer) { o.OnUpdate(key, value) })
	p.deliver(notes)
	return notes, nil
}

// deliver hands notifications to the link in order. A failed delivery is
// logged; it never produces another response.
func (p *Peripheral) deliver(notes []dispatch.Notification) {
	for _, n := range notes {
		var err error
		if p.link != nil {
			err = p.link.Deliver(n)
		}
		if err != nil {
			log.Warnf("notify %s on %s failed: %v", n.Central, n.Key, err)
		}
		note := n
		p.each(func(o Observer) { o.OnNotify(note, err) })
	}
}

func (p *Peripheral) emitAdvertising() {
	status := p.adv.Status()
	p.each(func(o Observer) { o.OnAdvertising(status) })
}

func (p *Peripheral) each(fn func(Observer)) {
	p.observerMtx.Lock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.observerMtx.Unlock()

	for _, o := range observers {
		fn(o)
	}
}
