package peripheral

import (
	"github.com/jwoglom/fakecadence/pkg/attribute"
	"github.com/jwoglom/fakecadence/pkg/dispatch"
	"github.com/jwoglom/fakecadence/pkg/subscription"
)

// event is one unit of work for the loop. Every event carries a buffered
// reply channel so the loop never blocks on a caller that gave up.
type event interface {
	apply(p *Peripheral)
}

// ReadEvent asks the loop to resolve one read request.
type ReadEvent struct {
	Request dispatch.ReadRequest
	id      uint64
	reply   chan dispatch.Response
}

// WriteEvent asks the loop to resolve a batch of writes atomically.
type WriteEvent struct {
	Batch []dispatch.WriteRequest
	ids   []uint64
	reply chan dispatch.WriteOutcome
}

// SubscriptionEvent subscribes or unsubscribes a central.
type SubscriptionEvent struct {
	Central   subscription.CentralID
	Key       attribute.Key
	Subscribe bool
	reply     chan error
}

// DisconnectEvent drops every subscription of a central.
type DisconnectEvent struct {
	Central subscription.CentralID
	reply   chan int
}

// PowerChange reports a radio power transition.
type PowerChange struct {
	On    bool
	reply chan error
}

// StartAdvertise asks the advertising controller to start.
type StartAdvertise struct {
	reply chan error
}

// StopAdvertise asks the advertising controller to stop.
type StopAdvertise struct {
	reply chan error
}

// UpdateEvent is an application push: cache the value and notify.
type UpdateEvent struct {
	Key   attribute.Key
	Value []byte
	reply chan updateResult
}

type updateResult struct {
	notes []dispatch.Notification
	err   error
}

// ValueEvent reads the current value of a characteristic for display.
type ValueEvent struct {
	Key   attribute.Key
	reply chan valueResult
}

type valueResult struct {
	value []byte
	ok    bool
}

// SnapshotEvent copies the whole peripheral state.
type SnapshotEvent struct {
	reply chan Snapshot
}

func (e *ReadEvent) apply(p *Peripheral) {
	e.reply <- p.handleRead(e.id, e.Request)
}

func (e *WriteEvent) apply(p *Peripheral) {
	e.reply <- p.handleWrite(e.ids, e.Batch)
}

func (e *SubscriptionEvent) apply(p *Peripheral) {
	e.reply <- p.handleSubscription(e.Central, e.Key, e.Subscribe)
}

func (e *DisconnectEvent) apply(p *Peripheral) {
	e.reply <- p.handleDisconnect(e.Central)
}

func (e *PowerChange) apply(p *Peripheral) {
	e.reply <- p.handlePower(e.On)
}

func (e *StartAdvertise) apply(p *Peripheral) {
	e.reply <- p.handleStart()
}

func (e *StopAdvertise) apply(p *Peripheral) {
	e.reply <- p.handleStop()
}

func (e *UpdateEvent) apply(p *Peripheral) {
	notes, err := p.handleUpdate(e.Key, e.Value)
	e.reply <- updateResult{notes: notes, err: err}
}

func (e *ValueEvent) apply(p *Peripheral) {
	v, ok := p.disp.Current(e.Key)
	e.reply <- valueResult{value: v, ok: ok}
}

func (e *SnapshotEvent) apply(p *Peripheral) {
	e.reply <- p.snapshot()
}
