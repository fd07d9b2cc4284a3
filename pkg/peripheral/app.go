package peripheral

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/jwoglom/fakecadence/pkg/attribute"
	"github.com/jwoglom/fakecadence/pkg/dispatch"
	"github.com/jwoglom/fakecadence/pkg/protocol"
	"github.com/jwoglom/fakecadence/pkg/state"
)

// StateNotifier turns application state changes into characteristic
// updates. It implements state.EventNotifier.
type StateNotifier struct {
	p       *Peripheral
	timeout time.Duration
}

// NewStateNotifier creates a notifier that gives each update timeout to
// reach the loop.
func NewStateNotifier(p *Peripheral, timeout time.Duration) *StateNotifier {
	return &StateNotifier{p: p, timeout: timeout}
}

// NotifyCaseChanged pushes the case open/closed byte
func (n *StateNotifier) NotifyCaseChanged(open bool) error {
	return n.push(state.CaseOpenClosedKey, protocol.EncodeFlag(open))
}

// NotifyBlisterDetected pushes the blister pack detection byte
func (n *StateNotifier) NotifyBlisterDetected(detected bool) error {
	return n.push(state.DetectionKey, protocol.EncodeFlag(detected))
}

// NotifyTimeChanged pushes the current time. Peripherals without the
// Current Time service ignore it.
func (n *StateNotifier) NotifyTimeChanged(t time.Time) error {
	err := n.push(state.CurrentTimeKey, protocol.EncodeCurrentTime(t, 0))
	if errors.Is(err, attribute.ErrNotFound) {
		return nil
	}
	return err
}

func (n *StateNotifier) push(key attribute.Key, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	_, err := n.p.Update(ctx, key, value)
	return err
}

// StateObserver feeds successful writes from centrals into the application
// state.
type StateObserver struct {
	NopObserver
	State *state.CaseState
}

// OnWrite records every request of an applied batch.
func (o StateObserver) OnWrite(batch []dispatch.WriteRequest, out dispatch.WriteOutcome) {
	if !out.OK() {
		return
	}
	for _, req := range batch {
		o.State.HandleWrite(req.Key, req.Value)
	}
}
