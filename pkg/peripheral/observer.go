package peripheral

import (
	"github.com/jwoglom/fakecadence/pkg/advertising"
	"github.com/jwoglom/fakecadence/pkg/attribute"
	"github.com/jwoglom/fakecadence/pkg/dispatch"
	"github.com/jwoglom/fakecadence/pkg/subscription"
)

// Observer is told about everything the loop does. Methods run on the loop
// goroutine: they must return quickly and must not call the Peripheral.
type Observer interface {
	OnRead(req dispatch.ReadRequest, rsp dispatch.Response)
	OnWrite(batch []dispatch.WriteRequest, out dispatch.WriteOutcome)
	OnUpdate(key attribute.Key, value []byte)
	OnNotify(n dispatch.Notification, err error)
	OnSubscription(central subscription.CentralID, key attribute.Key, subscribed bool)
	OnAdvertising(status advertising.Status)
}

// NopObserver implements Observer with no-ops, for embedding.
type NopObserver struct{}

func (NopObserver) OnRead(dispatch.ReadRequest, dispatch.Response)             {}
func (NopObserver) OnWrite([]dispatch.WriteRequest, dispatch.WriteOutcome)     {}
func (NopObserver) OnUpdate(attribute.Key, []byte)                             {}
func (NopObserver) OnNotify(dispatch.Notification, error)                      {}
func (NopObserver) OnSubscription(subscription.CentralID, attribute.Key, bool) {}
func (NopObserver) OnAdvertising(advertising.Status)                           {}
