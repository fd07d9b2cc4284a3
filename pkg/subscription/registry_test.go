package subscription

import (
	"reflect"
	"testing"

	"github.com/jwoglom/fakecadence/pkg/attribute"
	"github.com/jwoglom/fakecadence/pkg/catalog"
)

var (
	caseKey     = attribute.NewKey(catalog.CadenceCaseServiceUUID, catalog.CaseOpenClosedCharUUID)
	detectedKey = attribute.NewKey(catalog.CadenceBlisterPackServiceUUID, catalog.BlisterPackDetectionCharUUID)
)

func TestRegistry_SubscribeNotify(t *testing.T) {
	r := NewRegistry()

	if !r.Subscribe("x", caseKey) {
		t.Error("First subscribe should report a new pair")
	}
	if r.Subscribe("x", caseKey) {
		t.Error("Second subscribe should be idempotent")
	}
	r.Subscribe("a", caseKey)
	r.Subscribe("y", detectedKey)

	got := r.Notify(caseKey, []byte{0x01})
	if !reflect.DeepEqual(got, []CentralID{"a", "x"}) {
		t.Errorf("Expected [a x], got %v", got)
	}
	if r.Len() != 3 {
		t.Errorf("Expected 3 pairs, got %d", r.Len())
	}
}

func TestRegistry_Unsubscribe(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("x", caseKey)
	r.Subscribe("y", caseKey)

	if !r.Unsubscribe("x", caseKey) {
		t.Error("Unsubscribe of existing pair should report true")
	}
	if r.Unsubscribe("x", caseKey) {
		t.Error("Unsubscribe should be idempotent")
	}
	if r.Unsubscribe("z", detectedKey) {
		t.Error("Unsubscribe of unknown pair should report false")
	}

	got := r.Notify(caseKey, nil)
	if !reflect.DeepEqual(got, []CentralID{"y"}) {
		t.Errorf("Expected [y], got %v", got)
	}
	if r.IsSubscribed("x", caseKey) {
		t.Error("x should no longer be subscribed")
	}
}

func TestRegistry_NotifyWithoutSubscribers(t *testing.T) {
	r := NewRegistry()
	if got := r.Notify(caseKey, []byte{0x01}); len(got) != 0 {
		t.Errorf("Expected no recipients, got %v", got)
	}

	r.Subscribe("x", caseKey)
	r.Unsubscribe("x", caseKey)
	if got := r.Notify(caseKey, []byte{0x01}); len(got) != 0 {
		t.Errorf("Expected no recipients after unsubscribe, got %v", got)
	}
}

func TestRegistry_RemoveCentral(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("x", caseKey)
	r.Subscribe("x", detectedKey)
	r.Subscribe("y", caseKey)

	if n := r.RemoveCentral("x"); n != 2 {
		t.Errorf("Expected 2 removed, got %d", n)
	}
	if n := r.RemoveCentral("x"); n != 0 {
		t.Errorf("Expected 0 removed on second call, got %d", n)
	}
	if r.IsSubscribed("x", detectedKey) {
		t.Error("x should have no subscriptions left")
	}
	if !r.IsSubscribed("y", caseKey) {
		t.Error("y must be unaffected")
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 pair left, got %d", r.Len())
	}
}
