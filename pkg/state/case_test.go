package state

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jwoglom/fakecadence/pkg/attribute"
	"github.com/jwoglom/fakecadence/pkg/catalog"
	"github.com/jwoglom/fakecadence/pkg/protocol"
)

type recordingNotifier struct {
	mutex    sync.Mutex
	cases    []bool
	detected []bool
	times    int
}

func (r *recordingNotifier) NotifyCaseChanged(open bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.cases = append(r.cases, open)
	return nil
}

func (r *recordingNotifier) NotifyBlisterDetected(detected bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.detected = append(r.detected, detected)
	return nil
}

func (r *recordingNotifier) NotifyTimeChanged(time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.times++
	return nil
}

func (r *recordingNotifier) caseCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.cases)
}

func TestCaseState_OpenClose(t *testing.T) {
	c := NewCaseState()
	n := &recordingNotifier{}
	c.SetEventNotifier(n)

	if c.IsOpen() {
		t.Fatal("Case should start closed")
	}
	if err := c.SetOpen(false); err != nil {
		t.Fatal(err)
	}
	if len(n.cases) != 0 {
		t.Error("Unchanged state should not notify")
	}

	open, err := c.Toggle()
	if err != nil || !open || !c.IsOpen() {
		t.Fatalf("Expected open after toggle, got %v %v", open, err)
	}
	if _, err := c.Toggle(); err != nil {
		t.Fatal(err)
	}

	if len(n.cases) != 2 || !n.cases[0] || n.cases[1] {
		t.Errorf("Expected [true false] notifications, got %v", n.cases)
	}
	if c.Snapshot().OpenCount != 1 {
		t.Errorf("Expected open count 1, got %d", c.Snapshot().OpenCount)
	}
}

func TestCaseState_Detection(t *testing.T) {
	c := NewCaseState()
	n := &recordingNotifier{}
	c.SetEventNotifier(n)

	if err := c.SetDetected(true); err != nil {
		t.Fatal(err)
	}
	if err := c.SetDetected(true); err != nil {
		t.Fatal(err)
	}
	if !c.IsDetected() || len(n.detected) != 1 {
		t.Errorf("Expected one detection notification, got %v", n.detected)
	}
}

func TestCaseState_Value(t *testing.T) {
	c := NewCaseState()
	fixed := time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	if v, ok := c.Value(CaseOpenClosedKey); !ok || !bytes.Equal(v, []byte{0x00}) {
		t.Errorf("Expected closed case 0x00, got %x", v)
	}
	c.SetOpen(true)
	if v, _ := c.Value(CaseOpenClosedKey); !bytes.Equal(v, []byte{0x01}) {
		t.Errorf("Expected open case 0x01, got %x", v)
	}
	if v, ok := c.Value(DetectionKey); !ok || !bytes.Equal(v, []byte{0x00}) {
		t.Errorf("Expected detection 0x00, got %x", v)
	}
	if v, ok := c.Value(CurrentTimeKey); !ok || !bytes.Equal(v, protocol.EncodeCurrentTime(fixed, 0)) {
		t.Errorf("Unexpected current time %x", v)
	}
	if _, ok := c.Value(PlacedRemovedKey); ok {
		t.Error("Placed/removed is not computed by the application")
	}
	other := attribute.NewKey(catalog.CadenceBlisterPackServiceUUID, catalog.CaseOpenClosedCharUUID)
	if _, ok := c.Value(other); ok {
		t.Error("Characteristic under the wrong service should not resolve")
	}
}

func TestCaseState_Messages(t *testing.T) {
	c := NewCaseState()

	for _, s := range []string{"hello ", "world"} {
		data, err := protocol.EncodeText(s)
		if err != nil {
			t.Fatal(err)
		}
		c.HandleWrite(PlacedRemovedKey, data)
	}
	c.HandleWrite(DetectionKey, []byte{0x00, 'x'})
	c.HandleWrite(PlacedRemovedKey, []byte{0x01})

	if got := c.GetMessages(); len(got) != 2 {
		t.Fatalf("Expected 2 messages, got %v", got)
	}
	if c.Text() != "hello world" {
		t.Errorf("Expected joined text, got %q", c.Text())
	}

	c.ClearMessages()
	if len(c.GetMessages()) != 0 || c.Snapshot().Text != "" {
		t.Error("Expected empty log after clear")
	}
}

func TestSimulator_Step(t *testing.T) {
	c := NewCaseState()
	n := &recordingNotifier{}
	c.SetEventNotifier(n)

	sim := NewSimulator(c, time.Hour)
	sim.SetEventNotifier(n)
	sim.Step()
	sim.Step()

	if sim.Steps() != 2 {
		t.Errorf("Expected 2 steps, got %d", sim.Steps())
	}
	if c.IsOpen() {
		t.Error("Expected case to be closed after two toggles")
	}
	if n.caseCount() != 2 {
		t.Errorf("Expected 2 case changes, got %d", n.caseCount())
	}
}

func TestSimulator_Run(t *testing.T) {
	c := NewCaseState()
	n := &recordingNotifier{}
	c.SetEventNotifier(n)

	sim := NewSimulator(c, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sim.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for n.caseCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if n.caseCount() < 2 {
		t.Fatalf("Expected at least 2 case changes, got %d", n.caseCount())
	}
}
