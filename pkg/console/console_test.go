package console

import (
	"context"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	expect "github.com/google/goexpect"

	"github.com/jwoglom/fakecadence/pkg/attribute"
	"github.com/jwoglom/fakecadence/pkg/dispatch"
	"github.com/jwoglom/fakecadence/pkg/peripheral"
	"github.com/jwoglom/fakecadence/pkg/state"
)

const timeout = 2 * time.Second

type fakePeripheral struct {
	mutex       sync.Mutex
	advertising bool
	updates     map[attribute.Key][]byte
}

func (f *fakePeripheral) Snapshot(context.Context) (peripheral.Snapshot, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	st := "Idle"
	if f.advertising {
		st = "Advertising"
	}
	return peripheral.Snapshot{
		Advertising: peripheral.AdvertisingView{State: st, Name: "Cadence"},
		Characteristics: []peripheral.CharacteristicView{
			{Key: state.CaseOpenClosedKey, Name: "caseOpenClosed", Properties: "Read|Notify", Value: "00"},
			{Key: state.PlacedRemovedKey, Name: "blisterPackPlacedRemoved", Properties: "Read|Write|Notify"},
		},
	}, nil
}

func (f *fakePeripheral) StartAdvertising(context.Context) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.advertising = true
	return nil
}

func (f *fakePeripheral) StopAdvertising(context.Context) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.advertising = false
	return nil
}

func (f *fakePeripheral) Update(_ context.Context, key attribute.Key, value []byte) ([]dispatch.Notification, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.updates == nil {
		f.updates = make(map[attribute.Key][]byte)
	}
	f.updates[key] = value
	return []dispatch.Notification{{Central: "phone", Key: key, Value: value}}, nil
}

func (f *fakePeripheral) isAdvertising() bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.advertising
}

func spawn(t *testing.T, p Peripheral, cs *state.CaseState) *expect.GExpect {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	c := New(p, cs, inR, outW)
	done := make(chan error, 1)
	go func() {
		err := c.Run(context.Background())
		outW.Close()
		done <- err
	}()

	e, _, err := expect.SpawnGeneric(&expect.GenOptions{
		In:  inW,
		Out: outR,
		Wait: func() error {
			return <-done
		},
		Close: func() error {
			return inW.Close()
		},
		Check: func() bool { return true },
	}, timeout, expect.CheckDuration(50*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })

	if _, _, err := e.Expect(regexp.MustCompile(regexp.QuoteMeta(Prompt)), timeout); err != nil {
		t.Fatalf("No prompt: %v", err)
	}
	return e
}

func run(t *testing.T, e *expect.GExpect, line, want string) {
	t.Helper()
	if err := e.Send(line + "\n"); err != nil {
		t.Fatal(err)
	}
	re := regexp.MustCompile(`(?s)` + want + `.*?` + regexp.QuoteMeta(Prompt))
	if _, _, err := e.Expect(re, timeout); err != nil {
		t.Fatalf("%q: expected %q: %v", line, want, err)
	}
}

func TestConsole_CaseCommands(t *testing.T) {
	cs := state.NewCaseState()
	e := spawn(t, &fakePeripheral{}, cs)

	run(t, e, "toggle", `case open`)
	if !cs.IsOpen() {
		t.Error("Expected toggle to open the case")
	}

	run(t, e, "close", "")
	run(t, e, "detect on", "")
	run(t, e, "status", `case: closed \(opened 1 times\)\s+blister pack: detected`)
	run(t, e, "detect maybe", `usage: detect on\|off`)
}

func TestConsole_AdvertiseAndSet(t *testing.T) {
	p := &fakePeripheral{}
	e := spawn(t, p, state.NewCaseState())

	run(t, e, "advertise start", "")
	if !p.isAdvertising() {
		t.Error("Expected advertising to start")
	}
	run(t, e, "status", `advertising: Advertising as "Cadence"`)

	run(t, e, "set caseOpenClosed 01", `caseOpenClosed set, notified 1`)
	run(t, e, "set nope 01", `error: characteristic nope: attribute not found`)
	run(t, e, "set caseOpenClosed zz", `error: invalid hex data`)
	run(t, e, "bogus", `unknown command "bogus"`)
	run(t, e, "help", `advertise start\|stop`)
	if err := e.Send("quit\n"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.Expect(regexp.MustCompile(`bye`), timeout); err != nil {
		t.Fatalf("Expected bye: %v", err)
	}
}

func TestConsole_Messages(t *testing.T) {
	cs := state.NewCaseState()
	if _, err := cs.AppendMessage([]byte{0x00, 'H', 0x00, 'i'}); err != nil {
		t.Fatal(err)
	}
	e := spawn(t, &fakePeripheral{}, cs)

	run(t, e, "messages", `1: Hi\s+text: Hi`)
	run(t, e, "clear", "")
	if len(cs.GetMessages()) != 0 {
		t.Error("Expected messages to be cleared")
	}
}

func TestExec_EmptyLine(t *testing.T) {
	c := New(&fakePeripheral{}, state.NewCaseState(), nil, io.Discard)
	if err := c.Exec(context.Background(), "   "); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := c.Exec(context.Background(), "quit"); err != errQuit {
		t.Errorf("Expected errQuit, got %v", err)
	}
}
