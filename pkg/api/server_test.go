package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jwoglom/fakecadence/pkg/bluetooth"
	"github.com/jwoglom/fakecadence/pkg/catalog"
	"github.com/jwoglom/fakecadence/pkg/peripheral"
	"github.com/jwoglom/fakecadence/pkg/protocol"
	"github.com/jwoglom/fakecadence/pkg/settings"
	"github.com/jwoglom/fakecadence/pkg/state"
)

type harness struct {
	srv   *Server
	http  *httptest.Server
	link  *bluetooth.Loopback
	state *state.CaseState
	ctx   context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	link := bluetooth.NewLoopback()
	cs := state.NewCaseState()
	sm := settings.NewManager()

	p, err := peripheral.New(peripheral.Config{
		Name:     "Cadence",
		Kinds:    []catalog.ServiceKind{catalog.CadenceCase, catalog.CadenceBlisterPack},
		Source:   cs,
		Override: sm,
		Radio:    link,
		Link:     link,
	})
	if err != nil {
		t.Fatal(err)
	}
	link.SetHandler(p)
	p.AddObserver(peripheral.StateObserver{State: cs})
	cs.SetEventNotifier(peripheral.NewStateNotifier(p, time.Second))

	srv := New(p, cs)
	srv.SetSettingsManager(sm)
	p.AddObserver(srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
		cancel()
		<-done
	})

	tctx, tcancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(tcancel)

	if err := link.SetPower(tctx, true); err != nil {
		t.Fatal(err)
	}
	if err := p.StartAdvertising(tctx); err != nil {
		t.Fatal(err)
	}
	return &harness{srv: srv, http: ts, link: link, state: cs, ctx: tctx}
}

func (h *harness) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.http.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	rsp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rsp.Body.Close() })
	return rsp
}

func decode(t *testing.T, rsp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rsp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestStateAPI(t *testing.T) {
	h := newHarness(t)

	rsp := h.do(t, http.MethodGet, "/api/state", "")
	if rsp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rsp.StatusCode)
	}

	var st State
	decode(t, rsp, &st)
	if st.Case.Open {
		t.Error("Expected case to start closed")
	}
	if st.Peripheral.Advertising.State != "Advertising" {
		t.Errorf("Expected advertising, got %q", st.Peripheral.Advertising.State)
	}
	if _, ok := st.Peripheral.Find("caseOpenClosed"); !ok {
		t.Error("Expected caseOpenClosed in snapshot")
	}
}

func TestCaseAPI_NotifiesSubscribers(t *testing.T) {
	h := newHarness(t)

	central, err := h.link.Connect("phone")
	if err != nil {
		t.Fatal(err)
	}
	if err := central.Subscribe(h.ctx, state.CaseOpenClosedKey); err != nil {
		t.Fatal(err)
	}

	rsp := h.do(t, http.MethodPost, "/api/case", `{"open": true}`)
	if rsp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rsp.StatusCode)
	}
	var snap state.Snapshot
	decode(t, rsp, &snap)
	if !snap.Open || snap.OpenCount != 1 {
		t.Errorf("Unexpected case state %+v", snap)
	}

	select {
	case n := <-central.Notifications():
		if open, err := protocol.DecodeFlag(n.Value); err != nil || !open {
			t.Errorf("Expected open notification, got %x (%v)", n.Value, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for notification")
	}
}

func TestAttributesAPI(t *testing.T) {
	h := newHarness(t)

	rsp := h.do(t, http.MethodGet, "/api/attributes/blisterPackPlacedRemoved", "")
	if rsp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rsp.StatusCode)
	}
	var view peripheral.CharacteristicView
	decode(t, rsp, &view)
	if view.Name != "blisterPackPlacedRemoved" {
		t.Errorf("Unexpected characteristic %+v", view)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown characteristic", http.MethodGet, "/api/attributes/nope", "", http.StatusNotFound},
		{"update unknown", http.MethodPut, "/api/attributes/nope", `{"value":"01"}`, http.StatusNotFound},
		{"bad hex", http.MethodPut, "/api/attributes/caseOpenClosed", `{"value":"zz"}`, http.StatusBadRequest},
		{"bad json", http.MethodPut, "/api/attributes/caseOpenClosed", `{`, http.StatusBadRequest},
		{"update", http.MethodPut, "/api/attributes/blisterPackPlacedRemoved", `{"value":"0041"}`, http.StatusOK},
		{"method", http.MethodPost, "/api/attributes", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rsp := h.do(t, tt.method, tt.path, tt.body)
			if rsp.StatusCode != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, rsp.StatusCode)
			}
		})
	}
}

func TestMessagesAPI(t *testing.T) {
	h := newHarness(t)

	central, err := h.link.Connect("phone")
	if err != nil {
		t.Fatal(err)
	}
	text, err := protocol.EncodeText("Take 1")
	if err != nil {
		t.Fatal(err)
	}
	if rsp, err := central.Write(h.ctx, state.PlacedRemovedKey, text); err != nil || !rsp.Result.OK() {
		t.Fatalf("Write failed: %v %v", rsp.Result, err)
	}

	rsp := h.do(t, http.MethodGet, "/api/messages", "")
	var body struct {
		Messages []string `json:"messages"`
		Text     string   `json:"text"`
	}
	decode(t, rsp, &body)
	if body.Text != "Take 1" {
		t.Errorf("Expected message text, got %+v", body)
	}

	rsp = h.do(t, http.MethodDelete, "/api/messages", "")
	if rsp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rsp.StatusCode)
	}
	if len(h.state.GetMessages()) != 0 {
		t.Error("Expected messages to be cleared")
	}
}

func TestAdvertisingAPI(t *testing.T) {
	h := newHarness(t)

	rsp := h.do(t, http.MethodPost, "/api/advertising", `{"advertising": false}`)
	if rsp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rsp.StatusCode)
	}
	if _, _, ok := h.link.Advertisement(); ok {
		t.Error("Expected advertising to stop")
	}

	rsp = h.do(t, http.MethodGet, "/api/advertising", "")
	var view peripheral.AdvertisingView
	decode(t, rsp, &view)
	if view.State != "Idle" {
		t.Errorf("Expected Idle, got %q", view.State)
	}

	h.do(t, http.MethodPost, "/api/advertising", `{"advertising": true}`)
	if _, _, ok := h.link.Advertisement(); !ok {
		t.Error("Expected advertising to restart")
	}
}

func TestSettingsAPI(t *testing.T) {
	h := newHarness(t)

	central, err := h.link.Connect("phone")
	if err != nil {
		t.Fatal(err)
	}

	rsp := h.do(t, http.MethodPut, "/api/settings/caseOpenClosed", `{"mode":"constant","value":"01"}`)
	if rsp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rsp.StatusCode)
	}

	read, err := central.Read(h.ctx, state.CaseOpenClosedKey, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(read.Value, []byte{0x01}) {
		t.Errorf("Expected scripted value 01, got %x", read.Value)
	}

	rsp = h.do(t, http.MethodGet, "/api/settings", "")
	var all map[string]*settings.ValueScript
	decode(t, rsp, &all)
	if all["caseOpenClosed"] == nil || all["caseOpenClosed"].Mode != settings.ModeConstant {
		t.Errorf("Expected caseOpenClosed script, got %+v", all)
	}

	if rsp := h.do(t, http.MethodPost, "/api/settings/caseOpenClosed/reset", ""); rsp.StatusCode != http.StatusOK {
		t.Errorf("Expected reset to succeed, got %d", rsp.StatusCode)
	}
	if rsp := h.do(t, http.MethodDelete, "/api/settings/caseOpenClosed", ""); rsp.StatusCode != http.StatusOK {
		t.Errorf("Expected delete to succeed, got %d", rsp.StatusCode)
	}

	read, err = central.Read(h.ctx, state.CaseOpenClosedKey, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(read.Value, []byte{0x00}) {
		t.Errorf("Expected case state value 00, got %x", read.Value)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown script", http.MethodGet, "/api/settings/caseOpenClosed", "", http.StatusNotFound},
		{"unknown characteristic", http.MethodPut, "/api/settings/nope", `{"mode":"constant","value":"01"}`, http.StatusBadRequest},
		{"bad mode", http.MethodPut, "/api/settings/caseOpenClosed", `{"mode":"random"}`, http.StatusBadRequest},
		{"reset unknown", http.MethodPost, "/api/settings/caseOpenClosed/reset", "", http.StatusNotFound},
		{"invalid post", http.MethodPost, "/api/settings/caseOpenClosed", "", http.StatusNotFound},
		{"method", http.MethodPatch, "/api/settings", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rsp := h.do(t, tt.method, tt.path, tt.body)
			if rsp.StatusCode != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, rsp.StatusCode)
			}
		})
	}
}

func TestWebsocket_StreamsEvents(t *testing.T) {
	h := newHarness(t)

	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}

	var initial State
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatal(err)
	}
	if initial.Type != "state" {
		t.Fatalf("Expected initial state, got %q", initial.Type)
	}

	central, err := h.link.Connect("phone")
	if err != nil {
		t.Fatal(err)
	}
	if err := central.Subscribe(h.ctx, state.CaseOpenClosedKey); err != nil {
		t.Fatal(err)
	}

	if err := conn.WriteJSON(map[string]string{"command": "toggleCase"}); err != nil {
		t.Fatal(err)
	}

	seen := map[string]bool{}
	for !seen["notify"] || !seen["subscribe"] {
		var ev map[string]interface{}
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("Read failed with %v seen: %v", seen, err)
		}
		kind, _ := ev["type"].(string)
		seen[kind] = true
		if kind == "notify" && ev["central"] != "phone" {
			t.Errorf("Expected notify for phone, got %v", ev)
		}
	}
	if !h.state.IsOpen() {
		t.Error("Expected toggleCase to open the case")
	}
}

func TestWebsocket_UnknownCommand(t *testing.T) {
	h := newHarness(t)

	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}

	var initial State
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(map[string]string{"command": "selfDestruct"}); err != nil {
		t.Fatal(err)
	}

	for {
		var ev BleEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatal(err)
		}
		if ev.Type == "error" {
			if !strings.Contains(ev.Message, "unknown command") {
				t.Errorf("Unexpected error message %q", ev.Message)
			}
			return
		}
	}
}
