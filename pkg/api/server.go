//nolint:revive // api is a standard package name for API servers
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jwoglom/fakecadence/pkg/advertising"
	"github.com/jwoglom/fakecadence/pkg/attribute"
	"github.com/jwoglom/fakecadence/pkg/dispatch"
	"github.com/jwoglom/fakecadence/pkg/peripheral"
	"github.com/jwoglom/fakecadence/pkg/settings"
	"github.com/jwoglom/fakecadence/pkg/state"
	"github.com/jwoglom/fakecadence/pkg/subscription"
)

const (
	requestTimeout = 5 * time.Second
	eventQueue     = 256
)

// Peripheral is the part of *peripheral.Peripheral the API drives.
type Peripheral interface {
	Snapshot(ctx context.Context) (peripheral.Snapshot, error)
	StartAdvertising(ctx context.Context) error
	StopAdvertising(ctx context.Context) error
	Update(ctx context.Context, key attribute.Key, value []byte) ([]dispatch.Notification, error)
}

// Server provides a WebSocket and REST API for monitoring and controlling
// the Cadence emulator. It is also a peripheral.Observer that streams every
// BLE event to websocket clients.
type Server struct {
	peripheral.NopObserver

	mux             *http.ServeMux
	p               Peripheral
	caseState       *state.CaseState
	settingsManager *settings.Manager

	clients map[*websocket.Conn]bool
	mtx     sync.Mutex

	events    chan BleEvent
	done      chan struct{}
	closeOnce sync.Once
}

// BleEvent represents a BLE event sent to websocket clients
type BleEvent struct {
	Type           string `json:"type"`
	Central        string `json:"central,omitempty"`
	Characteristic string `json:"characteristic,omitempty"`
	Data           string `json:"data,omitempty"`
	Result         string `json:"result,omitempty"`
	Message        string `json:"message,omitempty"`
}

// State is the full emulator state sent on connect and on getState.
type State struct {
	Type       string              `json:"type"`
	Case       state.Snapshot      `json:"case"`
	Peripheral peripheral.Snapshot `json:"peripheral"`
}

// New creates a new API server
func New(p Peripheral, caseState *state.CaseState) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		p:         p,
		caseState: caseState,
		clients:   make(map[*websocket.Conn]bool),
		events:    make(chan BleEvent, eventQueue),
		done:      make(chan struct{}),
	}
	s.setupRoutes()
	go s.pump()
	return s
}

// SetSettingsManager sets the value script manager for this server
func (s *Server) SetSettingsManager(manager *settings.Manager) {
	s.settingsManager = manager
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start serves the API on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Debugf("HTTP server shutdown: %v", err)
		}
	}()

	log.Infof("Cadence emulator web API listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "HTTP server failed")
	}
	return nil
}

// Close disconnects every websocket client and stops the event pump.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mtx.Lock()
		defer s.mtx.Unlock()
		for c := range s.clients {
			if err := c.Close(); err != nil {
				log.Debugf("Error closing websocket: %v", err)
			}
			delete(s.clients, c)
		}
	})
}

// SendEvent queues a BLE event for connected websocket clients. Events are
// dropped when the queue is full.
func (s *Server) SendEvent(event BleEvent) {
	select {
	case s.events <- event:
	default:
		log.Warnf("websocket event queue full, dropping %s event", event.Type)
	}
}

func (s *Server) pump() {
	for {
		select {
		case ev := <-s.events:
			s.broadcast(ev)
		case <-s.done:
			return
		}
	}
}

func (s *Server) broadcast(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Errorf("Failed to marshal event: %v", err)
		return
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	for c := range s.clients {
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Errorf("Failed to send websocket message: %v", err)
		}
	}
}

// OnRead implements peripheral.Observer
func (s *Server) OnRead(req dispatch.ReadRequest, rsp dispatch.Response) {
	s.SendEvent(BleEvent{
		Type:           "read",
		Central:        string(req.Central),
		Characteristic: req.Key.String(),
		Data:           hex.EncodeToString(rsp.Value),
		Result:         rsp.Result.String(),
	})
}

// OnWrite implements peripheral.Observer
func (s *Server) OnWrite(batch []dispatch.WriteRequest, out dispatch.WriteOutcome) {
	for i, req := range batch {
		s.SendEvent(BleEvent{
			Type:           "write",
			Central:        string(req.Central),
			Characteristic: req.Key.String(),
			Data:           hex.EncodeToString(req.Value),
			Result:         out.Responses[i].Result.String(),
		})
	}
}

// OnNotify implements peripheral.Observer
func (s *Server) OnNotify(n dispatch.Notification, err error) {
	ev := BleEvent{
		Type:           "notify",
		Central:        string(n.Central),
		Characteristic: n.Key.String(),
		Data:           hex.EncodeToString(n.Value),
	}
	if err != nil {
		ev.Message = err.Error()
	}
	s.SendEvent(ev)
}

// OnSubscription implements peripheral.Observer
func (s *Server) OnSubscription(central subscription.CentralID, key attribute.Key, subscribed bool) {
	eventType := "unsubscribe"
	if subscribed {
		eventType = "subscribe"
	}
	s.SendEvent(BleEvent{
		Type:           eventType,
		Central:        string(central),
		Characteristic: key.String(),
	})
}

// OnAdvertising implements peripheral.Observer
func (s *Server) OnAdvertising(status advertising.Status) {
	s.SendEvent(BleEvent{
		Type:    "advertising",
		Message: status.State.String(),
	})
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if _, err := fmt.Fprint(w, helpText); err != nil {
			log.Warnf("Failed to write response: %v", err)
		}
	})
	s.mux.HandleFunc("/ws", s.handleWebsocket)
	s.mux.HandleFunc("/api/state", s.handleStateAPI)
	s.mux.HandleFunc("/api/attributes", s.handleAttributesAPI)
	s.mux.HandleFunc("/api/attributes/", s.handleAttributesAPI)
	s.mux.HandleFunc("/api/case", s.handleCaseAPI)
	s.mux.HandleFunc("/api/messages", s.handleMessagesAPI)
	s.mux.HandleFunc("/api/advertising", s.handleAdvertisingAPI)
	s.mux.HandleFunc("/api/settings", s.handleSettingsAPI)
	s.mux.HandleFunc("/api/settings/", s.handleSettingsAPI)
}

const helpText = `Cadence Emulator API - Connect via WebSocket at /ws

State API:
  GET    /api/state
  GET    /api/attributes
  GET    /api/attributes/{name}
  PUT    /api/attributes/{name}
  GET    /api/case
  POST   /api/case
  GET    /api/messages
  DELETE /api/messages
  GET    /api/advertising
  POST   /api/advertising

Value script API:
  GET    /api/settings
  GET    /api/settings/{name}
  PUT    /api/settings/{name}
  DELETE /api/settings/{name}
  POST   /api/settings/{name}/reset
`

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	log.Infof("WebSocket connection from: %s", r.RemoteAddr)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	s.mtx.Lock()
	s.clients[ws] = true
	s.mtx.Unlock()

	// Send initial state
	s.sendState(ws)

	// Listen for messages
	s.reader(ws)
}

func (s *Server) currentState(ctx context.Context) (State, error) {
	snap, err := s.p.Snapshot(ctx)
	if err != nil {
		return State{}, err
	}
	return State{
		Type:       "state",
		Case:       s.caseState.Snapshot(),
		Peripheral: snap,
	}, nil
}

func (s *Server) sendState(conn *websocket.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	st, err := s.currentState(ctx)
	if err != nil {
		log.Errorf("Failed to read state: %v", err)
		return
	}
	data, err := json.Marshal(st)
	if err != nil {
		log.Errorf("Failed to marshal state: %v", err)
		return
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	if !s.clients[conn] {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Errorf("Failed to send state: %v", err)
	}
}

func (s *Server) reader(conn *websocket.Conn) {
	defer func() {
		s.mtx.Lock()
		delete(s.clients, conn)
		s.mtx.Unlock()
		if err := conn.Close(); err != nil {
			log.Debugf("Error closing websocket: %v", err)
		}
	}()

	for {
		_, p, err := conn.ReadMessage()
		if err != nil {
			log.Infof("WebSocket read error: %v", err)
			return
		}
		log.Debugf("Received WebSocket message: %s", string(p))
		s.handleCommand(conn, p)
	}
}

// command is a websocket request from a client.
type command struct {
	Command        string `json:"command"`
	Open           *bool  `json:"open,omitempty"`
	Detected       *bool  `json:"detected,omitempty"`
	Enabled        *bool  `json:"enabled,omitempty"`
	Characteristic string `json:"characteristic,omitempty"`
	Data           string `json:"data,omitempty"`
}

func (s *Server) handleCommand(conn *websocket.Conn, data []byte) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		log.Errorf("Failed to parse command: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var err error
	switch cmd.Command {
	case "getState":
		s.sendState(conn)
		return
	case "setCase":
		if cmd.Open == nil {
			err = errors.New("setCase requires 'open'")
			break
		}
		err = s.caseState.SetOpen(*cmd.Open)
	case "toggleCase":
		_, err = s.caseState.Toggle()
	case "setDetection":
		if cmd.Detected == nil {
			err = errors.New("setDetection requires 'detected'")
			break
		}
		err = s.caseState.SetDetected(*cmd.Detected)
	case "update":
		err = s.updateCharacteristic(ctx, cmd.Characteristic, cmd.Data)
	case "clear":
		s.caseState.ClearMessages()
	case "advertise":
		if cmd.Enabled != nil && !*cmd.Enabled {
			err = s.p.StopAdvertising(ctx)
		} else {
			err = s.p.StartAdvertising(ctx)
		}
	default:
		err = errors.Errorf("unknown command: %s", cmd.Command)
	}

	if err != nil {
		log.Errorf("Command %s failed: %v", cmd.Command, err)
		s.SendEvent(BleEvent{Type: "error", Message: fmt.Sprintf("%s: %v", cmd.Command, err)})
		return
	}
	s.sendState(conn)
}

func (s *Server) updateCharacteristic(ctx context.Context, name, dataHex string) error {
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return errors.Wrap(err, "invalid hex data")
	}
	key, err := s.resolve(ctx, name)
	if err != nil {
		return err
	}
	_, err = s.p.Update(ctx, key, data)
	return err
}

// resolve finds the key of a characteristic by catalog name.
func (s *Server) resolve(ctx context.Context, name string) (attribute.Key, error) {
	snap, err := s.p.Snapshot(ctx)
	if err != nil {
		return attribute.Key{}, err
	}
	c, ok := snap.Find(name)
	if !ok {
		return attribute.Key{}, errors.Wrapf(attribute.ErrNotFound, "characteristic %s", name)
	}
	return c.Key, nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}
