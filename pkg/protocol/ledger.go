package protocol

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrUnknownRequest is returned when completing a request that is not open,
// including one that was already completed.
var ErrUnknownRequest = errors.New("no open request")

// RequestKind is the ATT operation a request carries.
type RequestKind string

const (
	KindRead  RequestKind = "read"
	KindWrite RequestKind = "write"
)

// PendingRequest is an inbound request that has not been answered yet.
type PendingRequest struct {
	ID        uint64
	Kind      RequestKind
	Central   string
	Target    string
	Timestamp time.Time
}

// Ledger hands out request ids and records that each one is answered
// exactly once.
type Ledger struct {
	mutex       sync.Mutex
	nextID      uint64
	pendingReqs map[uint64]*PendingRequest
	completed   uint64
	rejected    uint64
	abandoned   uint64
	staleAfter  time.Duration
	now         func() time.Time
}

// NewLedger creates a ledger. Requests open for longer than staleAfter are
// reported by Stale.
func NewLedger(staleAfter time.Duration) *Ledger {
	return &Ledger{
		nextID:      1,
		pendingReqs: make(map[uint64]*PendingRequest),
		staleAfter:  staleAfter,
		now:         time.Now,
	}
}

// Open registers a new inbound request and returns its id.
func (l *Ledger) Open(kind RequestKind, central, target string) uint64 {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	id := l.nextID
	l.nextID++
	l.pendingReqs[id] = &PendingRequest{
		ID:        id,
		Kind:      kind,
		Central:   central,
		Target:    target,
		Timestamp: l.now(),
	}

	log.Tracef("opened request: id=%d, kind=%s, central=%s, target=%s", id, kind, central, target)
	return id
}

// Complete records the single response to request id. A second completion
// of the same id returns ErrUnknownRequest.
func (l *Ledger) Complete(id uint64, result string) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	req, exists := l.pendingReqs[id]
	if !exists {
		l.rejected++
		log.Warnf("response for request %d rejected: not open", id)
		return errors.Wrapf(ErrUnknownRequest, "request %d", id)
	}

	log.Tracef("completed request: id=%d, kind=%s, result=%s, age=%v",
		id, req.Kind, result, l.now().Sub(req.Timestamp))

	delete(l.pendingReqs, id)
	l.completed++
	return nil
}

// Pending returns the open requests ordered by id.
func (l *Ledger) Pending() []PendingRequest {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.collect(func(*PendingRequest) bool { return true })
}

// Stale removes and returns the open requests older than the ledger's
// threshold. A request evicted here that is answered later is rejected.
func (l *Ledger) Stale() []PendingRequest {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.staleAfter <= 0 {
		return nil
	}
	now := l.now()
	stale := l.collect(func(r *PendingRequest) bool {
		return now.Sub(r.Timestamp) > l.staleAfter
	})
	for _, r := range stale {
		log.Warnf("request abandoned: id=%d, kind=%s, target=%s, age=%v",
			r.ID, r.Kind, r.Target, now.Sub(r.Timestamp))
		delete(l.pendingReqs, r.ID)
		l.abandoned++
	}
	return stale
}

func (l *Ledger) collect(keep func(*PendingRequest) bool) []PendingRequest {
	var out []PendingRequest
	for _, r := range l.pendingReqs {
		if keep(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetStats returns statistics about the ledger
func (l *Ledger) GetStats() map[string]interface{} {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return map[string]interface{}{
		"nextID":       l.nextID,
		"pendingCount": len(l.pendingReqs),
		"completed":    l.completed,
		"rejected":     l.rejected,
		"abandoned":    l.abandoned,
		"staleAfter":   l.staleAfter.String(),
	}
}
