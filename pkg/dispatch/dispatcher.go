// Package dispatch routes read and write requests to the attribute table and
// turns each request into exactly one terminal response.
package dispatch

import (
	"encoding/hex"

	log "github.com/sirupsen/logrus"

	"github.com/jwoglom/fakecadence/pkg/attribute"
	"github.com/jwoglom/fakecadence/pkg/catalog"
	"github.com/jwoglom/fakecadence/pkg/subscription"
)

// ReadRequest is a read of one characteristic value starting at Offset.
type ReadRequest struct {
	Central subscription.CentralID
	Key     attribute.Key
	Offset  int
}

// WriteRequest writes Value into a characteristic starting at Offset.
type WriteRequest struct {
	Central subscription.CentralID
	Key     attribute.Key
	Offset  int
	Value   []byte
}

// Response is the single terminal response to a request. Value is only set
// for successful reads.
type Response struct {
	Central subscription.CentralID
	Key     attribute.Key
	Result  Result
	Value   []byte
}

// Notification is a value to push to one subscribed central.
type Notification struct {
	Central subscription.CentralID
	Key     attribute.Key
	Value   []byte
}

// WriteOutcome holds one response per request of a batch, in batch order,
// plus the notifications the batch triggered.
type WriteOutcome struct {
	Responses     []Response
	Notifications []Notification
}

// OK reports whether the batch was applied.
func (o WriteOutcome) OK() bool {
	return len(o.Responses) > 0 && o.Responses[0].Result.OK()
}

// Dispatcher resolves requests against a Table and a Registry. It holds no
// state of its own and must be driven from the table's owner.
type Dispatcher struct {
	table    *attribute.Table
	subs     *subscription.Registry
	source   ValueSource
	override ValueSource
}

// New creates a dispatcher. source may be nil, in which case dynamic
// characteristics read as empty.
func New(table *attribute.Table, subs *subscription.Registry, source ValueSource) *Dispatcher {
	return &Dispatcher{
		table:  table,
		subs:   subs,
		source: source,
	}
}

// SetOverride installs a source consulted before the cached value. A hit
// from o wins over anything the table holds; a miss falls through to the
// normal cached-then-source order.
func (d *Dispatcher) SetOverride(o ValueSource) {
	d.override = o
}

// Read resolves a read request.
func (d *Dispatcher) Read(req ReadRequest) Response {
	rsp := Response{Central: req.Central, Key: req.Key}

	c, ok := d.table.LookupKey(req.Key)
	switch {
	case !ok:
		rsp.Result = AttributeNotFound
	case !c.Definition.Permissions.Has(catalog.PermReadable):
		rsp.Result = ReadNotPermitted
	default:
		value := d.valueOf(c, true)
		if req.Offset < 0 || req.Offset > len(value) {
			rsp.Result = InvalidOffset
			break
		}
		rsp.Result = Success
		rsp.Value = value[req.Offset:]
	}

	log.Tracef("read %s from %s offset=%d: %s %s",
		req.Key, req.Central, req.Offset, rsp.Result, hex.EncodeToString(rsp.Value))
	return rsp
}

// Write resolves a batch of write requests atomically: every request is
// validated against the staged result of the ones before it, and the table
// is only mutated when all of them pass. On failure every request carries the
// first violation found.
func (d *Dispatcher) Write(batch []WriteRequest) WriteOutcome {
	staged := make(map[attribute.Key][]byte, len(batch))
	var order []attribute.Key

	failure := Success
	for _, req := range batch {
		c, ok := d.table.LookupKey(req.Key)
		if !ok {
			failure = AttributeNotFound
			break
		}

		current, seen := staged[req.Key]
		if !seen {
			current = d.valueOf(c, false)
		}

		if r := validateWrite(c.Definition, current, req); r != Success {
			log.Debugf("write %s from %s rejected: %s", req.Key, req.Central, r)
			failure = r
			break
		}

		next := make([]byte, 0, req.Offset+len(req.Value))
		next = append(next, current[:req.Offset]...)
		next = append(next, req.Value...)
		staged[req.Key] = next
		if !seen {
			order = append(order, req.Key)
		}
	}

	out := WriteOutcome{Responses: make([]Response, len(batch))}
	for i, req := range batch {
		out.Responses[i] = Response{Central: req.Central, Key: req.Key, Result: failure}
	}
	if failure != Success {
		return out
	}

	for _, key := range order {
		if err := d.table.SetValue(key.Service, key.Characteristic, staged[key]); err != nil {
			log.Errorf("write %s: %v", key, err)
		}
		log.Tracef("write %s applied: %s", key, hex.EncodeToString(staged[key]))
	}
	for _, key := range order {
		out.Notifications = append(out.Notifications, d.notify(key, staged[key])...)
	}
	return out
}

// Update caches a value pushed by the application and returns the
// notifications it triggers.
func (d *Dispatcher) Update(key attribute.Key, value []byte) ([]Notification, error) {
	if err := d.table.SetValue(key.Service, key.Characteristic, value); err != nil {
		return nil, err
	}
	return d.notify(key, value), nil
}

// Current returns the value a read at offset 0 would return, without
// producing a response or advancing any source.
func (d *Dispatcher) Current(key attribute.Key) ([]byte, bool) {
	c, ok := d.table.LookupKey(key)
	if !ok {
		return nil, false
	}
	return d.valueOf(c, false), true
}

func (d *Dispatcher) notify(key attribute.Key, value []byte) []Notification {
	c, ok := d.table.LookupKey(key)
	if !ok || !c.Definition.Properties.Has(catalog.PropNotify) {
		return nil
	}

	var out []Notification
	for _, central := range d.subs.Notify(key, value) {
		v := make([]byte, len(value))
		copy(v, value)
		out = append(out, Notification{Central: central, Key: key, Value: v})
	}
	if len(out) == 0 {
		log.Tracef("notify %s: no subscribers", key)
	}
	return out
}

// valueOf resolves override, then cache, then source. Only central reads
// pass advance.
func (d *Dispatcher) valueOf(c attribute.Characteristic, advance bool) []byte {
	if v, ok := lookup(d.override, c.Key, advance); ok {
		return v
	}
	if c.Cached {
		return c.Value
	}
	if v, ok := lookup(d.source, c.Key, advance); ok {
		return v
	}
	return []byte{}
}

func lookup(src ValueSource, key attribute.Key, advance bool) ([]byte, bool) {
	if src == nil {
		return nil, false
	}
	if advance {
		return src.Value(key)
	}
	return peek(src, key)
}

func validateWrite(def catalog.CharacteristicDefinition, current []byte, req WriteRequest) Result {
	if !def.Permissions.Has(catalog.PermWriteable) {
		return WriteNotPermitted
	}
	if req.Offset < 0 || req.Offset > len(current) {
		return InvalidOffset
	}
	max := def.MaxLength
	if max <= 0 {
		max = catalog.MaxAttributeLength
	}
	if req.Offset+len(req.Value) > max {
		return InvalidAttributeValueLength
	}
	return Success
}
