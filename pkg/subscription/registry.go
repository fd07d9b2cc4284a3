// Package subscription tracks which centrals are subscribed to notifications
// on which characteristic. It decides who receives a notification, never how.
package subscription

import (
	"sort"

	"github.com/jwoglom/fakecadence/pkg/attribute"
)

// CentralID identifies a connected central, e.g. the link layer's connection id.
type CentralID string

// Registry is a set of (central, characteristic) pairs.
//
// Registry is not safe for concurrent use; see attribute.Table.
type Registry struct {
	byKey     map[attribute.Key]map[CentralID]struct{}
	byCentral map[CentralID]map[attribute.Key]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey:     make(map[attribute.Key]map[CentralID]struct{}),
		byCentral: make(map[CentralID]map[attribute.Key]struct{}),
	}
}

// Subscribe adds (central, key). It reports whether the pair was new.
func (r *Registry) Subscribe(central CentralID, key attribute.Key) bool {
	centrals, ok := r.byKey[key]
	if !ok {
		centrals = make(map[CentralID]struct{})
		r.byKey[key] = centrals
	}
	if _, exists := centrals[central]; exists {
		return false
	}
	centrals[central] = struct{}{}

	keys, ok := r.byCentral[central]
	if !ok {
		keys = make(map[attribute.Key]struct{})
		r.byCentral[central] = keys
	}
	keys[key] = struct{}{}
	return true
}

// Unsubscribe removes (central, key). It reports whether the pair existed.
func (r *Registry) Unsubscribe(central CentralID, key attribute.Key) bool {
	centrals, ok := r.byKey[key]
	if !ok {
		return false
	}
	if _, exists := centrals[central]; !exists {
		return false
	}
	delete(centrals, central)
	if len(centrals) == 0 {
		delete(r.byKey, key)
	}

	keys := r.byCentral[central]
	delete(keys, key)
	if len(keys) == 0 {
		delete(r.byCentral, central)
	}
	return true
}

// RemoveCentral drops every subscription of a central, e.g. on disconnect,
// and returns how many were removed.
func (r *Registry) RemoveCentral(central CentralID) int {
	keys := r.byCentral[central]
	n := 0
	for key := range keys {
		if r.Unsubscribe(central, key) {
			n++
		}
	}
	return n
}

// Notify returns the centrals a value for key must be delivered to, sorted.
// An empty result is normal; the caller may skip the send.
func (r *Registry) Notify(key attribute.Key, _ []byte) []CentralID {
	return r.Subscribers(key)
}

// Subscribers returns the centrals subscribed to key, sorted.
func (r *Registry) Subscribers(key attribute.Key) []CentralID {
	centrals := r.byKey[key]
	if len(centrals) == 0 {
		return nil
	}
	out := make([]CentralID, 0, len(centrals))
	for c := range centrals {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsSubscribed reports whether (central, key) is in the registry.
func (r *Registry) IsSubscribed(central CentralID, key attribute.Key) bool {
	_, ok := r.byKey[key][central]
	return ok
}

// Len returns the number of (central, characteristic) pairs.
func (r *Registry) Len() int {
	n := 0
	for _, centrals := range r.byKey {
		n += len(centrals)
	}
	return n
}
