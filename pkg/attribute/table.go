// Package attribute is the runtime GATT attribute table: the services that
// were added from the catalog and the cached value of every characteristic.
package attribute

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jwoglom/fakecadence/pkg/catalog"
)

var (
	// ErrDuplicateService is returned when a service kind is added twice.
	ErrDuplicateService = errors.New("duplicate service")
	// ErrCatalogEmpty is returned when publishing a table with no services.
	ErrCatalogEmpty = errors.New("attribute table is empty")
	// ErrNotFound is returned when a (service, characteristic) pair is absent.
	ErrNotFound = errors.New("attribute not found")
)

// Key addresses one characteristic. A characteristic id is only unique within
// its owning service, so lookups always go through the pair.
type Key struct {
	Service        uuid.UUID
	Characteristic uuid.UUID
}

// NewKey builds a Key.
func NewKey(service, characteristic uuid.UUID) Key {
	return Key{Service: service, Characteristic: characteristic}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", catalog.FormatUUID(k.Service), catalog.Name(k.Characteristic))
}

// Lifecycle is the publication state of a table entry.
type Lifecycle int

const (
	Unpublished Lifecycle = iota
	Published
)

func (l Lifecycle) String() string {
	if l == Published {
		return "Published"
	}
	return "Unpublished"
}

// Characteristic is a snapshot of one runtime entry. Value is only meaningful
// when Cached is set; otherwise the value is computed on access.
type Characteristic struct {
	Key        Key
	Definition catalog.CharacteristicDefinition
	Value      []byte
	Cached     bool
	Lifecycle  Lifecycle
}

type entry struct {
	def       catalog.CharacteristicDefinition
	value     []byte
	cached    bool
	lifecycle Lifecycle
}

type service struct {
	def   catalog.ServiceDefinition
	chars map[uuid.UUID]*entry
}

// Table maps service id to its definition and characteristic runtimes.
//
// Table is not safe for concurrent use; it is owned by the peripheral's event
// loop, which serializes every access.
type Table struct {
	services map[uuid.UUID]*service
	kinds    map[catalog.ServiceKind]bool
	order    []uuid.UUID
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		services: make(map[uuid.UUID]*service),
		kinds:    make(map[catalog.ServiceKind]bool),
	}
}

// AddService inserts the catalog definition of kind with every characteristic
// Unpublished and holding its catalog default. Adding a kind twice fails with
// ErrDuplicateService and leaves the existing entry untouched.
func (t *Table) AddService(kind catalog.ServiceKind) error {
	def, err := catalog.Define(kind)
	if err != nil {
		return err
	}

	if t.kinds[kind] {
		return errors.Wrapf(ErrDuplicateService, "%s", kind)
	}
	if _, exists := t.services[def.ID]; exists {
		return errors.Wrapf(ErrDuplicateService, "%s (%s)", kind, catalog.FormatUUID(def.ID))
	}

	svc := &service{
		def:   def,
		chars: make(map[uuid.UUID]*entry, len(def.Characteristics)),
	}
	for _, c := range def.Characteristics {
		e := &entry{def: c}
		if c.Initial != nil {
			e.value = clone(c.Initial)
			e.cached = true
		}
		svc.chars[c.ID] = e
	}

	t.services[def.ID] = svc
	t.kinds[kind] = true
	t.order = append(t.order, def.ID)
	return nil
}

// PublishAll marks every entry Published and returns the service definitions
// in insertion order.
func (t *Table) PublishAll() ([]catalog.ServiceDefinition, error) {
	if len(t.order) == 0 {
		return nil, ErrCatalogEmpty
	}

	defs := make([]catalog.ServiceDefinition, 0, len(t.order))
	for _, id := range t.order {
		svc := t.services[id]
		for _, e := range svc.chars {
			e.lifecycle = Published
		}
		defs = append(defs, svc.def)
	}
	return defs, nil
}

// Lookup returns the characteristic addressed by (service, characteristic).
// A missing id is a normal outcome reported through ok, never an error.
func (t *Table) Lookup(serviceID, characteristicID uuid.UUID) (Characteristic, bool) {
	svc, ok := t.services[serviceID]
	if !ok {
		return Characteristic{}, false
	}
	e, ok := svc.chars[characteristicID]
	if !ok {
		return Characteristic{}, false
	}
	return e.snapshot(NewKey(serviceID, characteristicID)), true
}

// LookupKey is Lookup addressed by Key.
func (t *Table) LookupKey(k Key) (Characteristic, bool) {
	return t.Lookup(k.Service, k.Characteristic)
}

// SetValue replaces the cached value of a characteristic.
func (t *Table) SetValue(serviceID, characteristicID uuid.UUID, value []byte) error {
	svc, ok := t.services[serviceID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "service %s", catalog.FormatUUID(serviceID))
	}
	e, ok := svc.chars[characteristicID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "characteristic %s in service %s",
			catalog.FormatUUID(characteristicID), catalog.FormatUUID(serviceID))
	}
	e.value = clone(value)
	e.cached = true
	return nil
}

// Len returns the number of services in the table.
func (t *Table) Len() int {
	return len(t.order)
}

// ServiceIDs returns the service ids in insertion order.
func (t *Table) ServiceIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(t.order))
	copy(ids, t.order)
	return ids
}

// Services returns the service definitions in insertion order.
func (t *Table) Services() []catalog.ServiceDefinition {
	defs := make([]catalog.ServiceDefinition, 0, len(t.order))
	for _, id := range t.order {
		defs = append(defs, t.services[id].def)
	}
	return defs
}

// Characteristics returns a snapshot of every entry, ordered by service
// insertion order and then by catalog order within the service.
func (t *Table) Characteristics() []Characteristic {
	var out []Characteristic
	for _, id := range t.order {
		svc := t.services[id]
		for _, c := range svc.def.Characteristics {
			out = append(out, svc.chars[c.ID].snapshot(NewKey(id, c.ID)))
		}
	}
	return out
}

func (e *entry) snapshot(k Key) Characteristic {
	return Characteristic{
		Key:        k,
		Definition: e.def,
		Value:      clone(e.value),
		Cached:     e.cached,
		Lifecycle:  e.lifecycle,
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
