// Package advertising decides when the peripheral may advertise: the radio
// must be powered on and the attribute table must have been published.
package advertising

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jwoglom/fakecadence/pkg/catalog"
)

// ErrRadioOff is returned by Start while the radio is powered off. The
// request is remembered and retried on the next power-on.
var ErrRadioOff = errors.New("radio is powered off")

// State is the advertising state.
type State int

const (
	Idle State = iota
	Advertising
)

func (s State) String() string {
	if s == Advertising {
		return "Advertising"
	}
	return "Idle"
}

// Radio is the part of the link layer the controller drives.
type Radio interface {
	// Register hands the published services to the BLE stack. It is called
	// at most once per controller.
	Register(defs []catalog.ServiceDefinition) error
	StartAdvertising(name string, ids []uuid.UUID) error
	StopAdvertising() error
}

// Publisher is satisfied by *attribute.Table.
type Publisher interface {
	PublishAll() ([]catalog.ServiceDefinition, error)
}

// Status is a point-in-time view of the controller.
type Status struct {
	State      State
	Powered    bool
	Pending    bool
	Name       string
	ServiceIDs []uuid.UUID
}

// Controller is not safe for concurrent use. It is driven from the
// peripheral's event loop.
type Controller struct {
	name  string
	table Publisher
	radio Radio

	state      State
	powered    bool
	pending    bool
	registered bool

	defs []catalog.ServiceDefinition
	ids  []uuid.UUID
}

// New creates an idle controller that advertises under name.
func New(name string, table Publisher, radio Radio) *Controller {
	return &Controller{
		name:  name,
		table: table,
		radio: radio,
	}
}

// Start begins advertising. The table is published on the first call only;
// later calls reuse the same service id list. Starting while already
// advertising is a no-op.
func (c *Controller) Start() error {
	if c.state == Advertising {
		return nil
	}

	if c.defs == nil {
		defs, err := c.table.PublishAll()
		if err != nil {
			return errors.Wrap(err, "publish services")
		}
		c.defs = defs
		c.ids = make([]uuid.UUID, 0, len(defs))
		for _, d := range defs {
			c.ids = append(c.ids, d.ID)
		}
	}

	if !c.powered {
		log.Infof("advertising deferred until the radio powers on")
		c.pending = true
		return ErrRadioOff
	}

	if !c.registered {
		if err := c.radio.Register(c.defs); err != nil {
			return errors.Wrap(err, "register services")
		}
		c.registered = true
	}

	if err := c.radio.StartAdvertising(c.name, c.ids); err != nil {
		return errors.Wrap(err, "start advertising")
	}

	c.state = Advertising
	c.pending = false
	log.Infof("advertising %q with %d services", c.name, len(c.ids))
	return nil
}

// Stop ends advertising and cancels a deferred start. Stopping while idle is
// a no-op.
func (c *Controller) Stop() error {
	c.pending = false
	if c.state == Idle {
		return nil
	}

	c.state = Idle
	if err := c.radio.StopAdvertising(); err != nil {
		return errors.Wrap(err, "stop advertising")
	}
	log.Infof("advertising stopped")
	return nil
}

// PowerChanged records a radio power transition. Losing power forces Idle
// and arms a restart; regaining it retries a deferred start, whose error is
// returned.
func (c *Controller) PowerChanged(on bool) error {
	if c.powered == on {
		return nil
	}
	c.powered = on
	log.Debugf("radio powered on: %v", on)

	if !on {
		if c.state == Advertising {
			c.state = Idle
			c.pending = true
		}
		return nil
	}

	if !c.pending {
		return nil
	}
	return c.Start()
}

// State returns the current advertising state.
func (c *Controller) State() State {
	return c.state
}

// Status returns a copy of the controller state.
func (c *Controller) Status() Status {
	ids := make([]uuid.UUID, len(c.ids))
	copy(ids, c.ids)
	return Status{
		State:      c.state,
		Powered:    c.powered,
		Pending:    c.pending,
		Name:       c.name,
		ServiceIDs: ids,
	}
}
