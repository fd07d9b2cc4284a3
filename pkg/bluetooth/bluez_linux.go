//go:build linux

package bluetooth

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	tinyble "tinygo.org/x/bluetooth"

	"github.com/jwoglom/fakecadence/pkg/attribute"
	"github.com/jwoglom/fakecadence/pkg/catalog"
	"github.com/jwoglom/fakecadence/pkg/dispatch"
	"github.com/jwoglom/fakecadence/pkg/subscription"
)

// bluezCentral stands in for every connected central. BlueZ keeps the
// client configuration descriptors itself and fans a value change out to
// whoever enabled notifications, so one subscriber per characteristic is
// enough.
const bluezCentral subscription.CentralID = "bluez"

// BlueZ serves the peripheral through the BlueZ D-Bus API.
type BlueZ struct {
	adapter *tinyble.Adapter
	adv     *tinyble.Advertisement
	caller  *caller

	handles    map[attribute.Key]*tinyble.Characteristic
	handlesMtx sync.RWMutex
}

// NewBlueZ prepares the default adapter. BlueZ picks the adapter itself.
func NewBlueZ(opts Options) (*BlueZ, error) {
	if opts.Adapter != "" {
		log.Warnf("pkg bluetooth; bluez backend ignores adapter %q", opts.Adapter)
	}
	return &BlueZ{
		adapter: tinyble.DefaultAdapter,
		caller:  &caller{timeout: opts.RequestTimeout},
		handles: make(map[attribute.Key]*tinyble.Characteristic),
	}, nil
}

// SetHandler implements Backend.
func (b *BlueZ) SetHandler(handler Handler) {
	b.caller.handler = handler
}

// Run implements Backend. BlueZ has no power callbacks, so the adapter is
// reported powered once it is enabled.
func (b *BlueZ) Run(ctx context.Context) error {
	if err := b.adapter.Enable(); err != nil {
		return errors.Wrap(err, "pkg bluetooth; could not enable adapter")
	}
	log.Info("pkg bluetooth; BlueZ adapter enabled")
	b.caller.power(true)

	<-ctx.Done()
	return nil
}

// Register implements advertising.Radio.
func (b *BlueZ) Register(defs []catalog.ServiceDefinition) error {
	var notify []attribute.Key
	var readable []attribute.Key

	for _, def := range defs {
		svcUUID, err := toTinyUUID(def.ID)
		if err != nil {
			return err
		}

		svc := &tinyble.Service{UUID: svcUUID}
		for _, c := range def.Characteristics {
			key := attribute.NewKey(def.ID, c.ID)
			charUUID, err := toTinyUUID(c.ID)
			if err != nil {
				return err
			}

			handle := &tinyble.Characteristic{}
			b.handlesMtx.Lock()
			b.handles[key] = handle
			b.handlesMtx.Unlock()

			cfg := tinyble.CharacteristicConfig{
				Handle: handle,
				UUID:   charUUID,
				Value:  c.Initial,
				Flags:  tinyFlags(c.Properties),
			}
			if c.Properties.Has(catalog.PropWrite) {
				cfg.WriteEvent = b.writeEvent(key)
			}
			svc.Characteristics = append(svc.Characteristics, cfg)

			if c.Properties.Has(catalog.PropNotify) {
				notify = append(notify, key)
			}
			if c.Properties.Has(catalog.PropRead) {
				readable = append(readable, key)
			}
		}

		if err := b.adapter.AddService(svc); err != nil {
			return errors.Wrapf(err, "pkg bluetooth; could not add service %s", catalog.FormatUUID(def.ID))
		}
		log.Infof("pkg bluetooth; added service %s with %d characteristics", catalog.FormatUUID(def.ID), len(def.Characteristics))
	}

	// Register runs on the peripheral loop; seeding values and
	// subscriptions goes back through the loop, so do it afterwards.
	go b.seed(readable, notify)
	return nil
}

// seed copies the current values into BlueZ, which answers reads from its
// own cache, and subscribes the stand-in central to every notifying
// characteristic.
func (b *BlueZ) seed(readable, notify []attribute.Key) {
	for _, key := range readable {
		rsp := b.caller.read(dispatch.ReadRequest{Central: bluezCentral, Key: key})
		if !rsp.Result.OK() {
			continue
		}
		if err := b.push(key, rsp.Value); err != nil {
			log.Warnf("pkg bluetooth; seed %s: %v", key, err)
		}
	}
	for _, key := range notify {
		if err := b.caller.subscribe(bluezCentral, key, true); err != nil {
			log.Warnf("pkg bluetooth; subscribe %s: %v", key, err)
		}
	}
}

func (b *BlueZ) writeEvent(key attribute.Key) func(client tinyble.Connection, offset int, value []byte) {
	return func(client tinyble.Connection, offset int, value []byte) {
		log.Tracef("pkg bluetooth; received write on %s from %v: %s", key, client, hex.EncodeToString(value))

		dataCopy := make([]byte, len(value))
		copy(dataCopy, value)

		out := b.caller.write([]dispatch.WriteRequest{{
			Central: bluezCentral,
			Key:     key,
			Offset:  offset,
			Value:   dataCopy,
		}})
		// BlueZ has already accepted the write; all that can be done about a
		// rejection is to restore the previous value.
		if !out.OK() {
			log.Warnf("pkg bluetooth; write on %s rejected: %s", key, out.Responses[0].Result)
			rsp := b.caller.read(dispatch.ReadRequest{Central: bluezCentral, Key: key})
			if rsp.Result.OK() {
				if err := b.push(key, rsp.Value); err != nil {
					log.Warnf("pkg bluetooth; restore %s: %v", key, err)
				}
			}
		}
	}
}

// StartAdvertising implements advertising.Radio.
func (b *BlueZ) StartAdvertising(name string, ids []uuid.UUID) error {
	tids := make([]tinyble.UUID, 0, len(ids))
	for _, id := range ids {
		t, err := toTinyUUID(id)
		if err != nil {
			return err
		}
		tids = append(tids, t)
	}

	b.adv = b.adapter.DefaultAdvertisement()
	if err := b.adv.Configure(tinyble.AdvertisementOptions{
		LocalName:    name,
		ServiceUUIDs: tids,
	}); err != nil {
		return errors.Wrap(err, "pkg bluetooth; could not configure advertisement")
	}
	if err := b.adv.Start(); err != nil {
		return errors.Wrap(err, "pkg bluetooth; could not advertise")
	}
	log.Infof("pkg bluetooth; advertising %q", name)
	return nil
}

// StopAdvertising implements advertising.Radio.
func (b *BlueZ) StopAdvertising() error {
	if b.adv == nil {
		return nil
	}
	return b.adv.Stop()
}

// Deliver implements peripheral.Link.
func (b *BlueZ) Deliver(n dispatch.Notification) error {
	log.Tracef("pkg bluetooth; sending notification on %s: %s", n.Key, hex.EncodeToString(n.Value))
	return b.push(n.Key, n.Value)
}

func (b *BlueZ) push(key attribute.Key, value []byte) error {
	b.handlesMtx.RLock()
	handle, ok := b.handles[key]
	b.handlesMtx.RUnlock()
	if !ok {
		return errors.Errorf("no handle for %s", key)
	}
	_, err := handle.Write(value)
	return err
}

func tinyFlags(p catalog.Property) tinyble.CharacteristicPermissions {
	var f tinyble.CharacteristicPermissions
	if p.Has(catalog.PropRead) {
		f |= tinyble.CharacteristicReadPermission
	}
	if p.Has(catalog.PropWrite) {
		f |= tinyble.CharacteristicWritePermission
	}
	if p.Has(catalog.PropNotify) {
		f |= tinyble.CharacteristicNotifyPermission
	}
	return f
}

func toTinyUUID(id uuid.UUID) (tinyble.UUID, error) {
	if short, ok := catalog.ShortForm(id); ok {
		return tinyble.New16BitUUID(short), nil
	}
	t, err := tinyble.ParseUUID(id.String())
	if err != nil {
		return tinyble.UUID{}, errors.Wrapf(err, "parse uuid %s", id)
	}
	return t, nil
}
