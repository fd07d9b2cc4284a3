//go:build linux

package bluetooth

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paypal/gatt"
	"github.com/paypal/gatt/linux/cmd"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jwoglom/fakecadence/pkg/attribute"
	"github.com/jwoglom/fakecadence/pkg/catalog"
	"github.com/jwoglom/fakecadence/pkg/dispatch"
	"github.com/jwoglom/fakecadence/pkg/subscription"
)

// notifierPoll is how often an enabled notifier is checked for the central
// turning notifications off.
const notifierPoll = 250 * time.Millisecond

type notifierKey struct {
	central subscription.CentralID
	key     attribute.Key
}

// HCI drives a local controller directly over a raw HCI socket.
type HCI struct {
	device gatt.Device
	caller *caller

	notifiers    map[notifierKey]gatt.Notifier
	notifiersMtx sync.Mutex
}

// hciServerOptions returns the options for the BLE server on Linux
func hciServerOptions(deviceID int) []gatt.Option {
	return []gatt.Option{
		gatt.LnxMaxConnections(1),
		gatt.LnxDeviceID(deviceID, true),
		gatt.LnxSetAdvertisingParameters(&cmd.LESetAdvertisingParameters{
			AdvertisingIntervalMin: 0x00f4,
			AdvertisingIntervalMax: 0x00f4,
			AdvertisingChannelMap:  0x7,
		}),
	}
}

// NewHCI opens the adapter.
func NewHCI(opts Options) (*HCI, error) {
	id, err := adapterIndex(opts.Adapter)
	if err != nil {
		return nil, err
	}

	d, err := gatt.NewDevice(hciServerOptions(id)...)
	if err != nil {
		return nil, errors.Wrap(err, "pkg bluetooth; failed to open device")
	}

	h := &HCI{
		device:    d,
		caller:    &caller{timeout: opts.RequestTimeout},
		notifiers: make(map[notifierKey]gatt.Notifier),
	}

	d.Handle(
		gatt.CentralConnected(func(c gatt.Central) {
			log.Infof("pkg bluetooth; ** New connection from: %s", c.ID())
		}),
		gatt.CentralDisconnected(func(c gatt.Central) {
			log.Infof("pkg bluetooth; ** disconnect: %s", c.ID())
			central := subscription.CentralID(c.ID())
			h.dropNotifiers(central)
			go h.caller.disconnect(central)
		}),
	)

	return h, nil
}

// SetHandler implements Backend.
func (h *HCI) SetHandler(handler Handler) {
	h.caller.handler = handler
}

// Run implements Backend.
func (h *HCI) Run(ctx context.Context) error {
	onStateChanged := func(d gatt.Device, s gatt.State) {
		log.Infof("pkg bluetooth; Bluetooth state: %s", s)
		// The handler may call back into the device, so never block the
		// stack's own goroutine on it.
		go h.caller.power(s == gatt.StatePoweredOn)
	}

	if err := h.device.Init(onStateChanged); err != nil {
		return errors.Wrap(err, "pkg bluetooth; could not init bluetooth")
	}

	<-ctx.Done()
	return nil
}

// Register implements advertising.Radio.
func (h *HCI) Register(defs []catalog.ServiceDefinition) error {
	for _, def := range defs {
		if !def.Primary {
			log.Debugf("pkg bluetooth; %s registered as primary, secondary services are not supported", catalog.FormatUUID(def.ID))
		}

		s := gatt.NewService(toGattUUID(def.ID))
		for _, c := range def.Characteristics {
			h.addCharacteristic(s, attribute.NewKey(def.ID, c.ID), c)
		}

		if err := h.device.AddService(s); err != nil {
			return errors.Wrapf(err, "pkg bluetooth; could not add service %s", catalog.FormatUUID(def.ID))
		}
		log.Infof("pkg bluetooth; added service %s with %d characteristics", catalog.FormatUUID(def.ID), len(def.Characteristics))
	}
	return nil
}

// StartAdvertising implements advertising.Radio.
func (h *HCI) StartAdvertising(name string, ids []uuid.UUID) error {
	gids := make([]gatt.UUID, len(ids))
	for i, id := range ids {
		gids[i] = toGattUUID(id)
	}
	if err := h.device.AdvertiseNameAndServices(name, gids); err != nil {
		return errors.Wrap(err, "pkg bluetooth; could not advertise")
	}
	log.Infof("pkg bluetooth; advertising %q", name)
	return nil
}

// StopAdvertising implements advertising.Radio.
func (h *HCI) StopAdvertising() error {
	return h.device.StopAdvertising()
}

// Deliver implements peripheral.Link.
func (h *HCI) Deliver(n dispatch.Notification) error {
	h.notifiersMtx.Lock()
	notifier, exists := h.notifiers[notifierKey{central: n.Central, key: n.Key}]
	h.notifiersMtx.Unlock()

	if !exists || notifier == nil {
		return errors.Errorf("no notifier registered for %s on %s", n.Central, n.Key)
	}
	if notifier.Done() {
		return errors.Errorf("notifier for %s on %s is closed", n.Central, n.Key)
	}

	data := n.Value
	if max := notifier.Cap(); max > 0 && len(data) > max {
		data = data[:max]
	}
	log.Tracef("pkg bluetooth; sending notification on %s: %s", n.Key, hex.EncodeToString(data))
	_, err := notifier.Write(data)
	return err
}

// addCharacteristic binds the handlers the definition's properties call
// for. gatt derives the characteristic properties from the bound handlers.
func (h *HCI) addCharacteristic(s *gatt.Service, key attribute.Key, def catalog.CharacteristicDefinition) {
	char := s.AddCharacteristic(toGattUUID(def.ID))

	if def.Properties.Has(catalog.PropRead) {
		char.HandleReadFunc(func(rsp gatt.ResponseWriter, req *gatt.ReadRequest) {
			out := h.caller.read(dispatch.ReadRequest{
				Central: subscription.CentralID(req.Central.ID()),
				Key:     key,
				Offset:  req.Offset,
			})
			if !out.Result.OK() {
				rsp.SetStatus(out.Result.ATT())
				return
			}

			data := out.Value
			if req.Cap > 0 && len(data) > req.Cap {
				data = data[:req.Cap]
			}
			log.Tracef("pkg bluetooth; read request on %s, responding with: %s", key, hex.EncodeToString(data))
			rsp.Write(data)
		})
	}

	if def.Properties.Has(catalog.PropWrite) {
		char.HandleWriteFunc(func(r gatt.Request, data []byte) (status byte) {
			log.Tracef("pkg bluetooth; received write on %s: %s", key, hex.EncodeToString(data))

			dataCopy := make([]byte, len(data))
			copy(dataCopy, data)

			out := h.caller.write([]dispatch.WriteRequest{{
				Central: subscription.CentralID(r.Central.ID()),
				Key:     key,
				Value:   dataCopy,
			}})
			return out.Responses[0].Result.ATT()
		})
	}

	if def.Properties.Has(catalog.PropNotify) {
		char.HandleNotifyFunc(func(r gatt.Request, n gatt.Notifier) {
			central := subscription.CentralID(r.Central.ID())
			nk := notifierKey{central: central, key: key}

			h.notifiersMtx.Lock()
			h.notifiers[nk] = n
			h.notifiersMtx.Unlock()
			log.Infof("pkg bluetooth; notifications enabled for %s from %s", key, central)

			if err := h.caller.subscribe(central, key, true); err != nil {
				log.Warnf("pkg bluetooth; subscribe %s to %s: %v", central, key, err)
			}

			for !n.Done() {
				time.Sleep(notifierPoll)
			}

			h.notifiersMtx.Lock()
			if h.notifiers[nk] == n {
				delete(h.notifiers, nk)
			}
			h.notifiersMtx.Unlock()
			log.Infof("pkg bluetooth; notifications disabled for %s from %s", key, central)

			if err := h.caller.subscribe(central, key, false); err != nil {
				log.Warnf("pkg bluetooth; unsubscribe %s from %s: %v", central, key, err)
			}
		})
	}
}

func (h *HCI) dropNotifiers(central subscription.CentralID) {
	h.notifiersMtx.Lock()
	defer h.notifiersMtx.Unlock()
	for k := range h.notifiers {
		if k.central == central {
			delete(h.notifiers, k)
		}
	}
}

func toGattUUID(id uuid.UUID) gatt.UUID {
	if short, ok := catalog.ShortForm(id); ok {
		return gatt.UUID16(short)
	}
	return gatt.MustParseUUID(id.String())
}
