package peripheral

import (
	"encoding/hex"

	"github.com/jwoglom/fakecadence/pkg/advertising"
	"github.com/jwoglom/fakecadence/pkg/attribute"
	"github.com/jwoglom/fakecadence/pkg/catalog"
)

// Snapshot is a copy of the peripheral for display.
type Snapshot struct {
	Advertising     AdvertisingView        `json:"advertising"`
	Characteristics []CharacteristicView   `json:"characteristics"`
	Requests        map[string]interface{} `json:"requests"`
}

// AdvertisingView is advertising.Status in display form.
type AdvertisingView struct {
	State      string   `json:"state"`
	Powered    bool     `json:"powered"`
	Pending    bool     `json:"pending"`
	Name       string   `json:"name"`
	ServiceIDs []string `json:"serviceIds"`
}

// CharacteristicView is one table entry in display form.
type CharacteristicView struct {
	Key         attribute.Key `json:"-"`
	Service     string        `json:"service"`
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Properties  string        `json:"properties"`
	Permissions string        `json:"permissions"`
	Value       string        `json:"value"`
	Cached      bool          `json:"cached"`
	Lifecycle   string        `json:"lifecycle"`
	Subscribers []string      `json:"subscribers"`
}

// NewAdvertisingView converts a controller status.
func NewAdvertisingView(s advertising.Status) AdvertisingView {
	ids := make([]string, len(s.ServiceIDs))
	for i, id := range s.ServiceIDs {
		ids[i] = catalog.FormatUUID(id)
	}
	return AdvertisingView{
		State:      s.State.String(),
		Powered:    s.Powered,
		Pending:    s.Pending,
		Name:       s.Name,
		ServiceIDs: ids,
	}
}

// Find returns the view of name, if present.
func (s Snapshot) Find(name string) (CharacteristicView, bool) {
	for _, c := range s.Characteristics {
		if c.Name == name {
			return c, true
		}
	}
	return CharacteristicView{}, false
}

func (p *Peripheral) snapshot() Snapshot {
	chars := p.table.Characteristics()
	views := make([]CharacteristicView, 0, len(chars))
	for _, c := range chars {
		value, _ := p.disp.Current(c.Key)
		subs := p.subs.Subscribers(c.Key)
		names := make([]string, len(subs))
		for i, s := range subs {
			names[i] = string(s)
		}
		views = append(views, CharacteristicView{
			Key:         c.Key,
			Service:     catalog.FormatUUID(c.Key.Service),
			ID:          catalog.FormatUUID(c.Key.Characteristic),
			Name:        c.Definition.Name,
			Properties:  c.Definition.Properties.String(),
			Permissions: c.Definition.Permissions.String(),
			Value:       hex.EncodeToString(value),
			Cached:      c.Cached,
			Lifecycle:   c.Lifecycle.String(),
			Subscribers: names,
		})
	}

	return Snapshot{
		Advertising:     NewAdvertisingView(p.adv.Status()),
		Characteristics: views,
		Requests:        p.ledger.GetStats(),
	}
}
