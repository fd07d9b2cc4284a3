package state

import (
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jwoglom/fakecadence/pkg/attribute"
	"github.com/jwoglom/fakecadence/pkg/catalog"
	"github.com/jwoglom/fakecadence/pkg/protocol"
)

// Well-known characteristic keys of the Cadence services.
var (
	CaseOpenClosedKey = attribute.NewKey(catalog.CadenceCaseServiceUUID, catalog.CaseOpenClosedCharUUID)
	PlacedRemovedKey  = attribute.NewKey(catalog.CadenceBlisterPackServiceUUID, catalog.BlisterPackPlacedRemovedCharUUID)
	DetectionKey      = attribute.NewKey(catalog.CadenceBlisterPackServiceUUID, catalog.BlisterPackDetectionCharUUID)
	CurrentTimeKey    = attribute.NewKey(catalog.CurrentTimeServiceUUID, catalog.CurrentTimeCharUUID)
)

// CaseState is the application state behind the Cadence characteristics.
type CaseState struct {
	// Physical state
	Open            bool
	BlisterDetected bool
	OpenCount       int
	LastChanged     time.Time

	// Strings written by centrals to the blister pack
	Messages []string

	StartTime time.Time

	notifier EventNotifier
	now      func() time.Time
	mutex    sync.RWMutex
}

// Snapshot is a copy of CaseState for display.
type Snapshot struct {
	Open            bool      `json:"open"`
	BlisterDetected bool      `json:"blisterDetected"`
	OpenCount       int       `json:"openCount"`
	LastChanged     time.Time `json:"lastChanged"`
	Messages        []string  `json:"messages"`
	Text            string    `json:"text"`
	Uptime          string    `json:"uptime"`
}

// NewCaseState creates a closed case with no blister pack detected.
func NewCaseState() *CaseState {
	now := time.Now()
	return &CaseState{
		StartTime:   now,
		LastChanged: now,
		notifier:    &NoOpEventNotifier{},
		now:         time.Now,
	}
}

// SetEventNotifier sets where state changes are pushed.
func (c *CaseState) SetEventNotifier(notifier EventNotifier) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if notifier == nil {
		notifier = &NoOpEventNotifier{}
	}
	c.notifier = notifier
}

// IsOpen reports whether the case is open.
func (c *CaseState) IsOpen() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.Open
}

// SetOpen opens or closes the case and notifies subscribers when the state
// changed.
func (c *CaseState) SetOpen(open bool) error {
	c.mutex.Lock()
	if c.Open == open {
		c.mutex.Unlock()
		return nil
	}
	c.Open = open
	c.LastChanged = c.now()
	if open {
		c.OpenCount++
	}
	notifier := c.notifier
	c.mutex.Unlock()

	log.Infof("case is now %s", openWord(open))
	return notifier.NotifyCaseChanged(open)
}

// Toggle flips the case and returns the new state.
func (c *CaseState) Toggle() (bool, error) {
	c.mutex.Lock()
	open := !c.Open
	c.mutex.Unlock()
	return open, c.SetOpen(open)
}

// IsDetected reports whether a blister pack is detected in the case.
func (c *CaseState) IsDetected() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.BlisterDetected
}

// SetDetected records blister pack detection and notifies subscribers when it
// changed.
func (c *CaseState) SetDetected(detected bool) error {
	c.mutex.Lock()
	if c.BlisterDetected == detected {
		c.mutex.Unlock()
		return nil
	}
	c.BlisterDetected = detected
	c.LastChanged = c.now()
	notifier := c.notifier
	c.mutex.Unlock()

	log.Infof("blister pack detected: %v", detected)
	return notifier.NotifyBlisterDetected(detected)
}

// AppendMessage decodes a value written by a central and appends it to the
// message log.
func (c *CaseState) AppendMessage(data []byte) (string, error) {
	msg, err := protocol.DecodeText(data)
	if err != nil {
		return "", err
	}

	c.mutex.Lock()
	c.Messages = append(c.Messages, msg)
	c.mutex.Unlock()

	log.Infof("central wrote: %q", msg)
	return msg, nil
}

// GetMessages returns a copy of the message log.
func (c *CaseState) GetMessages() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	out := make([]string, len(c.Messages))
	copy(out, c.Messages)
	return out
}

// Text is the message log joined in arrival order.
func (c *CaseState) Text() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return strings.Join(c.Messages, "")
}

// ClearMessages empties the message log.
func (c *CaseState) ClearMessages() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.Messages = nil
}

// HandleWrite records writes to the blister pack placed/removed
// characteristic. Other keys are ignored.
func (c *CaseState) HandleWrite(key attribute.Key, value []byte) {
	if key != PlacedRemovedKey {
		return
	}
	if _, err := c.AppendMessage(value); err != nil {
		log.Warnf("could not decode write to %s: %v", key, err)
	}
}

// Value implements the dispatcher's value source for the dynamic
// characteristics.
func (c *CaseState) Value(key attribute.Key) ([]byte, bool) {
	switch key {
	case CaseOpenClosedKey:
		return protocol.EncodeFlag(c.IsOpen()), true
	case DetectionKey:
		return protocol.EncodeFlag(c.IsDetected()), true
	case CurrentTimeKey:
		return protocol.EncodeCurrentTime(c.now(), 0), true
	default:
		return nil, false
	}
}

// Snapshot returns a copy of the state.
func (c *CaseState) Snapshot() Snapshot {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	msgs := make([]string, len(c.Messages))
	copy(msgs, c.Messages)
	return Snapshot{
		Open:            c.Open,
		BlisterDetected: c.BlisterDetected,
		OpenCount:       c.OpenCount,
		LastChanged:     c.LastChanged,
		Messages:        msgs,
		Text:            strings.Join(msgs, ""),
		Uptime:          c.now().Sub(c.StartTime).Truncate(time.Second).String(),
	}
}

func openWord(open bool) string {
	if open {
		return "open"
	}
	return "closed"
}
