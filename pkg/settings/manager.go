package settings

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jwoglom/fakecadence/pkg/attribute"
	"github.com/jwoglom/fakecadence/pkg/catalog"
)

// ErrNoScript is returned when no script is registered for a characteristic.
var ErrNoScript = errors.New("no value script")

// ResponseMode defines how a value script behaves
type ResponseMode string

const (
	// ModeConstant always returns the same configured value
	ModeConstant ResponseMode = "constant"

	// ModeIncremental cycles through an array of values, one per read
	ModeIncremental ResponseMode = "incremental"

	// ModeTimeBased returns values based on elapsed time since the first read
	ModeTimeBased ResponseMode = "time_based"
)

// ValueScript scripts the value a characteristic reads as. Values are hex
// encoded bytes.
type ValueScript struct {
	// Mode determines the response behavior
	Mode ResponseMode `json:"mode"`

	// Value is used for ModeConstant
	Value string `json:"value,omitempty"`

	// Values is used for ModeIncremental and ModeTimeBased
	Values []string `json:"values,omitempty"`

	// TimingSeconds is used for ModeTimeBased - when each value becomes
	// active, in seconds from the first read. Must match length of Values.
	TimingSeconds []int `json:"timing_seconds,omitempty"`

	// CurrentIndex tracks the current position (for ModeIncremental)
	CurrentIndex int `json:"current_index,omitempty"`

	// StartTime tracks when the first read was made (for ModeTimeBased)
	StartTime time.Time `json:"-"`
}

func (v *ValueScript) clone() *ValueScript {
	c := *v
	c.Values = append([]string(nil), v.Values...)
	c.TimingSeconds = append([]int(nil), v.TimingSeconds...)
	return &c
}

// Manager holds value scripts keyed by characteristic name.
type Manager struct {
	scripts map[string]*ValueScript
	now     func() time.Time
	mutex   sync.RWMutex
}

// NewManager creates an empty manager
func NewManager() *Manager {
	return &Manager{
		scripts: make(map[string]*ValueScript),
		now:     time.Now,
	}
}

// SetScript validates and installs a script for the named characteristic,
// resetting its position.
func (m *Manager) SetScript(name string, script *ValueScript) error {
	if _, ok := charByName(name); !ok {
		return errors.Errorf("unknown characteristic: %s", name)
	}
	if err := validateScript(script); err != nil {
		return errors.Wrapf(err, "invalid script for %s", name)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	script.CurrentIndex = 0
	script.StartTime = time.Time{}
	m.scripts[name] = script
	log.Infof("Updated value script for %s: mode=%s", name, script.Mode)
	return nil
}

// DeleteScript removes a script. Reads fall back to the attribute table.
func (m *Manager) DeleteScript(name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.scripts[name]; !exists {
		return errors.Wrap(ErrNoScript, name)
	}
	delete(m.scripts, name)
	log.Infof("Removed value script for %s", name)
	return nil
}

// GetScript returns a copy of the script for name.
func (m *Manager) GetScript(name string) (*ValueScript, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	script, exists := m.scripts[name]
	if !exists {
		return nil, errors.Wrap(ErrNoScript, name)
	}
	return script.clone(), nil
}

// GetAllScripts returns copies of every registered script
func (m *Manager) GetAllScripts() map[string]*ValueScript {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make(map[string]*ValueScript, len(m.scripts))
	for name, script := range m.scripts {
		result[name] = script.clone()
	}
	return result
}

// Names returns the scripted characteristic names, sorted.
func (m *Manager) Names() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	names := make([]string, 0, len(m.scripts))
	for name := range m.scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResetState rewinds a script to its first value
func (m *Manager) ResetState(name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	script, exists := m.scripts[name]
	if !exists {
		return errors.Wrap(ErrNoScript, name)
	}
	script.CurrentIndex = 0
	script.StartTime = time.Time{}
	log.Infof("Reset value script for %s", name)
	return nil
}

// Next returns the scripted value for name and advances the script.
func (m *Manager) Next(name string) ([]byte, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	script, exists := m.scripts[name]
	if !exists {
		return nil, errors.Wrap(ErrNoScript, name)
	}
	value, err := m.current(name, script)
	if err != nil {
		return nil, err
	}

	switch script.Mode {
	case ModeIncremental:
		script.CurrentIndex = (script.CurrentIndex + 1) % len(script.Values)
		log.Debugf("Incremental value for %s: next index=%d/%d", name, script.CurrentIndex, len(script.Values))
	case ModeTimeBased:
		if script.StartTime.IsZero() {
			script.StartTime = m.now()
		}
	}
	return value, nil
}

// Current returns the value Next would return, leaving the script where it is.
func (m *Manager) Current(name string) ([]byte, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	script, exists := m.scripts[name]
	if !exists {
		return nil, errors.Wrap(ErrNoScript, name)
	}
	return m.current(name, script)
}

// current resolves the script's value at this moment. A time_based script
// that has not started yet is at its first value.
func (m *Manager) current(name string, script *ValueScript) ([]byte, error) {
	var value string
	switch script.Mode {
	case ModeConstant:
		value = script.Value

	case ModeIncremental:
		value = script.Values[script.CurrentIndex]

	case ModeTimeBased:
		elapsed := 0
		if !script.StartTime.IsZero() {
			elapsed = int(m.now().Sub(script.StartTime).Seconds())
		}

		idx := 0
		for i, timing := range script.TimingSeconds {
			if elapsed < timing {
				break
			}
			idx = i
		}
		log.Tracef("Time-based value for %s: elapsed=%ds, index=%d", name, elapsed, idx)
		value = script.Values[idx]

	default:
		return nil, errors.Errorf("unknown response mode: %s", script.Mode)
	}

	return hex.DecodeString(value)
}

// Value implements the dispatcher's value source: a scripted characteristic
// reads as its script's next value, and the read advances the script. Wired
// as the dispatcher's override, a script wins over any value the application
// has cached for the same characteristic until the script is deleted.
func (m *Manager) Value(key attribute.Key) ([]byte, bool) {
	return m.lookup(key, m.Next)
}

// Peek is Value without advancing the script, for display and write staging.
func (m *Manager) Peek(key attribute.Key) ([]byte, bool) {
	return m.lookup(key, m.Current)
}

func (m *Manager) lookup(key attribute.Key, get func(string) ([]byte, error)) ([]byte, bool) {
	name := catalog.Name(key.Characteristic)

	m.mutex.RLock()
	_, exists := m.scripts[name]
	m.mutex.RUnlock()
	if !exists {
		return nil, false
	}

	v, err := get(name)
	if err != nil {
		log.Warnf("value script for %s: %v", name, err)
		return nil, false
	}
	return v, true
}

// LoadFile reads a JSON object of characteristic name to script.
func (m *Manager) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read value scripts")
	}

	var scripts map[string]*ValueScript
	if err := json.Unmarshal(data, &scripts); err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}
	for name, script := range scripts {
		if err := m.SetScript(name, script); err != nil {
			return err
		}
	}
	log.Infof("Loaded %d value scripts from %s", len(scripts), path)
	return nil
}

func validateScript(script *ValueScript) error {
	if script == nil {
		return errors.New("missing script")
	}

	var values []string
	switch script.Mode {
	case ModeConstant:
		values = []string{script.Value}

	case ModeIncremental:
		if len(script.Values) == 0 {
			return errors.New("incremental mode requires non-empty 'values' array")
		}
		values = script.Values

	case ModeTimeBased:
		if len(script.Values) == 0 {
			return errors.New("time_based mode requires non-empty 'values' array")
		}
		if len(script.TimingSeconds) != len(script.Values) {
			return errors.Errorf("time_based mode requires timing_seconds array matching values length (got %d timings, %d values)",
				len(script.TimingSeconds), len(script.Values))
		}
		for i := 1; i < len(script.TimingSeconds); i++ {
			if script.TimingSeconds[i] < script.TimingSeconds[i-1] {
				return errors.New("timing_seconds must be in ascending order")
			}
		}
		values = script.Values

	default:
		return errors.Errorf("unknown response mode: %s (valid modes: constant, incremental, time_based)", script.Mode)
	}

	for _, v := range values {
		b, err := hex.DecodeString(v)
		if err != nil {
			return errors.Wrapf(err, "value %q", v)
		}
		if len(b) > catalog.MaxAttributeLength {
			return errors.Errorf("value is %d bytes, max %d", len(b), catalog.MaxAttributeLength)
		}
	}
	return nil
}

func charByName(name string) (catalog.CharacteristicDefinition, bool) {
	for _, k := range catalog.Kinds() {
		def, _ := catalog.Define(k)
		for _, c := range def.Characteristics {
			if c.Name == name {
				return c, true
			}
		}
	}
	return catalog.CharacteristicDefinition{}, false
}
