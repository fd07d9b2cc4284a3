package settings

import log "github.com/sirupsen/logrus"

// RegisterDefaults installs the demo scripts.
func RegisterDefaults(manager *Manager) {
	// Blister pack detection flickers while a pack is being seated
	if err := manager.SetScript("blisterPackDetection", &ValueScript{
		Mode:          ModeTimeBased,
		TimingSeconds: []int{0, 5, 6, 7},
		Values:        []string{"00", "01", "00", "01"},
	}); err != nil {
		log.Warnf("default script: %v", err)
		return
	}

	log.Info("Registered default value scripts")
}
