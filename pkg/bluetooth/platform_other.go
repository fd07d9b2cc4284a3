//go:build !linux

package bluetooth

import log "github.com/sirupsen/logrus"

func openPlatform(opts Options) (Backend, error) {
	log.Warnf("Bluetooth backend %q is only supported on Linux. Using the loopback backend.", opts.Backend)
	return NewLoopback(), nil
}
