//go:build linux

package bluetooth

func openPlatform(opts Options) (Backend, error) {
	if opts.Backend == BackendBlueZ {
		return NewBlueZ(opts)
	}
	return NewHCI(opts)
}
