package host

// offlineHost is the data-only view of a host that is not currently
// reachable (its provider instance is stopped, the host's a Docker
// container not running, etc). Mutating calls must go through the
// owning provider instance instead (spec §4.4).
type offlineHost struct {
	hostDir string
	isLocal bool
}

// NewOfflineHost wraps a host record's static metadata as an
// OfflineHost.
func NewOfflineHost(hostDir string, isLocal bool) OfflineHost {
	return &offlineHost{hostDir: hostDir, isLocal: isLocal}
}

func (o *offlineHost) HostDir() string { return o.hostDir }
func (o *offlineHost) IsLocal() bool   { return o.isLocal }
