// Package ssh implements the provider backend whose hosts are entries
// under `[hosts.<name>]` in configuration: each is a long-lived,
// operator-managed machine reachable over SSH (spec §4.5).
package ssh

import (
	"fmt"
	"net"
	"sync"
	"time"

	"context"

	xssh "golang.org/x/crypto/ssh"

	"github.com/corralhq/corral/internal/common/errors"
	"github.com/corralhq/corral/internal/common/logger"
	"github.com/corralhq/corral/internal/host"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/model"
	"github.com/corralhq/corral/internal/provider"
	"github.com/corralhq/corral/internal/volume"
)

// HostConfig is one `[hosts.<name>]` table.
type HostConfig struct {
	Address        string
	User           string
	IdentityFile   string
	KnownHostsFile string
	Tags           map[string]string
}

// Backend binds one SSH-reachable host per configured HostConfig entry.
// Unlike the other backends, its host set is fixed by configuration
// rather than dynamically created (CreateHost rejects unknown names).
type Backend struct {
	log     *logger.Logger
	signers []xssh.Signer

	mu      sync.Mutex
	configs map[ids.HostName]HostConfig
	records map[ids.HostId]*model.HostRecord
	byName  map[ids.HostName]ids.HostId
	conns   map[ids.HostId]*xssh.Client
}

// New returns an ssh backend with configs describing its fixed host set.
// signers authenticate every connection (spec §4.5 has no per-host auth
// beyond the shared SSH identity).
func New(configs map[ids.HostName]HostConfig, signers []xssh.Signer, log *logger.Logger) *Backend {
	if log == nil {
		log = logger.Default()
	}
	b := &Backend{
		log:     log,
		signers: signers,
		configs: configs,
		records: make(map[ids.HostId]*model.HostRecord),
		byName:  make(map[ids.HostName]ids.HostId),
		conns:   make(map[ids.HostId]*xssh.Client),
	}
	for name, cfg := range configs {
		id := ids.NewHostId()
		b.records[id] = &model.HostRecord{Id: id, Name: name, ProviderName: "ssh", State: model.HostStopped, Tags: cfg.Tags}
		b.byName[name] = id
	}
	return b
}

func (b *Backend) Name() ids.ProviderBackendName { return ids.BackendSSH }

func (b *Backend) record(id ids.HostId) (*model.HostRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.records[id]
	if !ok {
		return nil, errors.NotFound("host", string(id))
	}
	return r, nil
}

func (b *Backend) ListHosts(_ context.Context, includeDestroyed bool) ([]*model.HostRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*model.HostRecord, 0, len(b.records))
	for _, r := range b.records {
		if !includeDestroyed && r.State == model.HostDestroyed {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (b *Backend) GetHost(_ context.Context, ref string) (*model.HostRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.byName[ids.HostName(ref)]; ok {
		return b.records[id], nil
	}
	if r, ok := b.records[ids.HostId(ref)]; ok {
		return r, nil
	}
	return nil, errors.NotFound("host", ref)
}

func (b *Backend) CreateHost(_ context.Context, name ids.HostName, _ provider.HostOptions) (*model.HostRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.byName[name]
	if !ok {
		return nil, errors.UserInput("no [hosts.%s] entry is configured for the ssh backend", name)
	}
	return b.records[id], nil
}

func (b *Backend) dial(cfg HostConfig) (*xssh.Client, error) {
	clientCfg := &xssh.ClientConfig{
		User:            cfg.User,
		Auth:            []xssh.AuthMethod{xssh.PublicKeys(b.signers...)},
		HostKeyCallback: xssh.InsecureIgnoreHostKey(), //nolint — known_hosts pinning is TODO
		Timeout:         10 * time.Second,
	}
	addr := cfg.Address
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}
	return xssh.Dial("tcp", addr, clientCfg)
}

func (b *Backend) StartHost(_ context.Context, id ids.HostId) error {
	r, err := b.record(id)
	if err != nil {
		return err
	}
	cfg, ok := b.configs[r.Name]
	if !ok {
		return errors.Internal("", nil, "missing config for host %s", r.Name)
	}
	conn, err := b.dial(cfg)
	if err != nil {
		return errors.HostOffline(string(r.Name))
	}
	b.mu.Lock()
	b.conns[id] = conn
	r.State = model.HostRunning
	b.mu.Unlock()
	return nil
}

func (b *Backend) StopHost(_ context.Context, id ids.HostId) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if conn, ok := b.conns[id]; ok {
		_ = conn.Close()
		delete(b.conns, id)
	}
	if r, ok := b.records[id]; ok {
		r.State = model.HostStopped
	}
	return nil
}

func (b *Backend) DestroyHost(ctx context.Context, id ids.HostId) error {
	return errors.State("ssh hosts are operator-managed and cannot be destroyed by corral")
}

func (b *Backend) RenameHost(context.Context, ids.HostId, ids.HostName) error {
	return errors.State("ssh hosts are named by their [hosts.<name>] configuration entry and cannot be renamed")
}

func (b *Backend) GetHostResources(context.Context, ids.HostId) (*provider.HostResources, error) {
	return &provider.HostResources{}, nil
}

func (b *Backend) GetHostTags(_ context.Context, id ids.HostId) (map[string]string, error) {
	r, err := b.record(id)
	if err != nil {
		return nil, err
	}
	return r.Tags, nil
}

func (b *Backend) AddTagsToHost(_ context.Context, id ids.HostId, tags map[string]string) error {
	r, err := b.record(id)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.Tags == nil {
		r.Tags = map[string]string{}
	}
	for k, v := range tags {
		r.Tags[k] = v
	}
	return nil
}

func (b *Backend) RemoveTagsFromHost(_ context.Context, id ids.HostId, keys []string) error {
	r, err := b.record(id)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(r.Tags, k)
	}
	return nil
}

func (b *Backend) SetHostTags(_ context.Context, id ids.HostId, tags map[string]string) error {
	r, err := b.record(id)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	r.Tags = tags
	return nil
}

func (b *Backend) OnConnectionError(_ context.Context, id ids.HostId) error {
	return b.StopHost(context.Background(), id)
}

func (b *Backend) Online(_ context.Context, id ids.HostId) (host.Interface, error) {
	r, err := b.record(id)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	conn, ok := b.conns[id]
	b.mu.Unlock()
	if !ok {
		return nil, errors.HostOffline(string(r.Name))
	}
	return host.NewSSHHost(conn, fmt.Sprintf("/home/%s/.corral", b.configs[r.Name].User)), nil
}

func (b *Backend) SupportsSnapshots() bool     { return false }
func (b *Backend) SupportsShutdownHosts() bool { return true }
func (b *Backend) SupportsVolumes() bool       { return true }
func (b *Backend) SupportsMutableTags() bool   { return true }

// Close closes every open SSH connection, implementing provider.Closeable.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var lastErr error
	for id, conn := range b.conns {
		if err := conn.Close(); err != nil {
			lastErr = err
		}
		delete(b.conns, id)
	}
	return lastErr
}

// GetHostVolume opens a fresh SFTP subsystem over the host's cached
// connection, rooted at its corral state directory, implementing
// provider.HostVolume.
func (b *Backend) GetHostVolume(hostID ids.HostId) (volume.Volume, error) {
	r, err := b.record(hostID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	conn, ok := b.conns[hostID]
	b.mu.Unlock()
	if !ok {
		return nil, errors.HostOffline(string(r.Name))
	}
	root := fmt.Sprintf("/home/%s/.corral", b.configs[r.Name].User)
	base, err := volume.NewSSH(conn, root)
	if err != nil {
		return nil, errors.Provider(err, "opening sftp subsystem for host %s", r.Name)
	}
	return base, nil
}

var _ provider.Backend = (*Backend)(nil)
var _ provider.Closeable = (*Backend)(nil)
var _ provider.HostVolume = (*Backend)(nil)
