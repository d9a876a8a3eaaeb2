// Package facade wires a loaded Config into a running Engine plus its
// supporting stores, and exposes the thin, CLI/HTTP-shaped operations
// built on top of it (spec §4.9, C11). It is the one place that knows
// how to turn `[providers.<name>]` configuration into live provider
// Backends, mirroring kandev's orchestrator bootstrap.
package facade

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	xssh "golang.org/x/crypto/ssh"

	"github.com/corralhq/corral/internal/auth"
	"github.com/corralhq/corral/internal/backendresolver"
	"github.com/corralhq/corral/internal/common/config"
	corralerrors "github.com/corralhq/corral/internal/common/errors"
	"github.com/corralhq/corral/internal/common/logger"
	"github.com/corralhq/corral/internal/concurrency"
	"github.com/corralhq/corral/internal/engine"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/provider"
	"github.com/corralhq/corral/internal/provider/cloudsandbox"
	"github.com/corralhq/corral/internal/provider/docker"
	"github.com/corralhq/corral/internal/provider/local"
	"github.com/corralhq/corral/internal/provider/ssh"
)

// Facade bundles everything a corral process (CLI, proxy, or attach
// client) needs once configuration has been loaded.
type Facade struct {
	Config    *config.Config
	Registry  *provider.Registry
	Engine    *engine.Engine
	Resolver  *backendresolver.Resolver
	AuthStore *auth.Store
	Log       *logger.Logger
	Group     *concurrency.Group
}

// New loads configuration (configPath may be empty to use the default
// search path), then builds every provider backend it names, binding
// each to its configured instance name in a fresh Registry.
func New(configPath string) (*Facade, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		log = logger.Default()
	}
	logger.SetDefault(log)

	if err := os.MkdirAll(cfg.DefaultHostDir, 0o755); err != nil {
		return nil, corralerrors.Internal("", err, "creating host dir %s", cfg.DefaultHostDir)
	}

	group := concurrency.New(context.Background(), nil)
	registry := provider.NewRegistry(log)
	if err := buildBackends(cfg, registry, group, log); err != nil {
		return nil, err
	}

	eng := engine.New(registry, group, log, cfg.Prefix, engine.DefaultHooks(""))
	resolver := backendresolver.New(cfg.DefaultHostDir, log)
	authStore := auth.New(filepath.Join(cfg.DefaultHostDir, "auth"), log)

	return &Facade{
		Config:    cfg,
		Registry:  registry,
		Engine:    eng,
		Resolver:  resolver,
		AuthStore: authStore,
		Log:       log,
		Group:     group,
	}, nil
}

// Close tears down every registered backend and the root process group.
func (f *Facade) Close() error {
	f.Registry.ResetForTesting()
	return f.Group.Close()
}

// buildBackends dispatches each configured `[providers.<name>]` entry to
// its backend constructor by the `backend=` discriminator (spec §4.5:
// "local", "ssh", "docker", "cloud-sandbox"). A provider instance whose
// dependencies cannot be constructed (e.g. a Docker daemon that is not
// reachable) fails Facade construction outright, since a half-wired
// registry would silently drop agents on an unreachable backend.
func buildBackends(cfg *config.Config, registry *provider.Registry, group *concurrency.Group, log *logger.Logger) error {
	if len(cfg.Providers) == 0 {
		registry.Register("default", local.New(cfg.DefaultHostDir, group, log))
		return nil
	}

	for name, p := range cfg.Providers {
		instance := ids.ProviderInstanceName(name)
		switch p.Backend {
		case "local":
			registry.Register(instance, local.New(cfg.DefaultHostDir, group, log))
		case "ssh":
			hostConfigs, signers, err := sshHostsFromFields(p.Fields)
			if err != nil {
				return corralerrors.Config("providers.%s: %v", name, err)
			}
			registry.Register(instance, ssh.New(hostConfigs, signers, log))
		case "docker":
			dockerCfg := docker.Config{
				Image:     stringField(p.Fields, "image"),
				DockerAPI: stringField(p.Fields, "docker_api"),
				BindRoot:  stringField(p.Fields, "bind_root"),
			}
			backend, err := docker.New(dockerCfg, log)
			if err != nil {
				return corralerrors.Config("providers.%s: %v", name, err)
			}
			registry.Register(instance, backend)
		case "cloud-sandbox":
			sandboxCfg := cloudsandbox.Config{
				APIToken: stringField(p.Fields, "api_token"),
				Image:    stringField(p.Fields, "image"),
			}
			backend, err := cloudsandbox.New(sandboxCfg, log)
			if err != nil {
				return corralerrors.Config("providers.%s: %v", name, err)
			}
			registry.Register(instance, backend)
		default:
			return corralerrors.Config("providers.%s: unknown backend %q", name, p.Backend)
		}
	}
	return nil
}

func stringField(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// sshHostsFromFields decodes the `[providers.<name>.hosts.<host>]` tables
// viper folds into Fields["hosts"], and parses each host's identity file
// into a signer up front so a bad key is caught at start-up rather than
// on first connection attempt.
func sshHostsFromFields(fields map[string]any) (map[ids.HostName]ssh.HostConfig, []xssh.Signer, error) {
	raw, _ := fields["hosts"].(map[string]any)
	configs := make(map[ids.HostName]ssh.HostConfig, len(raw))
	var signers []xssh.Signer
	seen := make(map[string]bool)

	for name, v := range raw {
		entry, _ := v.(map[string]any)
		hc := ssh.HostConfig{
			Address:        stringField(entry, "address"),
			User:           stringField(entry, "user"),
			IdentityFile:   stringField(entry, "identity_file"),
			KnownHostsFile: stringField(entry, "known_hosts_file"),
		}
		configs[ids.HostName(name)] = hc

		if hc.IdentityFile == "" || seen[hc.IdentityFile] {
			continue
		}
		seen[hc.IdentityFile] = true
		key, err := os.ReadFile(hc.IdentityFile)
		if err != nil {
			return nil, nil, fmt.Errorf("reading identity file %s: %w", hc.IdentityFile, err)
		}
		signer, err := xssh.ParsePrivateKey(key)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing identity file %s: %w", hc.IdentityFile, err)
		}
		signers = append(signers, signer)
	}
	return configs, signers, nil
}
