package store

import (
	"context"
	"encoding/json"
	"path"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/corralhq/corral/internal/common/errors"
	"github.com/corralhq/corral/internal/common/logger"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/model"
	"github.com/corralhq/corral/internal/volume"
)

// HostStore persists HostRecords at <provider_dir>/hosts/<HostId>.json.
type HostStore struct {
	vol volume.Volume
	log *logger.Logger
}

// NewHostStore wraps vol (scoped to a provider instance's directory).
func NewHostStore(vol volume.Volume, log *logger.Logger) *HostStore {
	if log == nil {
		log = logger.Default()
	}
	return &HostStore{vol: vol, log: log}
}

func hostRecordPath(id ids.HostId) string {
	return path.Join(hostsDir, string(id)+".json")
}

// pluginDataPath is a YAML sidecar mirroring HostRecord.PluginData, kept
// separate from the JSON record so an operator debugging a single
// backend's plugin-specific fields (tags, snapshot bookkeeping, ...) can
// hand-edit just that without touching the rest of the record. On read,
// the sidecar wins over whatever PluginData was last written into the
// JSON record, so a hand edit takes effect on the next read.
func pluginDataPath(id ids.HostId) string {
	return path.Join(hostsDir, string(id)+".plugin.yaml")
}

func (s *HostStore) WriteHost(ctx context.Context, record *model.HostRecord) error {
	content, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errors.Internal("", err, "marshaling host record %s", record.Id)
	}
	if err := s.vol.WriteFiles(ctx, map[string][]byte{hostRecordPath(record.Id): content}); err != nil {
		return errors.Internal("", err, "writing host record %s", record.Id)
	}
	if len(record.PluginData) == 0 {
		_ = s.vol.RemoveFile(ctx, pluginDataPath(record.Id))
		return nil
	}
	pluginContent, err := yaml.Marshal(record.PluginData)
	if err != nil {
		return errors.Internal("", err, "marshaling plugin data for host %s", record.Id)
	}
	if err := s.vol.WriteFiles(ctx, map[string][]byte{pluginDataPath(record.Id): pluginContent}); err != nil {
		return errors.Internal("", err, "writing plugin data for host %s", record.Id)
	}
	return nil
}

func (s *HostStore) ReadHost(ctx context.Context, id ids.HostId) (*model.HostRecord, error) {
	content, err := s.vol.ReadFile(ctx, hostRecordPath(id))
	if err != nil {
		return nil, errors.NotFound("host", string(id))
	}
	var record model.HostRecord
	if err := json.Unmarshal(content, &record); err != nil {
		return nil, errors.Internal("", err, "malformed host record %s", id)
	}

	if pluginContent, err := s.vol.ReadFile(ctx, pluginDataPath(id)); err == nil {
		var pluginData map[string]any
		if yamlErr := yaml.Unmarshal(pluginContent, &pluginData); yamlErr != nil {
			s.log.Warn("ignoring malformed plugin data sidecar", zap.String("host_id", string(id)), zap.Error(yamlErr))
		} else {
			record.PluginData = pluginData
		}
	}
	return &record, nil
}

func (s *HostStore) DeleteHost(ctx context.Context, id ids.HostId) error {
	_ = s.vol.RemoveFile(ctx, pluginDataPath(id))
	return s.vol.RemoveFile(ctx, hostRecordPath(id))
}

// ListHosts returns every host record, including destroyed ones when
// includeDestroyed is true, tolerating malformed entries the same way
// ListAgents does.
func (s *HostStore) ListHosts(ctx context.Context, includeDestroyed bool) []*model.HostRecord {
	entries, err := s.vol.Listdir(ctx, hostsDir)
	if err != nil {
		s.log.Warn("listing hosts directory failed", zap.Error(err))
		return nil
	}

	var out []*model.HostRecord
	for _, e := range entries {
		if e.Kind != volume.KindFile {
			continue
		}
		id := ids.HostId(trimJSONExt(path.Base(e.Path)))
		record, err := s.ReadHost(ctx, id)
		if err != nil {
			s.log.Warn("skipping malformed or missing host record", zap.String("host_id", string(id)), zap.Error(err))
			continue
		}
		if !includeDestroyed && record.State == model.HostDestroyed {
			continue
		}
		out = append(out, record)
	}
	return out
}

// ResolveHostByNameOrID mirrors AgentStore.ResolveByNameOrID for hosts.
func (s *HostStore) ResolveHostByNameOrID(ctx context.Context, ref string) (*model.HostRecord, error) {
	if ids.IsValidHostId(ref) {
		return s.ReadHost(ctx, ids.HostId(ref))
	}
	var matches []*model.HostRecord
	for _, record := range s.ListHosts(ctx, false) {
		if string(record.Name) == ref {
			matches = append(matches, record)
		}
	}
	switch len(matches) {
	case 0:
		return nil, errors.NotFound("host", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, errors.UserInput("host name %q is ambiguous: matches %d records", ref, len(matches))
	}
}

func trimJSONExt(name string) string {
	const suffix = ".json"
	if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
		return name[:len(name)-len(suffix)]
	}
	return name
}
