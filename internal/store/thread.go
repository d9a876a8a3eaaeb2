package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path"

	"github.com/corralhq/corral/internal/common/errors"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/model"
	"github.com/corralhq/corral/internal/volume"
)

const conversationsFile = "conversations.jsonl"

// ThreadStore appends ThreadMessages to <agent_dir>/logs/conversations.jsonl,
// used by agent types that expose a conversational "zygote" interface
// instead of (or in addition to) a raw tmux pane.
type ThreadStore struct {
	vol volume.Volume
}

// NewThreadStore wraps vol (already scoped to an agent's directory).
func NewThreadStore(vol volume.Volume) *ThreadStore {
	return &ThreadStore{vol: vol}
}

func conversationsPath() string {
	return path.Join("logs", conversationsFile)
}

// Append adds msg to the end of the thread by rewriting the whole file.
// It is not atomic across concurrent appenders: two Appends racing on one
// thread can lose a message.
func (s *ThreadStore) Append(ctx context.Context, id ids.AgentId, msg model.ThreadMessage) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return errors.Internal("", err, "marshaling thread message for agent %s", id)
	}

	existing, err := s.vol.ReadFile(ctx, conversationsPath())
	if err != nil {
		existing = nil
	}
	var buf bytes.Buffer
	buf.Write(existing)
	buf.Write(line)
	buf.WriteByte('\n')

	if err := s.vol.WriteFiles(ctx, map[string][]byte{conversationsPath(): buf.Bytes()}); err != nil {
		return errors.Internal("", err, "appending thread message for agent %s", id)
	}
	return nil
}

// ReadAll returns every message in the thread in append order, skipping
// any malformed trailing line left by a crash mid-write.
func (s *ThreadStore) ReadAll(ctx context.Context) ([]model.ThreadMessage, error) {
	content, err := s.vol.ReadFile(ctx, conversationsPath())
	if err != nil {
		return nil, nil
	}

	var out []model.ThreadMessage
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg model.ThreadMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}
