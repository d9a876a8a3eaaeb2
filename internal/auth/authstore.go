// Package auth implements the one-time-code store and signing-key
// persistence the reverse proxy uses to authenticate a browser session
// against exactly one agent (spec §4.7, C8).
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/common/errors"
	"github.com/corralhq/corral/internal/common/logger"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/model"
	"github.com/corralhq/corral/internal/volume"
)

const (
	codesFile      = "one_time_codes.json"
	signingKeyFile = "signing_key"
	signingKeyLen  = 64
)

// Store persists one-time codes and the cookie-signing key under
// <authDir> (spec §4.7).
type Store struct {
	dir string
	log *logger.Logger

	mu sync.Mutex
}

// New returns a Store rooted at authDir.
func New(authDir string, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Default()
	}
	return &Store{dir: authDir, log: log}
}

func (s *Store) codesPath() string { return filepath.Join(s.dir, codesFile) }

func (s *Store) readCodes() []model.OneTimeCode {
	content, err := os.ReadFile(s.codesPath())
	if err != nil {
		return nil
	}
	var codes []model.OneTimeCode
	if err := json.Unmarshal(content, &codes); err != nil {
		s.log.Warn("one_time_codes.json is corrupt, treating as empty", zap.Error(err))
		return nil
	}
	return codes
}

func (s *Store) writeCodes(codes []model.OneTimeCode) error {
	content, err := json.MarshalIndent(codes, "", "  ")
	if err != nil {
		return errors.Internal("", err, "marshaling one-time codes")
	}
	return volume.AtomicWriteFile(s.codesPath(), content, 0o644)
}

// AddOneTimeCode persists {code, agent_id, status=VALID} (spec §4.7).
func (s *Store) AddOneTimeCode(_ context.Context, agentID ids.AgentId, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.readCodes()
	codes = append(codes, model.OneTimeCode{Code: code, AgentId: agentID, Status: model.CodeValid})
	return s.writeCodes(codes)
}

// ValidateAndConsumeCode finds the exact (code, agentID) pair with
// status VALID; on success it is atomically marked USED and true is
// returned. A code bound to one agent never authenticates another
// (spec §4.7, P2).
func (s *Store) ValidateAndConsumeCode(_ context.Context, agentID ids.AgentId, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.readCodes()
	for i := range codes {
		if codes[i].Code == code && codes[i].AgentId == agentID && codes[i].Status == model.CodeValid {
			codes[i].Status = model.CodeUsed
			if err := s.writeCodes(codes); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// RevokeCode marks every VALID code for agentID as REVOKED, e.g. on
// destroy().
func (s *Store) RevokeCode(_ context.Context, agentID ids.AgentId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.readCodes()
	changed := false
	for i := range codes {
		if codes[i].AgentId == agentID && codes[i].Status == model.CodeValid {
			codes[i].Status = model.CodeRevoked
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.writeCodes(codes)
}

// ListAgentIDsWithValidCodes is used by the proxy's landing page to know
// which agents a given browser might still be able to authenticate to.
func (s *Store) ListAgentIDsWithValidCodes(_ context.Context) []ids.AgentId {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[ids.AgentId]bool{}
	var out []ids.AgentId
	for _, c := range s.readCodes() {
		if c.Status == model.CodeValid && !seen[c.AgentId] {
			seen[c.AgentId] = true
			out = append(out, c.AgentId)
		}
	}
	return out
}

// GetSigningKey returns the persisted key at <authDir>/signing_key,
// generating a fresh >=64-byte URL-safe random key on first use and
// writing it with mode 0600. An empty key file is an error, not an
// implicit regeneration (spec §4.7).
func (s *Store) GetSigningKey() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(s.dir, signingKeyFile)

	content, err := os.ReadFile(path)
	if err == nil {
		if len(content) == 0 {
			return nil, errors.Config("signing key file %s is empty", path)
		}
		return content, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Internal("", err, "reading signing key")
	}

	key := make([]byte, signingKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Internal("", err, "generating signing key")
	}
	encoded := []byte(base64.URLEncoding.EncodeToString(key))
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, errors.Internal("", err, "creating auth directory")
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return nil, errors.Internal("", err, "writing signing key")
	}
	return encoded, nil
}
