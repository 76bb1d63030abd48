// Package share implements PublicShare (§3, §6): durable YAML-backed share
// metadata, password verification, and the one-shot 60-second download
// token flow, grounded in original_source/server/app/models.py's
// PublicShareMetadata and sessionstore.Store's persistence shape.
package share

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/streamspace/sealskin/internal/broker"
	"github.com/streamspace/sealskin/internal/logger"
	"github.com/streamspace/sealskin/internal/types"
)

const downloadTokenTTL = 60 * time.Second

// downloadToken is a one-shot grant minted after a successful password
// check (or immediately, for unprotected shares).
type downloadToken struct {
	shareID string
	expires time.Time
}

// Store is the durable, mutex-guarded PublicShare metadata table plus the
// in-memory one-shot download-token table.
type Store struct {
	metaPath string
	fileDir  string

	mu     sync.Mutex
	shares map[string]*types.PublicShare

	tokMu  sync.Mutex
	tokens map[string]downloadToken
}

// Load reads metaPath (absent file => empty store). File blobs live under
// fileDir, one file per share_id.
func Load(metaPath, fileDir string) (*Store, error) {
	s := &Store{
		metaPath: metaPath,
		fileDir:  fileDir,
		shares:   make(map[string]*types.PublicShare),
		tokens:   make(map[string]downloadToken),
	}
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, broker.Internal("read shares db", err)
	}
	var loaded map[string]*types.PublicShare
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return nil, broker.Internal("parse shares db", err)
	}
	if loaded != nil {
		s.shares = loaded
	}
	return s, nil
}

func (s *Store) persistLocked() error {
	raw, err := yaml.Marshal(s.shares)
	if err != nil {
		return broker.Internal("marshal shares db", err)
	}
	tmp := s.metaPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return broker.Internal("write shares db", err)
	}
	if err := os.Rename(tmp, s.metaPath); err != nil {
		return broker.Internal("rename shares db", err)
	}
	return nil
}

// Create registers a new share for an already-placed file at <fileDir>/<share_id>.
// password, if non-empty, is hashed with SHA-256 hex per §2.2's deliberate
// spec-over-teacher choice (see DESIGN.md). expirySeconds of 0 means never.
func (s *Store) Create(owner, originalFilename string, sizeBytes int64, password string, expirySeconds int64) (types.PublicShare, error) {
	shareID := uuid.NewString()
	sh := types.PublicShare{
		ShareID:          shareID,
		OwnerUsername:    owner,
		OriginalFilename: originalFilename,
		SizeBytes:        sizeBytes,
		CreatedAt:        time.Now(),
	}
	if password != "" {
		sum := sha256.Sum256([]byte(password))
		sh.PasswordHash = hex.EncodeToString(sum[:])
	}
	if expirySeconds > 0 {
		exp := time.Now().Unix() + expirySeconds
		sh.ExpiryTimestamp = &exp
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.shares[shareID] = &sh
	if err := s.persistLocked(); err != nil {
		delete(s.shares, shareID)
		return types.PublicShare{}, err
	}
	return sh, nil
}

// Get returns share metadata, or ok=false.
func (s *Store) Get(shareID string) (types.PublicShare, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shares[shareID]
	if !ok {
		return types.PublicShare{}, false
	}
	return *sh, true
}

// FilePath returns the on-disk blob path for shareID.
func (s *Store) FilePath(shareID string) string {
	return filepath.Join(s.fileDir, shareID)
}

// Delete removes a share's metadata entry and its file blob.
func (s *Store) Delete(shareID string) error {
	s.mu.Lock()
	_, ok := s.shares[shareID]
	if !ok {
		s.mu.Unlock()
		return broker.NotFound("share not found")
	}
	delete(s.shares, shareID)
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if rmErr := os.Remove(s.FilePath(shareID)); rmErr != nil && !os.IsNotExist(rmErr) {
		logger.Share().Warn().Err(rmErr).Str("share_id", shareID).Msg("failed to remove share blob")
	}
	return nil
}

// CheckPassword verifies a candidate password against a share's stored
// hash using constant-time comparison of the hex digests.
func CheckPassword(sh types.PublicShare, candidate string) bool {
	if sh.PasswordHash == "" {
		return true
	}
	sum := sha256.Sum256([]byte(candidate))
	return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(sh.PasswordHash)) == 1
}

// IsExpired reports whether sh's expiry has passed as of now.
func IsExpired(sh types.PublicShare, now time.Time) bool {
	return sh.ExpiryTimestamp != nil && time.Unix(*sh.ExpiryTimestamp, 0).Before(now)
}

// MintDownloadToken issues a one-shot, 60-second download grant for shareID,
// per §6's "303-redirect to a one-shot, 60-second download URL" wire rule.
func (s *Store) MintDownloadToken(shareID string) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", broker.Internal("generate download token", err)
	}
	token := hex.EncodeToString(buf)

	s.tokMu.Lock()
	s.tokens[token] = downloadToken{shareID: shareID, expires: time.Now().Add(downloadTokenTTL)}
	s.tokMu.Unlock()
	return token, nil
}

// ConsumeDownloadToken redeems token exactly once: a second attempt, an
// expired token, or an unknown token all return ok=false (the caller maps
// this to 403 per §8 scenario 7).
func (s *Store) ConsumeDownloadToken(token string) (shareID string, ok bool) {
	s.tokMu.Lock()
	defer s.tokMu.Unlock()
	dt, found := s.tokens[token]
	delete(s.tokens, token)
	if !found || time.Now().After(dt.expires) {
		return "", false
	}
	return dt.shareID, true
}

// SweepExpired deletes every share whose expiry has passed, returning the
// removed share IDs for the caller to publish lifecycle events about.
func (s *Store) SweepExpired(now time.Time) []string {
	s.mu.Lock()
	var expired []string
	for id, sh := range s.shares {
		if IsExpired(*sh, now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(s.shares, id)
	}
	if len(expired) > 0 {
		if err := s.persistLocked(); err != nil {
			logger.Share().Warn().Err(err).Msg("failed to persist shares db after sweep")
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		if rmErr := os.Remove(s.FilePath(id)); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Share().Warn().Err(rmErr).Str("share_id", id).Msg("failed to remove expired share blob")
		}
	}
	return expired
}
