package share

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "files"), 0o755))
	s, err := Load(filepath.Join(dir, "shares.yaml"), filepath.Join(dir, "files"))
	require.NoError(t, err)
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	sh, err := s.Create("alice", "report.pdf", 1024, "swordfish", 3600)
	require.NoError(t, err)
	require.NotEmpty(t, sh.PasswordHash)

	got, ok := s.Get(sh.ShareID)
	require.True(t, ok)
	assert.Equal(t, "report.pdf", got.OriginalFilename)
	require.NotNil(t, got.ExpiryTimestamp)
}

func TestCheckPassword(t *testing.T) {
	s := newTestStore(t)
	sh, err := s.Create("alice", "f.txt", 10, "swordfish", 0)
	require.NoError(t, err)

	assert.False(t, CheckPassword(sh, "wrong"))
	assert.True(t, CheckPassword(sh, "swordfish"))

	noPassShare, err := s.Create("alice", "g.txt", 10, "", 0)
	require.NoError(t, err)
	assert.True(t, CheckPassword(noPassShare, "anything"))
}

func TestDownloadTokenOneShot(t *testing.T) {
	s := newTestStore(t)
	sh, _ := s.Create("alice", "f.txt", 10, "", 0)

	tok, err := s.MintDownloadToken(sh.ShareID)
	require.NoError(t, err)

	id, ok := s.ConsumeDownloadToken(tok)
	require.True(t, ok)
	assert.Equal(t, sh.ShareID, id)

	_, ok = s.ConsumeDownloadToken(tok)
	assert.False(t, ok, "second consume must fail")
}

func TestDownloadTokenExpires(t *testing.T) {
	s := newTestStore(t)
	sh, _ := s.Create("alice", "f.txt", 10, "", 0)
	tok, err := s.MintDownloadToken(sh.ShareID)
	require.NoError(t, err)

	s.tokMu.Lock()
	dt := s.tokens[tok]
	dt.expires = time.Now().Add(-time.Second)
	s.tokens[tok] = dt
	s.tokMu.Unlock()

	_, ok := s.ConsumeDownloadToken(tok)
	assert.False(t, ok)
}

func TestSweepExpired(t *testing.T) {
	s := newTestStore(t)
	sh, err := s.Create("alice", "f.txt", 10, "", 1)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.FilePath(sh.ShareID), []byte("data"), 0o600))

	removed := s.SweepExpired(time.Now().Add(2 * time.Second))
	require.Equal(t, []string{sh.ShareID}, removed)

	_, ok := s.Get(sh.ShareID)
	assert.False(t, ok)
	_, err = os.Stat(s.FilePath(sh.ShareID))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteRemovesMetadataAndBlob(t *testing.T) {
	s := newTestStore(t)
	sh, err := s.Create("alice", "f.txt", 10, "", 0)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.FilePath(sh.ShareID), []byte("data"), 0o600))

	require.NoError(t, s.Delete(sh.ShareID))
	_, ok := s.Get(sh.ShareID)
	assert.False(t, ok)

	err = s.Delete(sh.ShareID)
	assert.Error(t, err)
}
