// Package storage implements StorageManager (§4.I): persistent/ephemeral
// home provisioning, path validation, unique naming, and chunked upload
// reassembly.
package storage

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/streamspace/sealskin/internal/broker"
	"github.com/streamspace/sealskin/internal/logger"
)

const ephemeralDirName = "sealskin_ephemeral"
const sharedFilesDirName = "_sealskin_shared_files"

var homeNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Manager provisions and validates storage under a single root.
type Manager struct {
	root      string
	uploadDir string
}

// New constructs a Manager rooted at storageRoot, with uploads staged under
// uploadDir.
func New(storageRoot, uploadDir string) *Manager {
	return &Manager{root: storageRoot, uploadDir: uploadDir}
}

// ValidateHomeName checks home_name against §4.I's regex.
func ValidateHomeName(name string) error {
	if !homeNameRe.MatchString(name) {
		return broker.Validation("home name must match ^[A-Za-z0-9_-]+$")
	}
	return nil
}

// PersistentHomePath returns <storage_root>/<username>/<home_name>.
func (m *Manager) PersistentHomePath(username, homeName string) string {
	return filepath.Join(m.root, username, homeName)
}

// SharedFilesPath returns <storage_root>/<username>/_sealskin_shared_files.
func (m *Manager) SharedFilesPath(username string) string {
	return filepath.Join(m.root, username, sharedFilesDirName)
}

// EphemeralPath returns <storage_root>/sealskin_ephemeral/<uuid>.
func (m *Manager) EphemeralPath(id string) string {
	return filepath.Join(m.root, ephemeralDirName, id)
}

// NewEphemeralPath mints a fresh ephemeral path.
func (m *Manager) NewEphemeralPath() string {
	return m.EphemeralPath(uuid.NewString())
}

// CreatePersistentHome creates <path>/Desktop/files, and the sidecar shared
// files dir for username, per §4.I.
func (m *Manager) CreatePersistentHome(username, homeName string) (string, error) {
	if err := ValidateHomeName(homeName); err != nil {
		return "", err
	}
	path := m.PersistentHomePath(username, homeName)
	if err := os.MkdirAll(filepath.Join(path, "Desktop", "files"), 0o755); err != nil {
		return "", broker.Internal("create persistent home", err)
	}
	if err := os.MkdirAll(m.SharedFilesPath(username), 0o755); err != nil {
		return "", broker.Internal("create shared files sidecar", err)
	}
	return path, nil
}

// HomeExists reports whether a persistent home dir exists for username.
func (m *Manager) HomeExists(username, homeName string) bool {
	info, err := os.Stat(m.PersistentHomePath(username, homeName))
	return err == nil && info.IsDir()
}

// CreateEphemeralHome creates a fresh ephemeral mount directory and returns
// its path.
func (m *Manager) CreateEphemeralHome() (string, error) {
	path := m.NewEphemeralPath()
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", broker.Internal("create ephemeral home", err)
	}
	return path, nil
}

// IsEphemeral reports whether path lies under the ephemeral root.
func (m *Manager) IsEphemeral(path string) bool {
	prefix := filepath.Join(m.root, ephemeralDirName) + string(filepath.Separator)
	return strings.HasPrefix(path+string(filepath.Separator), prefix)
}

// RemoveEphemeral deletes path if and only if it lies under the ephemeral
// root, matching the "MUST be deleted on stop/failure" invariant while
// refusing to ever touch a persistent home by mistake.
func (m *Manager) RemoveEphemeral(path string) error {
	if path == "" || !m.IsEphemeral(path) {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		logger.Storage().Warn().Err(err).Str("path", path).Msg("failed to remove ephemeral mount")
		return broker.Internal("remove ephemeral mount", err)
	}
	return nil
}

// UniqueFilename returns the first of name, name-1, name-2, ... that does
// not already exist in dir, matching _get_unique_filename.
func UniqueFilename(dir, name string) (string, error) {
	candidate := name
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for k := 0; ; k++ {
		if k > 0 {
			candidate = fmt.Sprintf("%s-%d%s", base, k, ext)
		}
		_, err := os.Stat(filepath.Join(dir, candidate))
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil && !os.IsNotExist(err) {
			return "", broker.Internal("stat candidate filename", err)
		}
	}
}

// ValidatedPath resolves sub beneath base (<storage_root>/<user>/<home>),
// rejecting ".." components and anything that resolves outside base, per
// the §4.I / §8 path-traversal invariant.
func ValidatedPath(base, sub string) (string, error) {
	clean := filepath.Clean("/" + sub)
	for _, part := range strings.Split(clean, string(filepath.Separator)) {
		if part == ".." {
			return "", broker.Forbidden("path traversal rejected")
		}
	}
	resolved := filepath.Join(base, clean)
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", broker.Internal("resolve base path", err)
	}
	absResolved, err := filepath.Abs(resolved)
	if err != nil {
		return "", broker.Internal("resolve path", err)
	}
	if absResolved != absBase && !strings.HasPrefix(absResolved+string(filepath.Separator), absBase+string(filepath.Separator)) {
		return "", broker.Forbidden("path escapes home directory")
	}
	return absResolved, nil
}

// PlaceFile writes data under dir with a deduped filename, mode 0644, and
// returns the filename actually used.
func PlaceFile(dir string, filename string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", broker.Internal("create target dir", err)
	}
	unique, err := UniqueFilename(dir, filename)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, unique), data, 0o644); err != nil {
		return "", broker.Internal("write file", err)
	}
	return unique, nil
}

// --- Chunked upload reassembly ---

// InitiateUpload allocates <upload_root>/<upload_id>/ and returns the id.
func (m *Manager) InitiateUpload(filename string, totalChunks int) (string, error) {
	id := uuid.NewString()
	dir := filepath.Join(m.uploadDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", broker.Internal("create upload dir", err)
	}
	return id, nil
}

// WriteChunk persists base64-decoded chunk data as chunk_<index>.
func (m *Manager) WriteChunk(uploadID string, index int, base64Data string) error {
	dir := filepath.Join(m.uploadDir, uploadID)
	if _, err := os.Stat(dir); err != nil {
		return broker.NotFound("unknown upload")
	}
	data, err := base64.StdEncoding.DecodeString(base64Data)
	if err != nil {
		return broker.Validation("invalid base64 chunk")
	}
	path := filepath.Join(dir, fmt.Sprintf("chunk_%d", index))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return broker.Internal("write chunk", err)
	}
	return nil
}

// Reassemble verifies every chunk_0..chunk_{n-1} exists, streams them into
// a temp file, renames it to a deduplicated destFilename under destDir, and
// removes the upload directory.
// Any failure removes the temp file and the upload directory.
func (m *Manager) Reassemble(uploadID string, totalChunks int, destDir, destFilename string) (string, error) {
	dir := filepath.Join(m.uploadDir, uploadID)
	for i := 0; i < totalChunks; i++ {
		if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("chunk_%d", i))); err != nil {
			_ = os.RemoveAll(dir)
			return "", broker.Validation(fmt.Sprintf("missing chunk %d", i))
		}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		_ = os.RemoveAll(dir)
		return "", broker.Internal("create destination dir", err)
	}

	tmp, err := os.CreateTemp(destDir, "upload-*.tmp")
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", broker.Internal("create temp file", err)
	}
	tmpPath := tmp.Name()

	cleanupOnErr := func(err error) (string, error) {
		tmp.Close()
		os.Remove(tmpPath)
		os.RemoveAll(dir)
		return "", err
	}

	for i := 0; i < totalChunks; i++ {
		chunkPath := filepath.Join(dir, fmt.Sprintf("chunk_%d", i))
		f, err := os.Open(chunkPath)
		if err != nil {
			return cleanupOnErr(broker.Internal("open chunk", err))
		}
		_, err = io.Copy(tmp, f)
		f.Close()
		if err != nil {
			return cleanupOnErr(broker.Internal("copy chunk", err))
		}
	}
	if err := tmp.Close(); err != nil {
		return cleanupOnErr(broker.Internal("close temp file", err))
	}

	unique, err := UniqueFilename(destDir, destFilename)
	if err != nil {
		return cleanupOnErr(err)
	}
	finalPath := filepath.Join(destDir, unique)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return cleanupOnErr(broker.Internal("rename temp file", err))
	}

	if err := os.RemoveAll(dir); err != nil {
		logger.Storage().Warn().Err(err).Str("dir", dir).Msg("failed to clean up upload dir after reassemble")
	}
	return unique, nil
}
