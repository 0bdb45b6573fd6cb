// Package blob stores the temporary audio artifacts of a turn.
//
// Every handle created during a session stays reachable through the store
// until it is deleted, so Cleanup can remove anything individual stages missed.
package blob

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Handle references one stored blob. For FileStore it is the absolute path.
type Handle string

type Store interface {
	Create(data []byte, ext string) (Handle, error)
	// Delete removes the blob. Deleting an unknown or already deleted handle is not an error.
	Delete(h Handle) error
}

const (
	recordingFolder      = "recordings"
	sessionFolderPattern = "session-*"
)

// FileStore keeps blobs as files in a dedicated folder.
type FileStore struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	live map[Handle]struct{}
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store in its own session folder under
// baseDir/recordings. An empty baseDir uses the OS temp directory. Stores
// sharing a baseDir never see each other's blobs.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	parent := filepath.Join(baseDir, recordingFolder)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create blob folder %s", parent)
	}
	dir, err := os.MkdirTemp(parent, sessionFolderPattern)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create session folder in %s", parent)
	}
	return &FileStore{
		dir:  dir,
		now:  time.Now,
		live: map[Handle]struct{}{},
	}, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) Create(data []byte, ext string) (Handle, error) {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "bin"
	}
	name := "recording_" + s.now().Format("20060102_150405") + "_" + uuid.NewString()[:8] + "." + ext
	path := filepath.Join(s.dir, name)

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create blob folder %s", s.dir)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", errors.Wrapf(err, "failed to write blob %s", path)
	}

	h := Handle(path)
	s.mu.Lock()
	s.live[h] = struct{}{}
	s.mu.Unlock()

	log.Debug().Str("path", path).Int("bytes", len(data)).Msg("Stored blob")
	return h, nil
}

func (s *FileStore) Delete(h Handle) error {
	if h == "" {
		return nil
	}
	s.mu.Lock()
	delete(s.live, h)
	s.mu.Unlock()

	err := os.Remove(string(h))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete blob %s", h)
	}
	log.Debug().Str("path", string(h)).Msg("Deleted blob")
	return nil
}

// Live lists handles that were created and not yet deleted.
func (s *FileStore) Live() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]Handle, 0, len(s.live))
	for h := range s.live {
		ret = append(ret, h)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

// Cleanup deletes every blob this store created and then its session folder.
// Files it did not create are left alone: a folder that is not empty stays.
// The shared recordings folder is removed only once no session uses it.
// It is safe to call more than once.
func (s *FileStore) Cleanup() error {
	var firstErr error
	for _, h := range s.Live() {
		if err := s.Delete(h); err != nil {
			log.Warn().Err(err).Str("path", string(h)).Msg("Failed to delete blob during cleanup")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := os.Remove(s.dir); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("dir", s.dir).Msg("Session folder not removed")
	}
	// fails while other sessions or foreign files remain
	_ = os.Remove(filepath.Dir(s.dir))
	return firstErr
}
