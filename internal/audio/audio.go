package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	ContentType = "audio/mpeg"
	extension   = ".mp3"
)

var ErrNotFound = errors.New("audio not found")

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Store keeps synthesized speech so it can be served back by key.
type Store interface {
	Save(userID string, sessionID string, data []byte) (string, error)
	Open(key string) (io.ReadCloser, error)
}

// FSStore writes audio under <user>/<session>/<timestamp>_<id>.mp3 on an
// afero filesystem.
type FSStore struct {
	fs  afero.Fs
	now func() time.Time
}

func NewFSStore(fs afero.Fs) *FSStore {
	return &FSStore{fs: fs, now: time.Now}
}

// NewDirStore roots an FSStore at dir on the host filesystem.
func NewDirStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return NewFSStore(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

// Save returns the key the audio can be opened by.
func (s *FSStore) Save(userID string, sessionID string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("no audio to save")
	}
	dir := path.Join(segment(userID), segment(sessionID))
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	name := fmt.Sprintf("%d_%s%s", s.now().UTC().UnixMilli(), uuid.NewString(), extension)
	key := path.Join(dir, name)
	if err := afero.WriteFile(s.fs, key, data, 0o644); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	return key, nil
}

func (s *FSStore) Open(key string) (io.ReadCloser, error) {
	clean, ok := cleanKey(key)
	if !ok {
		return nil, ErrNotFound
	}
	file, err := s.fs.Open(clean)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, ErrNotFound
	}
	return file, nil
}

// DataURL inlines audio for clients when no store is configured.
func DataURL(data []byte) string {
	return "data:" + ContentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func segment(value string) string {
	cleaned := unsafeSegment.ReplaceAllString(strings.TrimSpace(value), "_")
	if cleaned == "" {
		return "anonymous"
	}
	return cleaned
}

// cleanKey rejects keys that escape the store root or do not name audio.
func cleanKey(key string) (string, bool) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" || !strings.HasSuffix(key, extension) {
		return "", false
	}
	clean := path.Clean(key)
	if clean != key || strings.HasPrefix(clean, "..") {
		return "", false
	}
	return clean, true
}
