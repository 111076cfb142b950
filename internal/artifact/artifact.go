// Package artifact writes captured media into the output directory the way a
// browser download would: sanitized names, no overwrites, and progress events.
package artifact

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	ImageFilename = "captured-image.jpg"
	VideoFilename = "recorded-video.webm"
	AudioFilename = "recorded-audio.webm"

	// dirPerm is the permission mode for creating the output directory.
	dirPerm  = 0755
	filePerm = 0644

	// maxCollisions bounds the " (n)" suffix search.
	maxCollisions = 10000
)

// EventType represents the type of save event.
type EventType int

const (
	EventStarted EventType = iota
	EventFinished
	EventFailed
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventFinished:
		return "finished"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event contains information about a save.
type Event struct {
	Type        EventType
	Filename    string
	Destination string
	MimeType    string
	Size        int
	Err         error // Set when Type is EventFailed
}

// Artifact is a saved (or saveable) blob.
type Artifact struct {
	Name     string
	MimeType string
	Data     []byte
	Path     string
}

// DataURL returns the artifact as a data: URL.
func (a *Artifact) DataURL() string {
	return DataURL(a.MimeType, a.Data)
}

// Saver writes artifacts into a directory.
type Saver struct {
	log zerolog.Logger

	mu        sync.RWMutex
	dir       string
	listeners []func(context.Context, Event)
}

func NewSaver(dir string, log zerolog.Logger) *Saver {
	return &Saver{dir: dir, log: log}
}

// Dir returns the current output directory.
func (s *Saver) Dir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dir
}

// SetDir updates the output directory.
func (s *Saver) SetDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dir = dir
}

// Subscribe registers fn for every save event.
func (s *Saver) Subscribe(fn func(context.Context, Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Saver) emit(ctx context.Context, ev Event) {
	s.mu.RLock()
	listeners := append([]func(context.Context, Event){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, ev)
	}
}

// Save writes data under a sanitized version of name and returns the final
// path. Existing files are never overwritten; the name gets a " (n)" suffix
// instead.
func (s *Saver) Save(ctx context.Context, name, mimeType string, data []byte) (string, error) {
	dir := s.Dir()
	safeName := SanitizeFilename(name)

	fail := func(dest string, err error) (string, error) {
		s.emit(ctx, Event{Type: EventFailed, Filename: safeName, Destination: dest, MimeType: mimeType, Err: err})
		s.log.Warn().Err(err).Str("filename", safeName).Msg("save failed")
		return "", err
	}

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fail(dir, fmt.Errorf("failed to create output directory: %w", err))
	}

	tmp, err := os.CreateTemp(dir, "."+safeName+".*.part")
	if err != nil {
		return fail(dir, fmt.Errorf("failed to create temp file: %w", err))
	}
	defer os.Remove(tmp.Name())

	s.emit(ctx, Event{Type: EventStarted, Filename: safeName, Destination: dir, MimeType: mimeType, Size: len(data)})

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fail(tmp.Name(), fmt.Errorf("failed to write %s: %w", safeName, err))
	}
	if err := tmp.Close(); err != nil {
		return fail(tmp.Name(), fmt.Errorf("failed to close %s: %w", safeName, err))
	}
	if err := os.Chmod(tmp.Name(), filePerm); err != nil {
		return fail(tmp.Name(), err)
	}

	dest, err := claim(dir, safeName, tmp.Name())
	if err != nil {
		return fail(dir, err)
	}

	s.emit(ctx, Event{Type: EventFinished, Filename: filepath.Base(dest), Destination: dest, MimeType: mimeType, Size: len(data)})
	s.log.Info().Str("filename", filepath.Base(dest)).Str("destination", dest).Int("bytes", len(data)).Msg("saved")
	return dest, nil
}

// claim moves src to the first free name derived from name. os.Link fails
// when the target exists, which keeps the check and the move atomic.
func claim(dir, name, src string) (string, error) {
	for i := 0; i < maxCollisions; i++ {
		dest := filepath.Join(dir, CollisionName(name, i))
		err := os.Link(src, dest)
		if err == nil {
			return dest, nil
		}
		if errors.Is(err, os.ErrExist) {
			continue
		}
		// Filesystems without hard links: fall back to a checked rename.
		if _, statErr := os.Stat(dest); statErr == nil {
			continue
		}
		if err := os.Rename(src, dest); err != nil {
			return "", fmt.Errorf("failed to move %s into place: %w", name, err)
		}
		return dest, nil
	}
	return "", fmt.Errorf("no free filename for %s", name)
}

// CollisionName returns name for n == 0 and "base (n).ext" otherwise.
func CollisionName(name string, n int) string {
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s (%d)%s", base, n, ext)
}

// SanitizeFilename keeps only the base name of a suggested filename.
func SanitizeFilename(name string) string {
	// filepath.Base only handles the OS-native separator.
	name = strings.ReplaceAll(name, "\\", "/")

	clean := filepath.Base(name)

	if clean == "." || clean == ".." || clean == "" || clean == "/" {
		return "download"
	}

	return clean
}

// DataURL encodes data as a base64 data: URL.
func DataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURL decodes a base64 data: URL produced by DataURL.
func ParseDataURL(u string) (mimeType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URL")
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URL")
	}
	mimeType, ok = strings.CutSuffix(header, ";base64")
	if !ok {
		return "", nil, fmt.Errorf("data URL is not base64")
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("bad data URL payload: %w", err)
	}
	return mimeType, data, nil
}
