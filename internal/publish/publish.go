// Package publish writes downloads to a staging file next to their target and
// moves them into place with a single rename once they are verified.
package publish

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/grabber/internal/utils"
)

// StagingDir is the directory that holds staging files for target.
// It lives beside the target so the final rename never crosses filesystems.
func StagingDir(target string) string {
	return filepath.Join(filepath.Dir(target), utils.TempDirName)
}

// Staging is an exclusively owned, partially written download.
type Staging struct {
	target string
	path   string
	file   *os.File

	mu      sync.Mutex
	written int64
	done    bool
}

// Stage creates a new staging file for target. Every call gets a distinct path,
// so concurrent items and successive attempts never share one.
func Stage(target string) (*Staging, error) {
	dir := StagingDir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("error creating staging directory: %w", err)
	}
	name := fmt.Sprintf("%s.%s.part", filepath.Base(target), uuid.NewString()[:8])
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("error creating staging file: %w", err)
	}
	log.Debug().Str("op", "publish/stage").Str("target", target).Str("staging", path).Msg("Staging file created")
	return &Staging{target: target, path: path, file: file}, nil
}

func (s *Staging) Path() string   { return s.path }
func (s *Staging) Target() string { return s.target }

func (s *Staging) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *Staging) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return 0, os.ErrClosed
	}
	n, err := s.file.Write(p)
	s.written += int64(n)
	return n, err
}

// Sync forces written bytes to stable storage.
func (s *Staging) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return os.ErrClosed
	}
	return s.file.Sync()
}

// Commit syncs and closes the staging file, then renames it over the target.
// On failure the staging file is removed and the target is left untouched.
func (s *Staging) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return errors.New("staging file already committed or discarded")
	}
	s.done = true

	if err := s.file.Sync(); err != nil {
		s.file.Close()
		os.Remove(s.path)
		return fmt.Errorf("error syncing staging file: %w", err)
	}
	if err := s.file.Close(); err != nil {
		os.Remove(s.path)
		return fmt.Errorf("error closing staging file: %w", err)
	}
	if err := os.Rename(s.path, s.target); err != nil {
		os.Remove(s.path)
		return fmt.Errorf("error renaming (finalizing) output file: %w", err)
	}
	log.Debug().Str("op", "publish/commit").Str("target", s.target).Int64("bytes", s.written).Msg("Published")
	return nil
}

// Discard closes and removes the staging file. It is safe to call after Commit
// and more than once, which makes it suitable for defer.
func (s *Staging) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	s.file.Close()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error removing staging file: %w", err)
	}
	log.Debug().Str("op", "publish/discard").Str("staging", s.path).Msg("Staging file removed")
	return nil
}

// Sweep removes the staging directories of the given targets when they are empty.
func Sweep(targets []string) {
	seen := make(map[string]bool)
	for _, target := range targets {
		dir := StagingDir(target)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		// fails on non-empty directories
		if err := os.Remove(dir); err == nil {
			log.Debug().Str("op", "publish/sweep").Str("dir", dir).Msg("Removed empty staging directory")
		}
	}
}
