// Package artifact names and writes the files produced by a capture cycle.
// Every cycle reserves one timestamp token and all of its files share it.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// TokenLayout is the timestamp part of every artifact name.
const TokenLayout = "20060102_150405"

// JPEGQuality is used for saved photos.
const JPEGQuality = 95

// maxSuffix bounds the disambiguation search within one second.
const maxSuffix = 1000

var (
	// ErrEmptyPhoto is returned when asked to save an empty frame.
	ErrEmptyPhoto = errors.New("empty photo")
	// ErrTokenExhausted is returned when no free name exists for a second.
	ErrTokenExhausted = errors.New("no free artifact name")
)

// Token identifies one cycle's files, e.g. "20240501_142233" or
// "20240501_142233_2".
type Token string

// Store allocates tokens and writes artifacts under PhotoDir and PoemDir.
type Store struct {
	PhotoDir string
	PoemDir  string

	mu        sync.Mutex
	processed map[string]struct{}
}

// NewStore creates both directories if needed.
func NewStore(photoDir, poemDir string) (*Store, error) {
	for _, dir := range []string{photoDir, poemDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create artifact dir: %w", err)
		}
	}
	return &Store{
		PhotoDir:  photoDir,
		PoemDir:   poemDir,
		processed: make(map[string]struct{}),
	}, nil
}

// PhotoPath returns the photo file for tok.
func (s *Store) PhotoPath(tok Token) string {
	return filepath.Join(s.PhotoDir, "photo_"+string(tok)+".jpg")
}

// PoemPath returns the poem file for tok.
func (s *Store) PoemPath(tok Token) string {
	return filepath.Join(s.PoemDir, "poem_"+string(tok)+".txt")
}

// AnalysisPath returns the analysis file for tok.
func (s *Store) AnalysisPath(tok Token) string {
	return filepath.Join(s.PhotoDir, "analysis_"+string(tok)+".txt")
}

// Allocate reserves a token for at. The photo file is created empty with
// O_EXCL so two writers in the same second, in this process or another,
// never receive the same token.
func (s *Store) Allocate(at time.Time) (Token, error) {
	base := at.Format(TokenLayout)

	for n := 0; n < maxSuffix; n++ {
		tok := Token(base)
		if n > 0 {
			tok = Token(fmt.Sprintf("%s_%d", base, n))
		}

		f, err := os.OpenFile(s.PhotoPath(tok), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("reserve %s: %w", tok, err)
		}
		f.Close()
		return tok, nil
	}
	return "", fmt.Errorf("%w: %s", ErrTokenExhausted, base)
}

// SavePhoto encodes frame as JPEG into the reserved photo file.
func (s *Store) SavePhoto(tok Token, frame *gocv.Mat) (string, error) {
	if frame == nil || frame.Empty() {
		return "", ErrEmptyPhoto
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, *frame, []int{int(gocv.IMWriteJpegQuality), JPEGQuality})
	if err != nil {
		return "", fmt.Errorf("encode photo: %w", err)
	}
	defer buf.Close()

	path := s.PhotoPath(tok)
	if err := writeFile(path, buf.GetBytes()); err != nil {
		return "", err
	}
	return path, nil
}

// SavePoem writes the poem text.
func (s *Store) SavePoem(tok Token, text string) (string, error) {
	path := s.PoemPath(tok)
	return path, writeFile(path, []byte(text))
}

// SaveAnalysis writes a human-readable analysis next to the photo.
func (s *Store) SaveAnalysis(tok Token, text string) (string, error) {
	path := s.AnalysisPath(tok)
	return path, writeFile(path, []byte(text))
}

// Discard removes every file belonging to tok. Missing files are ignored.
func (s *Store) Discard(tok Token) {
	for _, p := range []string{s.PhotoPath(tok), s.PoemPath(tok), s.AnalysisPath(tok)} {
		os.Remove(p)
	}
}

// MarkProcessed records path and reports whether it was new.
func (s *Store) MarkProcessed(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[path]; ok {
		return false
	}
	s.processed[path] = struct{}{}
	return true
}

// Processed reports whether path was already handled.
func (s *Store) Processed(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[path]
	return ok
}

// writeFile writes via a temp file and rename so readers never see a
// partial artifact.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp.Name(), path)
}
