package chunkstore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrDecode marks audio that cannot be turned into canonical form. Callers
// treat it as a dropped chunk rather than a session failure.
var ErrDecode = errors.New("audio decode failed")

type Store struct {
	dir    string
	logger *slog.Logger
}

func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audio storage dir: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger.With("component", "chunkstore"),
	}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func chunkName(sessionID int64, index int) string {
	return fmt.Sprintf("trans_%d_chunk_%d", sessionID, index)
}

// Stage writes raw chunk bytes under a name derived from (sessionID, index).
// Staging the same pair twice overwrites the previous bytes.
func (s *Store) Stage(sessionID int64, index int, data []byte) (string, error) {
	path := filepath.Join(s.dir, chunkName(sessionID, index)+".raw")
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("stage chunk %d: %w", index, err)
	}
	return path, nil
}

// ToCanonical converts a staged chunk into 16 kHz mono WAV next to it.
func (s *Store) ToCanonical(handle string) (string, error) {
	data, err := os.ReadFile(handle)
	if err != nil {
		return "", fmt.Errorf("read staged chunk: %w", err)
	}

	pcm, err := DecodeWAV(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}

	mono := Downmix(pcm.Samples, pcm.Channels)
	mono = ResampleInt16(mono, pcm.SampleRate, CanonicalSampleRate)

	out, err := EncodeWAV(mono, CanonicalSampleRate)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}

	target := strings.TrimSuffix(handle, filepath.Ext(handle)) + ".wav"
	if err := os.WriteFile(target, out, 0o640); err != nil {
		return "", fmt.Errorf("write canonical chunk: %w", err)
	}
	return target, nil
}

type Info struct {
	Valid           bool    `json:"valid"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Channels        int     `json:"channels,omitempty"`
	SampleRate      int     `json:"sample_rate,omitempty"`
	SizeBytes       int64   `json:"file_size_bytes,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// Probe reports whether a file holds decodable audio and describes it.
func (s *Store) Probe(handle string) Info {
	data, err := os.ReadFile(handle)
	if err != nil {
		return Info{Error: err.Error()}
	}

	pcm, err := DecodeWAV(data)
	if err != nil {
		return Info{Error: err.Error()}
	}

	return Info{
		Valid:           true,
		DurationSeconds: pcm.Duration(),
		Channels:        pcm.Channels,
		SampleRate:      pcm.SampleRate,
		SizeBytes:       int64(len(data)),
	}
}

// Duration returns the audio length in seconds, or 0 for undecodable files.
func (s *Store) Duration(handle string) float64 {
	info := s.Probe(handle)
	if !info.Valid {
		return 0
	}
	return info.DurationSeconds
}

// Purge removes the given files. Missing files are ignored and other
// failures are logged, never returned.
func (s *Store) Purge(handles []string) int {
	removed := 0
	for _, h := range handles {
		err := os.Remove(h)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, fs.ErrNotExist):
		default:
			s.logger.Warn("failed to remove chunk", "path", h, "error", err)
		}
	}
	return removed
}
