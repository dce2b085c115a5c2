package chunkstore

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func sine(frames, channels, rate int) []int16 {
	out := make([]int16, frames*channels)
	for i := 0; i < frames; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		for c := 0; c < channels; c++ {
			out[i*channels+c] = v
		}
	}
	return out
}

func stereoWAV(t *testing.T, frames, rate int) []byte {
	t.Helper()
	mono, err := EncodeWAV(sine(frames, 1, rate), rate)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// rewrite header fields for two channels and append the interleaved payload
	samples := sine(frames, 2, rate)
	data := make([]byte, wavHeaderSize, wavHeaderSize+len(samples)*2)
	copy(data, mono[:wavHeaderSize])
	data[22] = 2
	for _, s := range samples {
		data = append(data, byte(s), byte(uint16(s)>>8))
	}
	size := uint32(len(samples) * 2)
	data[40], data[41], data[42], data[43] = byte(size), byte(size>>8), byte(size>>16), byte(size>>24)
	return data
}

func TestStage_DeterministicName(t *testing.T) {
	s := newTestStore(t)

	path, err := s.Stage(42, 3, []byte("first"))
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if filepath.Base(path) != "trans_42_chunk_3.raw" {
		t.Errorf("unexpected name %s", filepath.Base(path))
	}

	again, err := s.Stage(42, 3, []byte("second"))
	if err != nil {
		t.Fatalf("stage again: %v", err)
	}
	if again != path {
		t.Errorf("expected same path, got %s and %s", path, again)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "second" {
		t.Errorf("expected overwrite, got %q", got)
	}
}

func TestToCanonical(t *testing.T) {
	tests := []struct {
		name  string
		input func(t *testing.T) []byte
	}{
		{"mono 16k", func(t *testing.T) []byte {
			b, _ := EncodeWAV(sine(1600, 1, 16000), 16000)
			return b
		}},
		{"mono 48k", func(t *testing.T) []byte {
			b, _ := EncodeWAV(sine(4800, 1, 48000), 48000)
			return b
		}},
		{"stereo 8k", func(t *testing.T) []byte {
			return stereoWAV(t, 800, 8000)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			handle, err := s.Stage(1, 0, tt.input(t))
			if err != nil {
				t.Fatalf("stage: %v", err)
			}

			canonical, err := s.ToCanonical(handle)
			if err != nil {
				t.Fatalf("to canonical: %v", err)
			}
			if filepath.Ext(canonical) != ".wav" {
				t.Errorf("expected .wav, got %s", canonical)
			}

			info := s.Probe(canonical)
			if !info.Valid {
				t.Fatalf("canonical output invalid: %s", info.Error)
			}
			if info.Channels != CanonicalChannels || info.SampleRate != CanonicalSampleRate {
				t.Errorf("expected mono 16k, got %d ch at %d Hz", info.Channels, info.SampleRate)
			}
			if math.Abs(info.DurationSeconds-0.1) > 0.001 {
				t.Errorf("expected ~0.1s, got %f", info.DurationSeconds)
			}
			if d := s.Duration(canonical); d != info.DurationSeconds {
				t.Errorf("duration = %f, probe = %f", d, info.DurationSeconds)
			}
		})
	}
}

func TestToCanonical_DecodeError(t *testing.T) {
	s := newTestStore(t)
	handle, err := s.Stage(1, 0, []byte("definitely not audio"))
	if err != nil {
		t.Fatalf("stage: %v", err)
	}

	_, err = s.ToCanonical(handle)
	if !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestProbe_Invalid(t *testing.T) {
	s := newTestStore(t)
	info := s.Probe(filepath.Join(s.Dir(), "missing.wav"))
	if info.Valid {
		t.Error("expected missing file to be invalid")
	}
	if info.Error == "" {
		t.Error("expected error description")
	}
	if d := s.Duration(filepath.Join(s.Dir(), "missing.wav")); d != 0 {
		t.Errorf("expected zero duration, got %f", d)
	}
}

func TestPurge(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.Stage(7, 0, []byte("a"))
	b, _ := s.Stage(7, 1, []byte("b"))

	removed := s.Purge([]string{a, b, filepath.Join(s.Dir(), "never-existed")})
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	for _, p := range []string{a, b} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("expected %s to be gone", p)
		}
	}

	if removed := s.Purge([]string{a}); removed != 0 {
		t.Errorf("second purge should be a no-op, removed %d", removed)
	}
}
