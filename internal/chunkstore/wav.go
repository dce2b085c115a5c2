package chunkstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	CanonicalSampleRate = 16000
	CanonicalChannels   = 1
	wavHeaderSize       = 44
)

// PCM holds interleaved 16-bit samples.
type PCM struct {
	Samples    []int16
	Channels   int
	SampleRate int
}

func (p *PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

func (p *PCM) Duration() float64 {
	if p.SampleRate <= 0 {
		return 0
	}
	return float64(p.Frames()) / float64(p.SampleRate)
}

type wavFormat struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// DecodeWAV parses a RIFF/WAVE container carrying 16-bit PCM. Chunks other
// than "fmt " and "data" are skipped.
func DecodeWAV(data []byte) (*PCM, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("wav data too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return nil, fmt.Errorf("invalid wav: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid wav: missing WAVE format")
	}

	var (
		format  *wavFormat
		payload []byte
	)

	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		end := body + size
		if size < 0 || end > len(data) {
			if id == "data" {
				// streaming encoders often leave the data size unset
				end = len(data)
			} else {
				return nil, fmt.Errorf("invalid wav: chunk %q overruns file", id)
			}
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("invalid wav: fmt chunk too short")
			}
			var f wavFormat
			if err := binary.Read(bytes.NewReader(data[body:body+16]), binary.LittleEndian, &f); err != nil {
				return nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			format = &f
		case "data":
			payload = data[body:end]
		}

		offset = end + (size & 1)
	}

	if format == nil {
		return nil, fmt.Errorf("invalid wav: missing fmt chunk")
	}
	if payload == nil {
		return nil, fmt.Errorf("invalid wav: missing data chunk")
	}
	if format.AudioFormat != 1 {
		return nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", format.AudioFormat)
	}
	if format.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", format.BitsPerSample)
	}
	if format.NumChannels == 0 || format.SampleRate == 0 {
		return nil, fmt.Errorf("invalid wav: %d channels at %d Hz", format.NumChannels, format.SampleRate)
	}

	samples := PCMBytesToInt16(payload)
	if len(samples) == 0 {
		return nil, fmt.Errorf("no audio data found")
	}

	return &PCM{
		Samples:    samples,
		Channels:   int(format.NumChannels),
		SampleRate: int(format.SampleRate),
	}, nil
}

// EncodeWAV writes mono 16-bit samples as a canonical 44-byte-header WAV file.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	const (
		channels      = uint16(CanonicalChannels)
		bitsPerSample = uint16(16)
	)
	dataSize := uint32(len(samples) * 2)

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(samples)*2))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, wavFormat{
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(channels) * uint32(bitsPerSample) / 8,
		BlockAlign:    channels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
	})
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, dataSize)

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}
