package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// wavHeaderSize is the length of the canonical RIFF header written by EncodePCM
const wavHeaderSize = 44

// ProcessingError reports a failure to build or inspect an audio container
type ProcessingError struct {
	Op  string
	Err error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("audio processing failed: %s: %v", e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// EncodePCM wraps little-endian 16-bit mono PCM bytes into a WAV container.
// A trailing odd byte is not a whole sample and is dropped.
func EncodePCM(pcm []byte, sampleRate uint32) ([]byte, error) {
	if sampleRate == 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	pcm = pcm[:len(pcm)&^1]

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(pcm))

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// WriteTempWAV encodes pcm and writes it to a new temporary file in dir
// (os.TempDir when empty). The caller owns the returned path and must remove it.
func WriteTempWAV(dir string, pcm []byte, sampleRate uint32) (string, error) {
	data, err := EncodePCM(pcm, sampleRate)
	if err != nil {
		return "", &ProcessingError{Op: "encode wav", Err: err}
	}

	f, err := os.CreateTemp(dir, "chunk-*.wav")
	if err != nil {
		return "", &ProcessingError{Op: "create temp file", Err: err}
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", &ProcessingError{Op: "write temp file", Err: err}
	}

	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", &ProcessingError{Op: "close temp file", Err: err}
	}

	return f.Name(), nil
}

// WAVInfo holds basic information about a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// maxFmtChunkSize bounds the fmt chunk read into memory; real ones are 16-40 bytes
const maxFmtChunkSize = 1 << 10

// ReadWAVInfo walks the RIFF chunks of a WAV stream up to the data chunk.
// Chunks other than "fmt " and "data" (LIST, fact, ...) are skipped, so files
// written by common tools are accepted, not only the canonical 44-byte layout.
func ReadWAVInfo(r io.Reader) (*WAVInfo, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("WAV data too short: %w", err)
	}
	if string(riff[0:4]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var (
		info   WAVInfo
		hasFmt bool
	)

	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if !hasFmt {
				return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
			}
			return nil, fmt.Errorf("invalid WAV file: missing data chunk")
		}

		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])
		padded := int64(size) + int64(size&1)

		switch id {
		case "fmt ":
			if size < 16 || size > maxFmtChunkSize {
				return nil, fmt.Errorf("invalid WAV file: fmt chunk size %d", size)
			}
			body := make([]byte, padded)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("invalid WAV file: truncated fmt chunk: %w", err)
			}
			info.Channels = binary.LittleEndian.Uint16(body[2:4])
			info.SampleRate = binary.LittleEndian.Uint32(body[4:8])
			info.BitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			hasFmt = true

		case "data":
			if !hasFmt {
				return nil, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			if info.SampleRate == 0 || info.BitsPerSample < 8 || info.Channels == 0 {
				return nil, fmt.Errorf("invalid WAV header: rate=%d bits=%d channels=%d",
					info.SampleRate, info.BitsPerSample, info.Channels)
			}

			frameSize := uint32(info.BitsPerSample) / 8 * uint32(info.Channels)
			info.DataSize = size
			info.NumSamples = size / frameSize
			info.Duration = float64(info.NumSamples) / float64(info.SampleRate)
			return &info, nil

		default:
			if _, err := io.CopyN(io.Discard, r, padded); err != nil {
				return nil, fmt.Errorf("invalid WAV file: truncated %q chunk: %w", id, err)
			}
		}
	}
}

// GetWAVInfo is ReadWAVInfo over an in-memory file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	return ReadWAVInfo(bytes.NewReader(data))
}
