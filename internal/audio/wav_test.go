package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"testing"
)

func sinePCM(sampleRate uint32, duration float64) []byte {
	numSamples := int(float64(sampleRate) * duration)
	pcm := make([]byte, numSamples*2)
	for i := 0; i < numSamples; i++ {
		ts := float64(i) / float64(sampleRate)
		sample := int16(16383.0 * math.Sin(2*math.Pi*440.0*ts))
		pcm[2*i] = byte(sample)
		pcm[2*i+1] = byte(uint16(sample) >> 8)
	}
	return pcm
}

func TestEncodePCM(t *testing.T) {
	sampleRate := uint32(16000)
	pcm := sinePCM(sampleRate, 0.1)

	wavData, err := EncodePCM(pcm, sampleRate)
	if err != nil {
		t.Fatalf("EncodePCM failed: %v", err)
	}

	expectedSize := 44 + len(pcm)
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	if !bytes.Equal(wavData[44:], pcm) {
		t.Error("Expected PCM payload to be copied verbatim after the header")
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}

	if info.SampleRate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}

	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}

	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}

	if math.Abs(info.Duration-0.1) > 0.001 {
		t.Errorf("Expected duration 0.100, got %.3f", info.Duration)
	}
}

func TestEncodePCMOddLength(t *testing.T) {
	wavData, err := EncodePCM([]byte{1, 2, 3}, 8000)
	if err != nil {
		t.Fatalf("EncodePCM failed: %v", err)
	}

	if len(wavData) != 46 {
		t.Errorf("Expected trailing odd byte to be dropped (46 bytes), got %d", len(wavData))
	}
}

func TestEncodePCMEmpty(t *testing.T) {
	wavData, err := EncodePCM(nil, 8000)
	if err != nil {
		t.Fatalf("EncodePCM failed: %v", err)
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}
	if info.NumSamples != 0 {
		t.Errorf("Expected 0 samples, got %d", info.NumSamples)
	}
}

func TestEncodePCMZeroRate(t *testing.T) {
	if _, err := EncodePCM([]byte{1, 2}, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestWriteTempWAV(t *testing.T) {
	dir := t.TempDir()
	pcm := sinePCM(8000, 0.05)

	path, err := WriteTempWAV(dir, pcm, 8000)
	if err != nil {
		t.Fatalf("WriteTempWAV failed: %v", err)
	}
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read temp WAV: %v", err)
	}

	info, err := GetWAVInfo(data)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}
	if info.SampleRate != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", info.SampleRate)
	}
	if int(info.DataSize) != len(pcm) {
		t.Errorf("Expected data size %d, got %d", len(pcm), info.DataSize)
	}
}

func TestWriteTempWAVMissingDir(t *testing.T) {
	_, err := WriteTempWAV("/nonexistent/dir/for/test", []byte{1, 2}, 8000)

	var procErr *ProcessingError
	if !errors.As(err, &procErr) {
		t.Fatalf("Expected ProcessingError, got %v", err)
	}
	if procErr.Op != "create temp file" {
		t.Errorf("Expected op 'create temp file', got '%s'", procErr.Op)
	}
}

func TestGetWAVInfoValidation(t *testing.T) {
	valid, _ := EncodePCM([]byte{0, 0, 1, 1}, 8000)

	tests := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{"valid", valid, false},
		{"too short", []byte("RIFF"), true},
		{"bad riff", append([]byte("RIFX"), valid[4:]...), true},
		{"bad wave", append(append([]byte{}, valid[:8]...), append([]byte("WAVX"), valid[12:]...)...), true},
		{"no data chunk", valid[:36], true},
		{"zero rate", withSampleRate(valid, 0), true},
		{"text", []byte("this is not audio at all, just some words"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GetWAVInfo(tt.data)
			if tt.expectError && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func withSampleRate(wav []byte, rate uint32) []byte {
	out := append([]byte{}, wav...)
	binary.LittleEndian.PutUint32(out[24:28], rate)
	return out
}

func TestReadWAVInfoSkipsExtraChunks(t *testing.T) {
	pcm := sinePCM(22050, 0.2)
	canonical, err := EncodePCM(pcm, 22050)
	if err != nil {
		t.Fatalf("EncodePCM failed: %v", err)
	}

	// RIFF/WAVE + fmt chunk, then an odd-sized LIST chunk with its pad byte, then data
	var buf bytes.Buffer
	buf.Write(canonical[:36])
	buf.WriteString("LIST")
	binary.Write(&buf, binary.LittleEndian, uint32(5))
	buf.Write([]byte{'I', 'N', 'F', 'O', 'x', 0})
	buf.Write(canonical[36:])

	info, err := ReadWAVInfo(&buf)
	if err != nil {
		t.Fatalf("ReadWAVInfo failed: %v", err)
	}

	if info.SampleRate != 22050 {
		t.Errorf("Expected sample rate 22050, got %d", info.SampleRate)
	}
	if int(info.DataSize) != len(pcm) {
		t.Errorf("Expected data size %d, got %d", len(pcm), info.DataSize)
	}
	if math.Abs(info.Duration-0.2) > 0.001 {
		t.Errorf("Expected duration 0.200, got %.3f", info.Duration)
	}
}

func TestReadWAVInfoTruncatedChunk(t *testing.T) {
	canonical, _ := EncodePCM([]byte{0, 0}, 8000)

	var buf bytes.Buffer
	buf.Write(canonical[:36])
	buf.WriteString("LIST")
	binary.Write(&buf, binary.LittleEndian, uint32(1000))
	buf.WriteString("short")

	if _, err := ReadWAVInfo(&buf); err == nil {
		t.Error("Expected error for truncated chunk")
	}
}
