package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// WAVHeader represents the 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

const wavHeaderSize = 44

// Writer appends PCM data to a growing WAV artifact on disk. The header is
// written as a placeholder on open and patched with the real sizes on close.
// Exactly one writer is open per session at a time; the session serializes
// access, the internal mutex only guards against a concurrent forced close.
type Writer struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	publicURL string
	dataBytes uint32
	closed    bool
}

// NewWriter creates the artifact file for a session and writes the
// placeholder WAV header.
func NewWriter(dir, sessionID string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.wav", sessionID, time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, filename)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact file: %w", err)
	}

	w := &Writer{
		file:      file,
		path:      path,
		publicURL: "/artifacts/" + filename,
	}

	if err := w.writeHeader(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}

	return w, nil
}

// Append writes validated PCM bytes to the artifact.
func (w *Writer) Append(pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("artifact writer is closed")
	}

	if err := ValidatePCM(pcm); err != nil {
		return err
	}

	if _, err := w.file.Write(pcm); err != nil {
		return fmt.Errorf("failed to append PCM data: %w", err)
	}

	w.dataBytes += uint32(len(pcm))
	return nil
}

// Close patches the WAV header with the final sizes and closes the file.
// Closing twice is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if _, err := w.file.Seek(0, 0); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to seek artifact header: %w", err)
	}

	if err := w.writeHeader(); err != nil {
		w.file.Close()
		return err
	}

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close artifact file: %w", err)
	}

	return nil
}

// writeHeader writes the WAV header for the current data size.
func (w *Writer) writeHeader() error {
	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + w.dataBytes,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   Channels,
		SampleRate:    SampleRate,
		ByteRate:      SampleRate * Channels * BitsPerSample / 8,
		BlockAlign:    Channels * BitsPerSample / 8,
		BitsPerSample: BitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: w.dataBytes,
	}

	if err := binary.Write(w.file, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}

	return nil
}

// BytesWritten returns the number of PCM data bytes written so far.
func (w *Writer) BytesWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int64(w.dataBytes)
}

// Path returns the on-disk path of the artifact.
func (w *Writer) Path() string {
	return w.path
}

// PublicURL returns the URL path the artifact is served under.
func (w *Writer) PublicURL() string {
	return w.publicURL
}

// WAVInfo describes a WAV file's format and content
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
}

// ReadWAVInfo extracts metadata from encoded WAV data.
func ReadWAVInfo(data []byte) (*WAVInfo, error) {
	if len(data) < wavHeaderSize {
		return nil, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}

	buf := bytes.NewReader(data)
	var header WAVHeader
	if err := binary.Read(buf, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if string(header.ChunkID[:]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(header.Format[:]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(header.Subchunk2ID[:]) != "data" {
		return nil, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	if header.AudioFormat != 1 {
		return nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}

	numSamples := header.Subchunk2Size / (uint32(header.BitsPerSample) / 8)

	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      float64(numSamples) / float64(header.SampleRate),
		DataSize:      header.Subchunk2Size,
	}, nil
}
