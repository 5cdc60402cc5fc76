package audio

import "fmt"

// Audio format constants. The engine assumes mono 16-bit little-endian PCM
// at a fixed sample rate.
const (
	SampleRate     = 16000
	Channels       = 1
	BitsPerSample  = 16
	BytesPerSample = BitsPerSample / 8
)

// ValidatePCM checks that a payload is plausible PCM-16 audio: non-empty
// and an even number of bytes.
func ValidatePCM(pcm []byte) error {
	if len(pcm) == 0 {
		return fmt.Errorf("empty PCM payload")
	}

	if len(pcm)%BytesPerSample != 0 {
		return fmt.Errorf("PCM payload length must be even, got %d bytes", len(pcm))
	}

	return nil
}

// Duration returns the playback duration in seconds for a PCM byte count.
func Duration(totalBytes int64) float64 {
	samples := totalBytes / BytesPerSample
	return float64(samples) / float64(SampleRate)
}
