// Package audio provides PCM validation, duration math, and the WAV
// artifact writer used to persist session audio.
package audio
