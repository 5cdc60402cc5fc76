// Package protocol implements parsing and encoding of the audio streaming
// wire format: a fixed 8-byte header followed by a start, audio, or control
// payload.
package protocol
