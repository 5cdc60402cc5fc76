package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

// Protocol constants
const (
	// Packet types
	PacketTypeStart   = 0x01
	PacketTypeAudio   = 0x02
	PacketTypeControl = 0x03

	// Header flags
	FlagSequenced = 0x01 // Audio payload carries an explicit sequence number

	// Packet structure sizes
	HeaderSize        = 8 // 1 + 1 + 2 + 4 bytes
	AudioSequenceSize = 4 // Sequence number prefix (4 bytes)
)

// Control message actions
const (
	ActionEndSession = "end_session"
	ActionInterrupt  = "network_interruption"
	ActionRecover    = "recover_from_interruption"
	ActionAudioChunk = "audio_chunk"
)

// Header represents the 8-byte packet header
// Layout: [PacketType:1][Flags:1][PacketLen:2][StreamID:4]
type Header struct {
	PacketType uint8  // 0x01=Start, 0x02=Audio, 0x03=Control
	Flags      uint8  // Bit flags (FlagSequenced)
	PacketLen  uint16 // Total packet size (header + payload)
	StreamID   uint32 // Client-assigned stream identifier
}

// Sequenced reports whether the audio payload carries a sequence number.
func (h *Header) Sequenced() bool {
	return h.Flags&FlagSequenced != 0
}

// StartPayload is the JSON payload of a start packet. A start packet either
// opens a fresh streaming session or resumes a previously interrupted one.
type StartPayload struct {
	PrincipalID string `json:"principal_id"`
	RecordID    string `json:"record_id,omitempty"`
	Resume      bool   `json:"resume,omitempty"`
	ResumePoint uint32 `json:"resume_point,omitempty"`
}

// AudioPayload represents the audio packet payload
// Layout: [Sequence:4][PCM:N] when FlagSequenced is set, [PCM:N] otherwise
type AudioPayload struct {
	Sequence    uint32 // Packet sequence number (valid when HasSequence)
	HasSequence bool
	PCM         []byte // Raw PCM-16 audio data
}

// ControlMessage is the JSON payload of a control packet.
type ControlMessage struct {
	Action string `json:"action"`

	// network_interruption fields
	Reason     string `json:"reason,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	ChunksLost int    `json:"chunks_lost,omitempty"`

	// recover_from_interruption / audio_chunk fields
	Chunks []ChunkEnvelope `json:"chunks,omitempty"`
	Chunk  *ChunkEnvelope  `json:"chunk,omitempty"`
}

// ChunkEnvelope is the structured audio-chunk shape carried by control
// messages: client-buffered chunks replayed after an interruption, or a
// single chunk delivered through the control channel.
type ChunkEnvelope struct {
	Sequence       uint32    `json:"sequence"`
	Data           []byte    `json:"data"` // base64 over the wire
	Timestamp      time.Time `json:"timestamp"`
	NetworkQuality string    `json:"network_quality,omitempty"`
	ChunkSize      int       `json:"chunk_size"`
}

// ParsedPacket represents a fully parsed packet
type ParsedPacket struct {
	Header  *Header
	Start   *StartPayload   // Only set for start packets
	Audio   *AudioPayload   // Only set for audio packets
	Control *ControlMessage // Only set for control packets
}

// ParseHeader parses the 8-byte packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := &Header{
		PacketType: data[0],
		Flags:      data[1],
		PacketLen:  binary.BigEndian.Uint16(data[2:4]),
		StreamID:   binary.BigEndian.Uint32(data[4:8]),
	}

	return header, nil
}

// ParseStartPayload parses the JSON start packet payload
func ParseStartPayload(data []byte) (*StartPayload, error) {
	var payload StartPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse start payload: %w", err)
	}

	if payload.PrincipalID == "" {
		return nil, fmt.Errorf("start payload missing principal_id")
	}

	if payload.Resume && payload.RecordID == "" {
		return nil, fmt.Errorf("resume requires a record_id")
	}

	return &payload, nil
}

// ParseAudioPayload parses the audio packet payload. When the header carries
// FlagSequenced the first 4 bytes are the sequence number; legacy senders
// omit it and the engine assigns sequence numbers in arrival order.
func ParseAudioPayload(header *Header, data []byte) (*AudioPayload, error) {
	payload := &AudioPayload{}

	if header.Sequenced() {
		if len(data) < AudioSequenceSize {
			return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
				AudioSequenceSize, len(data))
		}
		payload.Sequence = binary.BigEndian.Uint32(data[0:AudioSequenceSize])
		payload.HasSequence = true
		data = data[AudioSequenceSize:]
	}

	if len(data) > 0 {
		payload.PCM = make([]byte, len(data))
		copy(payload.PCM, data)
	}

	return payload, nil
}

// ParseControlMessage parses the JSON control packet payload
func ParseControlMessage(data []byte) (*ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse control message: %w", err)
	}

	switch msg.Action {
	case ActionEndSession, ActionInterrupt, ActionRecover, ActionAudioChunk:
	case "":
		return nil, fmt.Errorf("control message missing action")
	default:
		return nil, fmt.Errorf("unknown control action: %q", msg.Action)
	}

	if msg.Action == ActionAudioChunk && msg.Chunk == nil {
		return nil, fmt.Errorf("audio_chunk control message missing chunk")
	}

	return &msg, nil
}

// ParsePacket parses a complete packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	// Validate packet length matches actual data
	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeStart:
		payload, err := ParseStartPayload(payloadData)
		if err != nil {
			return nil, err
		}
		packet.Start = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(header, payloadData)
		if err != nil {
			return nil, err
		}
		packet.Audio = payload

	case PacketTypeControl:
		msg, err := ParseControlMessage(payloadData)
		if err != nil {
			return nil, err
		}
		packet.Control = msg

	default:
		return nil, fmt.Errorf("unknown packet type: 0x%02x", header.PacketType)
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	if header.PacketType == PacketTypeAudio && header.Sequenced() {
		if int(header.PacketLen)-HeaderSize < AudioSequenceSize {
			return fmt.Errorf("sequenced audio packet payload too small: expected at least %d, got %d",
				AudioSequenceSize, int(header.PacketLen)-HeaderSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeStart || ptype == PacketTypeAudio || ptype == PacketTypeControl
}

// encodeHeader writes a header for a packet with the given payload size.
func encodeHeader(buf []byte, ptype, flags uint8, streamID uint32, payloadLen int) {
	buf[0] = ptype
	buf[1] = flags
	binary.BigEndian.PutUint16(buf[2:4], uint16(HeaderSize+payloadLen))
	binary.BigEndian.PutUint32(buf[4:8], streamID)
}

// EncodeStartPacket builds a complete start packet.
func EncodeStartPacket(streamID uint32, payload *StartPayload) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode start payload: %w", err)
	}

	packet := make([]byte, HeaderSize+len(body))
	encodeHeader(packet, PacketTypeStart, 0, streamID, len(body))
	copy(packet[HeaderSize:], body)
	return packet, nil
}

// EncodeAudioPacket builds a complete sequenced audio packet.
func EncodeAudioPacket(streamID uint32, sequence uint32, pcm []byte) []byte {
	packet := make([]byte, HeaderSize+AudioSequenceSize+len(pcm))
	encodeHeader(packet, PacketTypeAudio, FlagSequenced, streamID, AudioSequenceSize+len(pcm))
	binary.BigEndian.PutUint32(packet[HeaderSize:HeaderSize+AudioSequenceSize], sequence)
	copy(packet[HeaderSize+AudioSequenceSize:], pcm)
	return packet
}

// EncodeLegacyAudioPacket builds an audio packet without a sequence number.
func EncodeLegacyAudioPacket(streamID uint32, pcm []byte) []byte {
	packet := make([]byte, HeaderSize+len(pcm))
	encodeHeader(packet, PacketTypeAudio, 0, streamID, len(pcm))
	copy(packet[HeaderSize:], pcm)
	return packet
}

// EncodeControlPacket builds a complete control packet.
func EncodeControlPacket(streamID uint32, msg *ControlMessage) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode control message: %w", err)
	}

	packet := make([]byte, HeaderSize+len(body))
	encodeHeader(packet, PacketTypeControl, 0, streamID, len(body))
	copy(packet[HeaderSize:], body)
	return packet, nil
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string

	switch h.PacketType {
	case PacketTypeStart:
		packetType = "Start"
	case PacketTypeAudio:
		packetType = "Audio"
	case PacketTypeControl:
		packetType = "Control"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Flags:0x%02x, Len:%d, StreamID:%d}",
		packetType, h.Flags, h.PacketLen, h.StreamID)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	if a.HasSequence {
		return fmt.Sprintf("AudioPayload{Sequence:%d, PCMLen:%d}", a.Sequence, len(a.PCM))
	}
	return fmt.Sprintf("AudioPayload{Legacy, PCMLen:%d}", len(a.PCM))
}
