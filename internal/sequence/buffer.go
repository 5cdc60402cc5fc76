package sequence

import (
	"github.com/zeebo/blake3"
)

// Disposition describes what the buffer did with a submitted chunk.
type Disposition int

const (
	// Applied means the chunk advanced the cursor; the returned run is
	// ready to apply in order.
	Applied Disposition = iota
	// Buffered means the chunk was stored but a gap remains before it.
	Buffered
	// Duplicate means the chunk was already seen (or is a stale re-send
	// below the cursor) and was dropped.
	Duplicate
	// Skipped means the chunk precedes the resume point of a resumed
	// session and was ignored.
	Skipped
)

// String returns the disposition name.
func (d Disposition) String() string {
	switch d {
	case Applied:
		return "applied"
	case Buffered:
		return "buffered"
	case Duplicate:
		return "duplicate"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Chunk is one unit of audio released by the buffer in sequence order.
type Chunk struct {
	Sequence uint32
	Payload  []byte
}

// Fingerprint derives the content fingerprint used for duplicate detection.
func Fingerprint(payload []byte) [32]byte {
	return blake3.Sum256(payload)
}

// fingerprintKey identifies a delivery by sequence number and payload hash.
type fingerprintKey struct {
	sequence uint32
	sum      [32]byte
}

// Buffer converts arbitrarily ordered, possibly duplicated chunk deliveries
// into a strictly ordered, gap-free stream. It holds chunks keyed by
// sequence number and releases the longest contiguous run starting at the
// expected cursor.
//
// The buffer is not safe for concurrent use; each session owns its buffer
// exclusively and serializes submissions.
type Buffer struct {
	expected    uint32
	resumePoint uint32
	legacy      bool

	pending map[uint32][]byte
	seen    map[fingerprintKey]struct{}

	duplicates uint64
	outOfOrder uint64
}

// NewBuffer creates a buffer whose cursor starts at the given sequence.
// A resumed session passes its resume point; a fresh session passes 0.
func NewBuffer(start uint32) *Buffer {
	return &Buffer{
		expected:    start,
		resumePoint: start,
		pending:     make(map[uint32][]byte),
		seen:        make(map[fingerprintKey]struct{}),
	}
}

// NewLegacyBuffer creates a buffer for senders that do not supply sequence
// numbers. Every submission is assigned the expected sequence, degenerating
// to immediate in-order application with no reordering.
func NewLegacyBuffer() *Buffer {
	b := NewBuffer(0)
	b.legacy = true
	return b
}

// Submit records a chunk delivery. It returns the contiguous run of chunks
// now ready to apply, in strictly increasing sequence order, together with
// the disposition of the submitted chunk. The returned run is empty unless
// the disposition is Applied.
func (b *Buffer) Submit(sequence uint32, payload []byte) ([]Chunk, Disposition) {
	if b.legacy {
		sequence = b.expected
	}

	key := fingerprintKey{sequence: sequence, sum: Fingerprint(payload)}
	if _, dup := b.seen[key]; dup {
		b.duplicates++
		return nil, Duplicate
	}

	if sequence < b.resumePoint {
		return nil, Skipped
	}

	// Below the cursor with different bytes: sequence is the authoritative
	// ordering key, so the re-send is dropped and counted as a duplicate.
	if sequence < b.expected {
		b.duplicates++
		return nil, Duplicate
	}

	b.seen[key] = struct{}{}
	b.pending[sequence] = payload

	if sequence != b.expected {
		b.outOfOrder++
	}

	released := b.drain()
	if len(released) == 0 {
		return nil, Buffered
	}

	return released, Applied
}

// drain removes and returns the contiguous run starting at the cursor.
func (b *Buffer) drain() []Chunk {
	var released []Chunk
	for {
		payload, ok := b.pending[b.expected]
		if !ok {
			break
		}

		released = append(released, Chunk{Sequence: b.expected, Payload: payload})
		delete(b.pending, b.expected)
		b.expected++
	}
	return released
}

// Expected returns the next sequence number the buffer will release.
func (b *Buffer) Expected() uint32 {
	return b.expected
}

// ResumePoint returns the sequence the buffer was seeded with.
func (b *Buffer) ResumePoint() uint32 {
	return b.resumePoint
}

// Legacy reports whether the buffer assigns sequence numbers itself.
func (b *Buffer) Legacy() bool {
	return b.legacy
}

// Pending returns the number of buffered, not-yet-released chunks.
func (b *Buffer) Pending() int {
	return len(b.pending)
}

// Duplicates returns the number of dropped duplicate deliveries.
func (b *Buffer) Duplicates() uint64 {
	return b.duplicates
}

// OutOfOrder returns the number of chunks that arrived out of order.
func (b *Buffer) OutOfOrder() uint64 {
	return b.outOfOrder
}
