package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/manangulati17/ai-scribe-backend/internal/config"
	"github.com/manangulati17/ai-scribe-backend/internal/metrics"
	"github.com/manangulati17/ai-scribe-backend/internal/protocol"
	"github.com/manangulati17/ai-scribe-backend/internal/sequence"
	"github.com/manangulati17/ai-scribe-backend/internal/session"
)

// packet is one received datagram with its sender address
type packet struct {
	data []byte
	addr *net.UDPAddr
}

// UDPServer receives streaming packets and routes them to the session
// registry. Datagrams are queued to a bounded channel and handled by a
// fixed worker pool; replies go back to the sender as JSON datagrams.
type UDPServer struct {
	config   config.UDPConfig
	registry *session.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger

	conn       *net.UDPConn
	packetChan chan packet

	stopReceive chan struct{}
	stopWorkers chan struct{}
	wg          sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewUDPServer creates the UDP streaming server
func NewUDPServer(cfg config.UDPConfig, registry *session.Registry, m *metrics.Metrics, logger *slog.Logger) *UDPServer {
	return &UDPServer{
		config:      cfg,
		registry:    registry,
		metrics:     m,
		logger:      logger,
		packetChan:  make(chan packet, cfg.QueueSize),
		stopReceive: make(chan struct{}),
		stopWorkers: make(chan struct{}),
	}
}

// Start binds the UDP socket and starts the receive loop and workers
func (s *UDPServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	addr := &net.UDPAddr{
		IP:   net.ParseIP(s.config.Host),
		Port: s.config.Port,
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP %s:%d: %w", s.config.Host, s.config.Port, err)
	}

	if err := conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.String("error", err.Error()))
	}

	s.conn = conn
	s.running = true

	s.wg.Add(1)
	go s.receiveLoop()

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.logger.Info("UDP server started",
		slog.String("host", s.config.Host),
		slog.Int("port", s.config.Port),
		slog.Int("workers", s.config.Workers))

	return nil
}

// Stop shuts down the server and waits for workers to drain
func (s *UDPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopReceive)
	s.conn.Close()
	close(s.stopWorkers)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("UDP server stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for UDP workers: %w", ctx.Err())
	}
}

// receiveLoop reads datagrams and queues them for the workers
func (s *UDPServer) receiveLoop() {
	defer s.wg.Done()

	buf := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.stopReceive:
			return
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.config.GetReadTimeout())); err != nil {
			s.logger.Error("Failed to set read deadline",
				slog.String("error", err.Error()))
			return
		}

		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.stopReceive:
				return
			default:
				s.logger.Error("UDP read error", slog.String("error", err.Error()))
				continue
			}
		}

		s.metrics.RecordPacketReceived()

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case s.packetChan <- packet{data: data, addr: addr}:
			s.metrics.SetQueueSize(len(s.packetChan))
		default:
			// Queue full; drop the packet. The client retries or the
			// chunk arrives as part of a later recovery batch.
			s.logger.Warn("Packet queue full, dropping packet",
				slog.String("addr", addr.String()))
		}
	}
}

// worker drains the packet queue
func (s *UDPServer) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case pkt := <-s.packetChan:
			s.metrics.SetQueueSize(len(s.packetChan))
			s.handlePacket(pkt)
		case <-s.stopWorkers:
			// Drain what is already queued before exiting
			for {
				select {
				case pkt := <-s.packetChan:
					s.handlePacket(pkt)
				default:
					return
				}
			}
		}
	}
}

// handlePacket parses one datagram and routes it by packet type
func (s *UDPServer) handlePacket(pkt packet) {
	ctx := context.Background()

	parsed, err := protocol.ParsePacket(pkt.data)
	if err != nil {
		s.metrics.RecordParseError()
		s.logger.Debug("Failed to parse packet",
			slog.String("addr", pkt.addr.String()),
			slog.String("error", err.Error()))
		s.writeReply(pkt.addr, errorReply("", "invalid packet: "+err.Error()))
		return
	}

	switch parsed.Header.PacketType {
	case protocol.PacketTypeStart:
		s.handleStart(ctx, parsed.Header, parsed.Start, pkt.addr)
		s.metrics.RecordPacketProcessed("start")
	case protocol.PacketTypeAudio:
		s.handleAudio(ctx, parsed.Header, parsed.Audio, pkt.addr)
		s.metrics.RecordPacketProcessed("audio")
	case protocol.PacketTypeControl:
		s.handleControl(ctx, parsed.Header, parsed.Control, pkt.addr)
		s.metrics.RecordPacketProcessed("control")
	}
}

// handleStart creates or resumes a session for the stream
func (s *UDPServer) handleStart(ctx context.Context, header *protocol.Header, start *protocol.StartPayload, addr *net.UDPAddr) {
	var sess *session.Session
	var err error
	if start.Resume {
		sess, err = s.registry.Resume(ctx, header.StreamID, start.PrincipalID, start.RecordID, start.ResumePoint)
	} else {
		sess, err = s.registry.Start(ctx, header.StreamID, start.PrincipalID, start.RecordID)
	}

	if err != nil {
		s.logger.Warn("Failed to start session",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.String("error", err.Error()))
		s.writeReply(addr, errorReply("", err.Error()))
		return
	}

	s.writeReply(addr, map[string]interface{}{
		"type":       "session_started",
		"session_id": sess.ID,
		"resumed":    start.Resume,
	})
}

// handleAudio submits one audio chunk for the stream's session
func (s *UDPServer) handleAudio(ctx context.Context, header *protocol.Header, audio *protocol.AudioPayload, addr *net.UDPAddr) {
	sess, ok := s.registry.GetByStream(header.StreamID)
	if !ok {
		s.writeReply(addr, errorReply("", session.ErrSessionNotFound.Error()))
		return
	}

	outcome := s.registry.SubmitChunk(ctx, sess.ID, audio.Sequence, audio.HasSequence, audio.PCM)
	s.writeReply(addr, outcomeReply(sess.ID, outcome))
}

// handleControl routes end, interruption, recovery, and structured
// audio-chunk control messages
func (s *UDPServer) handleControl(ctx context.Context, header *protocol.Header, msg *protocol.ControlMessage, addr *net.UDPAddr) {
	sess, ok := s.registry.GetByStream(header.StreamID)
	if !ok {
		s.writeReply(addr, errorReply("", session.ErrSessionNotFound.Error()))
		return
	}

	switch msg.Action {
	case protocol.ActionEndSession:
		result, err := s.registry.End(ctx, sess.ID)
		if err != nil {
			s.writeReply(addr, errorReply(sess.ID, err.Error()))
			return
		}
		s.writeReply(addr, map[string]interface{}{
			"type":   "session_ended",
			"result": result,
		})

	case protocol.ActionInterrupt:
		s.registry.RecordInterruption(ctx, sess.ID, session.InterruptionEvent{
			Reason:     msg.Reason,
			DurationMS: float64(msg.DurationMS),
			ChunksLost: msg.ChunksLost,
		})
		s.writeReply(addr, map[string]interface{}{
			"type":       "interruption_recorded",
			"session_id": sess.ID,
		})

	case protocol.ActionRecover:
		chunks := make([]sequence.Chunk, 0, len(msg.Chunks))
		for _, env := range msg.Chunks {
			chunks = append(chunks, sequence.Chunk{Sequence: env.Sequence, Payload: env.Data})
		}

		summary, err := s.registry.Recover(ctx, sess.ID, chunks)
		if err != nil {
			s.writeReply(addr, errorReply(sess.ID, err.Error()))
			return
		}
		s.writeReply(addr, map[string]interface{}{
			"type":       "recovery_complete",
			"session_id": sess.ID,
			"summary":    summary,
		})

	case protocol.ActionAudioChunk:
		outcome := s.registry.SubmitChunk(ctx, sess.ID, msg.Chunk.Sequence, true, msg.Chunk.Data)
		s.writeReply(addr, outcomeReply(sess.ID, outcome))
	}
}

// writeReply sends a JSON datagram back to the sender. Best-effort; the
// transport is unreliable by contract.
func (s *UDPServer) writeReply(addr *net.UDPAddr, reply interface{}) {
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error("Failed to marshal reply", slog.String("error", err.Error()))
		return
	}

	if _, err := s.conn.WriteToUDP(data, addr); err != nil {
		s.logger.Debug("Failed to send reply",
			slog.String("addr", addr.String()),
			slog.String("error", err.Error()))
	}
}

// outcomeReply wraps a chunk outcome for the wire
func outcomeReply(sessionID string, outcome session.Outcome) map[string]interface{} {
	return map[string]interface{}{
		"type":       "chunk_outcome",
		"session_id": sessionID,
		"outcome":    outcome,
	}
}

// errorReply builds an error datagram
func errorReply(sessionID, message string) map[string]interface{} {
	reply := map[string]interface{}{
		"type":  "error",
		"error": message,
	}
	if sessionID != "" {
		reply["session_id"] = sessionID
	}
	return reply
}

// Statistics returns queue depth for the monitoring API
func (s *UDPServer) Statistics() map[string]interface{} {
	return map[string]interface{}{
		"queue_size":     len(s.packetChan),
		"queue_capacity": cap(s.packetChan),
	}
}
