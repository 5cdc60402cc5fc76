package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RecoveryRecord is a partial-session snapshot keyed by durable record and
// owning principal. A dropped connection resumes from it: the sequence
// cursor restarts at LastChunk+1 and the transcript state is re-seeded.
type RecoveryRecord struct {
	RecordID          string    `json:"record_id"`
	PrincipalID       string    `json:"principal_id"`
	Sequences         []uint32  `json:"sequences"`
	LastChunk         uint32    `json:"last_chunk"`
	PartialTranscript string    `json:"partial_transcript"`
	FinalTranscript   string    `json:"final_transcript"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// RecoveryStore persists recovery records. Lookups for missing keys return
// (nil, nil) rather than an error; recovery degrades to an empty-effect
// operation when no snapshot exists.
type RecoveryStore interface {
	Save(ctx context.Context, record *RecoveryRecord) error
	Load(ctx context.Context, recordID, principalID string) (*RecoveryRecord, error)
	Delete(ctx context.Context, recordID, principalID string) error
}

type recoveryKey struct {
	recordID    string
	principalID string
}

// MemoryRecoveryStore keeps recovery records in process memory. No
// durability beyond process uptime; the ordering and dedup contract does
// not depend on it.
type MemoryRecoveryStore struct {
	mu      sync.RWMutex
	records map[recoveryKey]*RecoveryRecord
}

// NewMemoryRecoveryStore creates an in-memory recovery store.
func NewMemoryRecoveryStore() *MemoryRecoveryStore {
	return &MemoryRecoveryStore{
		records: make(map[recoveryKey]*RecoveryRecord),
	}
}

func (s *MemoryRecoveryStore) Save(ctx context.Context, record *RecoveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recoveryKey{record.RecordID, record.PrincipalID}] = record
	return nil
}

func (s *MemoryRecoveryStore) Load(ctx context.Context, recordID, principalID string) (*RecoveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[recoveryKey{recordID, principalID}]
	if !ok {
		return nil, nil
	}

	copied := *record
	copied.Sequences = append([]uint32(nil), record.Sequences...)
	return &copied, nil
}

func (s *MemoryRecoveryStore) Delete(ctx context.Context, recordID, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recoveryKey{recordID, principalID})
	return nil
}

// RedisRecoveryStore keeps recovery records in Redis with a TTL, so
// snapshots survive a process restart and expire on their own once stale.
type RedisRecoveryStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRecoveryStore connects to Redis and verifies the connection.
func NewRedisRecoveryStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisRecoveryStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisRecoveryStore{client: client, ttl: ttl}, nil
}

func redisRecoveryKey(recordID, principalID string) string {
	return "recovery:" + recordID + ":" + principalID
}

func (s *RedisRecoveryStore) Save(ctx context.Context, record *RecoveryRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal recovery record: %w", err)
	}

	key := redisRecoveryKey(record.RecordID, record.PrincipalID)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save recovery record: %w", err)
	}

	return nil
}

func (s *RedisRecoveryStore) Load(ctx context.Context, recordID, principalID string) (*RecoveryRecord, error) {
	data, err := s.client.Get(ctx, redisRecoveryKey(recordID, principalID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recovery record: %w", err)
	}

	var record RecoveryRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recovery record: %w", err)
	}

	return &record, nil
}

func (s *RedisRecoveryStore) Delete(ctx context.Context, recordID, principalID string) error {
	if err := s.client.Del(ctx, redisRecoveryKey(recordID, principalID)).Err(); err != nil {
		return fmt.Errorf("failed to delete recovery record: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisRecoveryStore) Close() error {
	return s.client.Close()
}
