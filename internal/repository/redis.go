package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"planning-poker/internal/domain"
	"planning-poker/pkg/logger"
	"planning-poker/pkg/redis"
)

// lockRetryInterval is how often a blocked Lock call retries SETNX
const lockRetryInterval = 25 * time.Millisecond

// redisRoomStore keeps each room as a JSON string plus membership in a
// live-room set used by the sweeper.
type redisRoomStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRoomStore creates a room store on Redis. A zero ttl keeps rooms forever.
func NewRedisRoomStore(client *redis.Client, ttl time.Duration) RoomStore {
	return &redisRoomStore{client: client, ttl: ttl}
}

func (s *redisRoomStore) Get(ctx context.Context, code string) (*domain.Room, error) {
	code = domain.NormalizeCode(code)
	raw, err := s.client.Get(ctx, s.client.KeyBuilder.KeyRoom(code))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get room %s: %w", code, err)
	}

	var room domain.Room
	if err := json.Unmarshal([]byte(raw), &room); err != nil {
		return nil, fmt.Errorf("failed to decode room %s: %w", code, err)
	}
	return &room, nil
}

func (s *redisRoomStore) Put(ctx context.Context, code string, room *domain.Room) error {
	code = domain.NormalizeCode(code)
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to encode room %s: %w", code, err)
	}

	kb := s.client.KeyBuilder
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, kb.KeyRoom(code), data, s.ttl)
	pipe.SAdd(ctx, kb.KeyRoomIndex(), code)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to put room %s: %w", code, err)
	}
	return nil
}

func (s *redisRoomStore) Delete(ctx context.Context, code string) error {
	code = domain.NormalizeCode(code)
	kb := s.client.KeyBuilder
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, kb.KeyRoom(code))
	pipe.SRem(ctx, kb.KeyRoomIndex(), code)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete room %s: %w", code, err)
	}
	return nil
}

func (s *redisRoomStore) Exists(ctx context.Context, code string) (bool, error) {
	n, err := s.client.Exists(ctx, s.client.KeyBuilder.KeyRoom(domain.NormalizeCode(code)))
	if err != nil {
		return false, fmt.Errorf("failed to check room: %w", err)
	}
	return n > 0, nil
}

// Codes may include rooms whose key already expired; Get returns nil for those
func (s *redisRoomStore) Codes(ctx context.Context) ([]string, error) {
	codes, err := s.client.SMembers(ctx, s.client.KeyBuilder.KeyRoomIndex())
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return codes, nil
}

func (s *redisRoomStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

// redisPresence stores a hash of participant id -> unix milliseconds per room
type redisPresence struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPresence creates a presence tracker on Redis
func NewRedisPresence(client *redis.Client, ttl time.Duration) PresenceTracker {
	return &redisPresence{client: client, ttl: ttl}
}

func (p *redisPresence) Touch(ctx context.Context, code, participantID string, at time.Time) error {
	key := p.client.KeyBuilder.KeyPresence(domain.NormalizeCode(code))
	if err := p.client.HSet(ctx, key, participantID, at.UnixMilli()); err != nil {
		return fmt.Errorf("failed to record presence: %w", err)
	}
	if p.ttl > 0 {
		if err := p.client.Expire(ctx, key, p.ttl); err != nil {
			return fmt.Errorf("failed to refresh presence ttl: %w", err)
		}
	}
	return nil
}

func (p *redisPresence) LastSeen(ctx context.Context, code string) (map[string]time.Time, error) {
	raw, err := p.client.HGetAll(ctx, p.client.KeyBuilder.KeyPresence(domain.NormalizeCode(code)))
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}
	out := make(map[string]time.Time, len(raw))
	for id, v := range raw {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			// unreadable entries are treated as never seen
			continue
		}
		out[id] = time.UnixMilli(ms)
	}
	return out, nil
}

func (p *redisPresence) Remove(ctx context.Context, code string, participantIDs ...string) error {
	if len(participantIDs) == 0 {
		return nil
	}
	if err := p.client.HDel(ctx, p.client.KeyBuilder.KeyPresence(domain.NormalizeCode(code)), participantIDs...); err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}
	return nil
}

func (p *redisPresence) Clear(ctx context.Context, code string) error {
	if err := p.client.Delete(ctx, p.client.KeyBuilder.KeyPresence(domain.NormalizeCode(code))); err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}
	return nil
}

// redisLocker is a SETNX lease per room. The TTL bounds how long a crashed
// holder can block a room; release only deletes our own token.
type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisLocker creates a per-room locker shared by every process using client
func NewRedisLocker(client *redis.Client, ttl time.Duration, log *logger.Logger) RoomLocker {
	if log == nil {
		log = logger.NewNop()
	}
	return &redisLocker{client: client, ttl: ttl, log: log}
}

func (l *redisLocker) Lock(ctx context.Context, code string) (context.Context, func(), error) {
	key := l.client.KeyBuilder.KeyRoomLock(domain.NormalizeCode(code))
	token := uuid.NewString()

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to acquire room lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return ctx, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		released, err := l.client.ReleaseLock(ctx, key, token)
		if err != nil {
			l.log.Warn("Failed to release room lock", zap.String("code", code), zap.Error(err))
			return
		}
		if !released {
			l.log.Warn("Room lock expired before release", zap.String("code", code), zap.Duration("ttl", l.ttl))
		}
	}, nil
}

// NewRedisBackend wires the Redis store, presence tracker and locker
func NewRedisBackend(client *redis.Client, roomTTL, lockTTL time.Duration, log *logger.Logger) *Backend {
	return &Backend{
		Name:     "redis",
		Rooms:    NewRedisRoomStore(client, roomTTL),
		Presence: NewRedisPresence(client, roomTTL),
		Locks:    NewRedisLocker(client, lockTTL, log),
	}
}
