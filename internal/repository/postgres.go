package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"planning-poker/internal/domain"
	"planning-poker/pkg/database"
	"planning-poker/pkg/logger"
)

// querier is the part of pgx shared by the pool and a single acquired conn
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type lockConnKey struct{}

// conn returns the session holding the caller's room lock, or the pool.
// Queries made under a lock must not wait for a second pool connection:
// with every connection pinned by a lock holder they would never get one.
func conn(ctx context.Context, db *database.PostgresDB) querier {
	if c, ok := ctx.Value(lockConnKey{}).(*pgxpool.Conn); ok {
		return c
	}
	return db.Pool
}

// postgresRoomStore keeps one JSONB row per room
type postgresRoomStore struct {
	db  *database.PostgresDB
	ttl time.Duration
}

// NewPostgresRoomStore creates a room store on PostgreSQL. A zero ttl keeps rooms forever.
func NewPostgresRoomStore(db *database.PostgresDB, ttl time.Duration) RoomStore {
	return &postgresRoomStore{db: db, ttl: ttl}
}

func (s *postgresRoomStore) Get(ctx context.Context, code string) (*domain.Room, error) {
	code = domain.NormalizeCode(code)
	query := `
		SELECT data FROM rooms
		WHERE code = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`

	var data []byte
	err := conn(ctx, s.db).QueryRow(ctx, query, code).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get room %s: %w", code, err)
	}

	var room domain.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("failed to decode room %s: %w", code, err)
	}
	return &room, nil
}

func (s *postgresRoomStore) Put(ctx context.Context, code string, room *domain.Room) error {
	code = domain.NormalizeCode(code)
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to encode room %s: %w", code, err)
	}

	var expiresAt *time.Time
	if s.ttl > 0 {
		t := time.Now().Add(s.ttl)
		expiresAt = &t
	}

	query := `
		INSERT INTO rooms (code, data, updated_at, expires_at)
		VALUES ($1, $2, NOW(), $3)
		ON CONFLICT (code) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
	`
	if _, err := conn(ctx, s.db).Exec(ctx, query, code, data, expiresAt); err != nil {
		return fmt.Errorf("failed to put room %s: %w", code, err)
	}
	return nil
}

func (s *postgresRoomStore) Delete(ctx context.Context, code string) error {
	if _, err := conn(ctx, s.db).Exec(ctx, `DELETE FROM rooms WHERE code = $1`, domain.NormalizeCode(code)); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

func (s *postgresRoomStore) Exists(ctx context.Context, code string) (bool, error) {
	// expired rows still reserve their code until the sweeper deletes them
	var exists bool
	err := conn(ctx, s.db).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM rooms WHERE code = $1)`, domain.NormalizeCode(code)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check room: %w", err)
	}
	return exists, nil
}

// Codes includes expired rows so the sweeper can delete them
func (s *postgresRoomStore) Codes(ctx context.Context) ([]string, error) {
	rows, err := conn(ctx, s.db).Query(ctx, `SELECT code FROM rooms ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan room codes: %w", err)
	}
	return codes, nil
}

func (s *postgresRoomStore) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}

// postgresPresence keeps one row per (room, participant)
type postgresPresence struct {
	db *database.PostgresDB
}

// NewPostgresPresence creates a presence tracker on PostgreSQL
func NewPostgresPresence(db *database.PostgresDB) PresenceTracker {
	return &postgresPresence{db: db}
}

func (p *postgresPresence) Touch(ctx context.Context, code, participantID string, at time.Time) error {
	query := `
		INSERT INTO room_presence (code, participant_id, last_seen)
		VALUES ($1, $2, $3)
		ON CONFLICT (code, participant_id) DO UPDATE SET last_seen = EXCLUDED.last_seen
	`
	if _, err := conn(ctx, p.db).Exec(ctx, query, domain.NormalizeCode(code), participantID, at); err != nil {
		return fmt.Errorf("failed to record presence: %w", err)
	}
	return nil
}

func (p *postgresPresence) LastSeen(ctx context.Context, code string) (map[string]time.Time, error) {
	rows, err := conn(ctx, p.db).Query(ctx,
		`SELECT participant_id::text, last_seen FROM room_presence WHERE code = $1`,
		domain.NormalizeCode(code))
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			id string
			at time.Time
		)
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("failed to scan presence: %w", err)
		}
		out[id] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}
	return out, nil
}

func (p *postgresPresence) Remove(ctx context.Context, code string, participantIDs ...string) error {
	if len(participantIDs) == 0 {
		return nil
	}
	_, err := conn(ctx, p.db).Exec(ctx,
		`DELETE FROM room_presence WHERE code = $1 AND participant_id::text = ANY($2)`,
		domain.NormalizeCode(code), participantIDs)
	if err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}
	return nil
}

func (p *postgresPresence) Clear(ctx context.Context, code string) error {
	if _, err := conn(ctx, p.db).Exec(ctx, `DELETE FROM room_presence WHERE code = $1`, domain.NormalizeCode(code)); err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}
	return nil
}

// postgresLocker holds a session advisory lock on a pinned pool connection.
// If the process dies the session ends and the lock goes with it.
type postgresLocker struct {
	db  *database.PostgresDB
	log *logger.Logger
}

// NewPostgresLocker creates a per-room locker backed by advisory locks
func NewPostgresLocker(db *database.PostgresDB, log *logger.Logger) RoomLocker {
	if log == nil {
		log = logger.NewNop()
	}
	return &postgresLocker{db: db, log: log}
}

// Lock returns a context carrying the locked session; the store and presence
// tracker run their queries on it until unlock.
func (l *postgresLocker) Lock(ctx context.Context, code string) (context.Context, func(), error) {
	code = domain.NormalizeCode(code)

	held, err := l.db.Pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire connection for room lock: %w", err)
	}
	if _, err := held.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, code); err != nil {
		held.Release()
		return nil, nil, fmt.Errorf("failed to acquire room lock: %w", err)
	}

	return context.WithValue(ctx, lockConnKey{}, held), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := held.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, code); err != nil {
			l.log.Warn("Failed to release room lock, closing connection", zap.String("code", code), zap.Error(err))
			// closing the session drops any advisory lock it holds
			_ = held.Conn().Close(ctx)
		}
		held.Release()
	}, nil
}

// NewPostgresBackend wires the PostgreSQL store, presence tracker and locker
func NewPostgresBackend(db *database.PostgresDB, roomTTL time.Duration, log *logger.Logger) *Backend {
	return &Backend{
		Name:     "postgres",
		Rooms:    NewPostgresRoomStore(db, roomTTL),
		Presence: NewPostgresPresence(db),
		Locks:    NewPostgresLocker(db, log),
	}
}
