package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planning-poker/internal/domain"
	"planning-poker/pkg/database"
	"planning-poker/pkg/redis"
)

func backends(t *testing.T) map[string]*Backend {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := redis.NewClient("redis://"+mr.Addr(), "test", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	out := map[string]*Backend{
		"memory": NewMemoryBackend(),
		"redis":  NewRedisBackend(client, time.Hour, 5*time.Second, nil),
	}

	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		db, err := database.NewPostgresDB(context.Background(), url)
		require.NoError(t, err)
		require.NoError(t, db.EnsureSchema(context.Background()))
		t.Cleanup(func() {
			_, _ = db.Pool.Exec(context.Background(), `DELETE FROM rooms`)
			_, _ = db.Pool.Exec(context.Background(), `DELETE FROM room_presence`)
			db.Close()
		})
		out["postgres"] = NewPostgresBackend(db, time.Hour, nil)
	}
	return out
}

func sampleRoom(code string) *domain.Room {
	r := domain.NewRoom(code, uuid.NewString(), "Alice", "Sprint 12", true, time.UnixMilli(1700000000000))
	r.AddParticipant(domain.Participant{ID: uuid.NewString(), Name: "Bob", Role: domain.RoleVoter, HasVoted: true,
		Vote: &domain.Vote{Value: 3, Unit: domain.UnitDays}})
	return r
}

func TestRoomStore_RoundTrip(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			room := sampleRoom("RT2345")

			got, err := b.Rooms.Get(ctx, "RT2345")
			require.NoError(t, err)
			assert.Nil(t, got)

			require.NoError(t, b.Rooms.Put(ctx, "RT2345", room))

			got, err = b.Rooms.Get(ctx, "rt2345")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, room, got)

			exists, err := b.Rooms.Exists(ctx, "RT2345")
			require.NoError(t, err)
			assert.True(t, exists)

			codes, err := b.Rooms.Codes(ctx)
			require.NoError(t, err)
			assert.Contains(t, codes, "RT2345")

			require.NoError(t, b.Rooms.Delete(ctx, "RT2345"))
			got, err = b.Rooms.Get(ctx, "RT2345")
			require.NoError(t, err)
			assert.Nil(t, got)

			codes, err = b.Rooms.Codes(ctx)
			require.NoError(t, err)
			assert.NotContains(t, codes, "RT2345")

			// deleting twice is fine
			assert.NoError(t, b.Rooms.Delete(ctx, "RT2345"))
			assert.NoError(t, b.Rooms.Health(ctx))
		})
	}
}

func TestRoomStore_PutOverwrites(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			room := sampleRoom("OW2345")
			require.NoError(t, b.Rooms.Put(ctx, room.Code, room))

			room.Revealed = true
			room.SetIssueName("Login page")
			require.NoError(t, b.Rooms.Put(ctx, room.Code, room))

			got, err := b.Rooms.Get(ctx, room.Code)
			require.NoError(t, err)
			assert.True(t, got.Revealed)
			assert.Equal(t, "Login page", got.CurrentIssueName)
		})
	}
}

func TestMemoryRoomStore_DoesNotAlias(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRoomStore()
	room := sampleRoom("AL2345")
	require.NoError(t, store.Put(ctx, room.Code, room))

	room.Participants[1].Vote.Value = 99

	got, err := store.Get(ctx, room.Code)
	require.NoError(t, err)
	assert.Equal(t, float64(3), got.Participants[1].Vote.Value)

	got.Revealed = true
	again, err := store.Get(ctx, room.Code)
	require.NoError(t, err)
	assert.False(t, again.Revealed)
}

func TestRedisRoomStore_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.NewClient("redis://"+mr.Addr(), "test", nil)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	store := NewRedisRoomStore(client, time.Minute)
	require.NoError(t, store.Put(ctx, "EX2345", sampleRoom("EX2345")))

	mr.FastForward(2 * time.Minute)

	got, err := store.Get(ctx, "EX2345")
	require.NoError(t, err)
	assert.Nil(t, got)

	// the index still lists it until someone deletes it
	codes, err := store.Codes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"EX2345"}, codes)
}

func TestPresence(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, c := uuid.NewString(), uuid.NewString()
			t0 := time.UnixMilli(1700000000000)

			require.NoError(t, b.Presence.Touch(ctx, "PR2345", a, t0))
			require.NoError(t, b.Presence.Touch(ctx, "PR2345", c, t0))
			require.NoError(t, b.Presence.Touch(ctx, "PR2345", a, t0.Add(time.Second)))

			seen, err := b.Presence.LastSeen(ctx, "pr2345")
			require.NoError(t, err)
			require.Len(t, seen, 2)
			assert.True(t, seen[a].Equal(t0.Add(time.Second)))
			assert.True(t, seen[c].Equal(t0))

			require.NoError(t, b.Presence.Remove(ctx, "PR2345", c))
			seen, err = b.Presence.LastSeen(ctx, "PR2345")
			require.NoError(t, err)
			assert.Len(t, seen, 1)

			require.NoError(t, b.Presence.Clear(ctx, "PR2345"))
			seen, err = b.Presence.LastSeen(ctx, "PR2345")
			require.NoError(t, err)
			assert.Empty(t, seen)
		})
	}
}

func TestLocker_SerializesReadModifyWrite(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			room := sampleRoom("LK2345")
			room.Participants = room.Participants[:1]
			require.NoError(t, b.Rooms.Put(ctx, room.Code, room))

			const workers = 10
			var wg sync.WaitGroup
			errs := make(chan error, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					locked, unlock, err := b.Locks.Lock(ctx, "LK2345")
					if err != nil {
						errs <- err
						return
					}
					defer unlock()

					r, err := b.Rooms.Get(locked, "LK2345")
					if err != nil {
						errs <- err
						return
					}
					r.AddParticipant(domain.Participant{ID: uuid.NewString(), Role: domain.RoleVoter})
					errs <- b.Rooms.Put(locked, "LK2345", r)
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			got, err := b.Rooms.Get(ctx, "LK2345")
			require.NoError(t, err)
			assert.Len(t, got.Participants, workers+1)
		})
	}
}

func TestLocker_HonoursContext(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, unlock, err := b.Locks.Lock(context.Background(), "CX2345")
			require.NoError(t, err)
			defer unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			_, _, err = b.Locks.Lock(ctx, "CX2345")
			assert.Error(t, err)
		})
	}
}

func TestLocker_IndependentRooms(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, unlockA, err := b.Locks.Lock(context.Background(), "AA2345")
			require.NoError(t, err)
			defer unlockA()

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_, unlockB, err := b.Locks.Lock(ctx, "BB2345")
			require.NoError(t, err)
			unlockB()
		})
	}
}

func TestMemoryLocker_DropsIdleSlots(t *testing.T) {
	l := NewMemoryLocker().(*memoryLocker)

	_, unlock, err := l.Lock(context.Background(), "ID2345")
	require.NoError(t, err)
	unlock()
	unlock() // second call is a no-op

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.rooms)
}

func TestRedisLocker_ExpiredLeaseIsReclaimed(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.NewClient("redis://"+mr.Addr(), "test", nil)
	require.NoError(t, err)
	defer client.Close()

	locker := NewRedisLocker(client, time.Second, nil)
	_, first, err := locker.Lock(context.Background(), "TT2345")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, second, err := locker.Lock(ctx, "TT2345")
	require.NoError(t, err)

	// the stale holder must not free the new lease
	first()
	assert.True(t, mr.Exists(client.KeyBuilder.KeyRoomLock("TT2345")))
	second()
	assert.False(t, mr.Exists(client.KeyBuilder.KeyRoomLock("TT2345")))
}

func TestPostgresLocker_MoreHoldersThanPoolConns(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := database.NewPostgresDB(context.Background(), url)
	require.NoError(t, err)
	require.NoError(t, db.EnsureSchema(context.Background()))
	t.Cleanup(func() {
		_, _ = db.Pool.Exec(context.Background(), `DELETE FROM rooms`)
		_, _ = db.Pool.Exec(context.Background(), `DELETE FROM room_presence`)
		db.Close()
	})
	b := NewPostgresBackend(db, time.Hour, nil)

	// every worker holds its own room, so all of them contend for the pool at once
	workers := int(db.Pool.Config().MaxConns) + 10
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code := fmt.Sprintf("PC%04d", i)

			locked, unlock, err := b.Locks.Lock(ctx, code)
			if err != nil {
				errs <- err
				return
			}
			defer unlock()

			room, err := b.Rooms.Get(locked, code)
			if err != nil {
				errs <- err
				return
			}
			if room == nil {
				room = sampleRoom(code)
			}
			if err := b.Rooms.Put(locked, code, room); err != nil {
				errs <- err
				return
			}
			errs <- b.Presence.Touch(locked, code, room.Participants[0].ID, time.Now())
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	codes, err := b.Rooms.Codes(context.Background())
	require.NoError(t, err)
	for i := 0; i < workers; i++ {
		assert.Contains(t, codes, fmt.Sprintf("PC%04d", i))
	}
}
