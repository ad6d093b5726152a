package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"planning-poker/internal/domain"
)

// memoryRoomStore keeps rooms in process. Records are cloned on the way in
// and out so callers never alias stored state.
type memoryRoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*domain.Room
}

// NewMemoryRoomStore creates an in-process room store
func NewMemoryRoomStore() RoomStore {
	return &memoryRoomStore{rooms: make(map[string]*domain.Room)}
}

func (s *memoryRoomStore) Get(ctx context.Context, code string) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[domain.NormalizeCode(code)].Clone(), nil
}

func (s *memoryRoomStore) Put(ctx context.Context, code string, room *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[domain.NormalizeCode(code)] = room.Clone()
	return nil
}

func (s *memoryRoomStore) Delete(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, domain.NormalizeCode(code))
	return nil
}

func (s *memoryRoomStore) Exists(ctx context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[domain.NormalizeCode(code)]
	return ok, nil
}

func (s *memoryRoomStore) Codes(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	codes := make([]string, 0, len(s.rooms))
	for code := range s.rooms {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

func (s *memoryRoomStore) Health(ctx context.Context) error {
	return nil
}

// memoryPresence maps room code -> participant id -> last seen
type memoryPresence struct {
	mu   sync.Mutex
	seen map[string]map[string]time.Time
}

// NewMemoryPresence creates an in-process presence tracker
func NewMemoryPresence() PresenceTracker {
	return &memoryPresence{seen: make(map[string]map[string]time.Time)}
}

func (p *memoryPresence) Touch(ctx context.Context, code, participantID string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	code = domain.NormalizeCode(code)
	room, ok := p.seen[code]
	if !ok {
		room = make(map[string]time.Time)
		p.seen[code] = room
	}
	room[participantID] = at
	return nil
}

func (p *memoryPresence) LastSeen(ctx context.Context, code string) (map[string]time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	room := p.seen[domain.NormalizeCode(code)]
	out := make(map[string]time.Time, len(room))
	for id, at := range room {
		out[id] = at
	}
	return out, nil
}

func (p *memoryPresence) Remove(ctx context.Context, code string, participantIDs ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	code = domain.NormalizeCode(code)
	room := p.seen[code]
	for _, id := range participantIDs {
		delete(room, id)
	}
	if len(room) == 0 {
		delete(p.seen, code)
	}
	return nil
}

func (p *memoryPresence) Clear(ctx context.Context, code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.seen, domain.NormalizeCode(code))
	return nil
}

// memoryLocker is a keyed mutex. Each code gets a one-slot semaphore so
// waiters can give up when their context ends; entries are dropped once
// nobody holds or waits on them.
type memoryLocker struct {
	mu    sync.Mutex
	rooms map[string]*roomSlot
}

type roomSlot struct {
	sem  chan struct{}
	refs int
}

// NewMemoryLocker creates an in-process per-room locker
func NewMemoryLocker() RoomLocker {
	return &memoryLocker{rooms: make(map[string]*roomSlot)}
}

func (l *memoryLocker) Lock(ctx context.Context, code string) (context.Context, func(), error) {
	code = domain.NormalizeCode(code)

	l.mu.Lock()
	slot, ok := l.rooms[code]
	if !ok {
		slot = &roomSlot{sem: make(chan struct{}, 1)}
		l.rooms[code] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(code, slot)
		return nil, nil, ctx.Err()
	}

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			<-slot.sem
			l.release(code, slot)
		})
	}, nil
}

func (l *memoryLocker) release(code string, slot *roomSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.rooms, code)
	}
}

// NewMemoryBackend wires the in-process store, presence tracker and locker
func NewMemoryBackend() *Backend {
	return &Backend{
		Name:     "memory",
		Rooms:    NewMemoryRoomStore(),
		Presence: NewMemoryPresence(),
		Locks:    NewMemoryLocker(),
	}
}
