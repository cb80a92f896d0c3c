package session

import "sync"

// Dispatcher is the write side of a Store.
type Dispatcher interface {
	Dispatch(cmds ...Command) State
	Snapshot() State
}

// Store owns one conversation's State and applies commands in dispatch order.
type Store struct {
	mu     sync.Mutex
	state  State
	subs   map[int]chan State
	nextID int
}

// NewStore creates a store seeded with initial.
func NewStore(initial State) *Store {
	return &Store{
		state: initial,
		subs:  make(map[int]chan State),
	}
}

// Dispatch applies cmds in order as one batch and returns the resulting
// state. Subscribers are notified once per batch that changed anything.
func (s *Store) Dispatch(cmds ...Command) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := false
	for _, cmd := range cmds {
		if cmd == nil || !Known(cmd) {
			continue
		}
		s.state = Reduce(s.state, cmd)
		applied = true
	}

	if applied {
		s.publishLocked(s.state)
	}
	return s.state
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers for state snapshots. The channel always converges on
// the latest state; intermediate snapshots are dropped when the reader falls
// behind. The returned func unsubscribes and closes the channel.
func (s *Store) Subscribe(buffer int) (<-chan State, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan State, buffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) publishLocked(state State) {
	for _, ch := range s.subs {
		select {
		case ch <- state:
			continue
		default:
		}
		// drop the oldest pending snapshot to make room for the newest
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- state:
		default:
		}
	}
}
