package webhook

import "sync"

// serial runs work for one ordering key in arrival order while keys stay
// independent of each other.
type serial struct {
	mu   sync.Mutex
	tail map[string]chan struct{}
}

// enter joins the line for key. The caller waits on turn before running and
// calls leave when done. An empty key never waits.
func (s *serial) enter(key string) (turn <-chan struct{}, leave func()) {
	mine := make(chan struct{})
	if key == "" {
		close(mine)
		return mine, func() {}
	}
	s.mu.Lock()
	if s.tail == nil {
		s.tail = make(map[string]chan struct{})
	}
	prev, ok := s.tail[key]
	s.tail[key] = mine
	s.mu.Unlock()

	if !ok {
		prev = make(chan struct{})
		close(prev)
	}
	return prev, func() {
		s.mu.Lock()
		if s.tail[key] == mine {
			delete(s.tail, key)
		}
		s.mu.Unlock()
		close(mine)
	}
}

func (s *serial) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tail)
}
