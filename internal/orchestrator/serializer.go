package orchestrator

import "sync"

// Serializer runs queued work per session one task at a time, closing the
// idle mark as soon as a session's queue drains rather than parking a
// goroutine per session forever. This resolves the race spec.md §9 flags:
// two rapid visitor messages on the same session could otherwise both
// inspect the flow cursor before either pauses.
type Serializer struct {
	mu    sync.Mutex
	tasks map[string][]func()
	busy  map[string]bool
}

func NewSerializer() *Serializer {
	return &Serializer{
		tasks: make(map[string][]func()),
		busy:  make(map[string]bool),
	}
}

// Run enqueues fn for sessionID, starting a drain goroutine if the
// session's queue is not already being worked.
func (s *Serializer) Run(sessionID string, fn func()) {
	s.mu.Lock()
	s.tasks[sessionID] = append(s.tasks[sessionID], fn)
	if s.busy[sessionID] {
		s.mu.Unlock()
		return
	}
	s.busy[sessionID] = true
	s.mu.Unlock()

	go s.drain(sessionID)
}

func (s *Serializer) drain(sessionID string) {
	for {
		s.mu.Lock()
		queue := s.tasks[sessionID]
		if len(queue) == 0 {
			s.busy[sessionID] = false
			delete(s.tasks, sessionID)
			s.mu.Unlock()
			return
		}
		fn := queue[0]
		s.tasks[sessionID] = queue[1:]
		s.mu.Unlock()

		fn()
	}
}
