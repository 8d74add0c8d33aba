package agent

import "sync"

// laneSet hands out per-session FIFO turns. Each caller waits for the turn
// taken just before it on the same session.
type laneSet struct {
	mu   sync.Mutex
	tail map[string]chan struct{}
}

func newLaneSet() *laneSet {
	return &laneSet{tail: map[string]chan struct{}{}}
}

// enter reserves the next turn for id. The caller must wait on prev (when
// non-nil) before running and call leave exactly once afterwards.
func (l *laneSet) enter(id string) (prev <-chan struct{}, leave func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.tail[id]
	mine := make(chan struct{})
	l.tail[id] = mine
	return p, func() {
		l.mu.Lock()
		if l.tail[id] == mine {
			delete(l.tail, id)
		}
		l.mu.Unlock()
		close(mine)
	}
}

func (l *laneSet) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tail)
}
