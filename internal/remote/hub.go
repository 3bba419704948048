package remote

import (
	"fmt"
	"sync"

	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/query"
)

// Hub fans committed changes out to subscriptions.
//
// Publish never blocks: each subscription buffers changes in an unbounded
// queue drained by its own goroutine, so a slow reader cannot stall the
// store and no change is dropped.
type Hub struct {
	mu     sync.Mutex
	subs   map[*hubSubscription]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*hubSubscription]struct{})}
}

// Subscribe registers a subscription for opts.
func (h *Hub) Subscribe(opts SubscribeOptions) (Subscription, error) {
	if opts.Table == "" {
		return nil, fmt.Errorf("subscribe: table required")
	}
	filter, err := query.ParseFilter(opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", opts.Table, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	s := &hubSubscription{
		hub:    h,
		table:  opts.Table,
		filter: filter,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan model.RowChange),
	}
	h.subs[s] = struct{}{}
	go s.pump()
	return s, nil
}

// Publish delivers changes, in order, to every matching subscription.
func (h *Hub) Publish(changes ...model.RowChange) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, ch := range changes {
		for s := range h.subs {
			if s.matches(ch) {
				s.push(ch)
			}
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscription. Later subscribes fail with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*hubSubscription]struct{})
	h.closed = true
	h.mu.Unlock()

	for s := range subs {
		s.stop()
	}
}

func (h *Hub) remove(s *hubSubscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

type hubSubscription struct {
	hub    *Hub
	table  string
	filter query.Predicate

	mu     sync.Mutex
	queue  []model.RowChange
	signal chan struct{} // buffered, size 1
	done   chan struct{}
	once   sync.Once
	out    chan model.RowChange
}

func (s *hubSubscription) matches(ch model.RowChange) bool {
	if ch.Table != s.table {
		return false
	}
	return s.filter == nil || s.filter.Matches(ch.Row)
}

func (s *hubSubscription) push(ch model.RowChange) {
	ch.Row = ch.Row.Clone()
	s.mu.Lock()
	s.queue = append(s.queue, ch)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *hubSubscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		next := s.queue[0]
		s.queue[0] = model.RowChange{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}

func (s *hubSubscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// Events implements Subscription.
func (s *hubSubscription) Events() <-chan model.RowChange { return s.out }

// Close implements Subscription.
func (s *hubSubscription) Close() error {
	s.hub.remove(s)
	s.stop()
	return nil
}
