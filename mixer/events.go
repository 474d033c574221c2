package mixer

import (
	"fmt"
	"sort"
	"sync"
)

// EventType names a registry notification.
type EventType string

const (
	EventDeckCreated  EventType = "deck.created"
	EventDeckDisposed EventType = "deck.disposed"
	EventState        EventType = "deck.state"
	EventEffect       EventType = "deck.effect"
	EventLoaded       EventType = "deck.loaded"
	EventLoadFailed   EventType = "deck.load_failed"
)

// Event tells observers that a deck changed. Info is the deck's state right
// after the change.
type Event struct {
	Type  EventType `json:"type"`
	Deck  string    `json:"deck"`
	Info  Info      `json:"info"`
	Error string    `json:"error,omitempty"`
}

// LoadError is a failed load. The deck is left in the error state with
// nothing loaded.
type LoadError struct {
	Deck string
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("deck %s: load %s: %v", e.Deck, e.File, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

type observers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Event)
}

func (o *observers) add(fn func(Event)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[int]func(Event))
	}
	id := o.next
	o.next++
	o.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.fns, id)
			o.mu.Unlock()
		})
	}
}

func (o *observers) emit(ev Event) {
	o.mu.Lock()
	ids := make([]int, 0, len(o.fns))
	for id := range o.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), len(ids))
	for i, id := range ids {
		fns[i] = o.fns[id]
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
