// Package mixer owns the decks: it is the only place they are created and
// disposed, and the entry point for every deck command.
package mixer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"beatdeck/beatgrid"
	"beatdeck/logger"
	"beatdeck/playback"
	"beatdeck/render"
	"beatdeck/track"
	"beatdeck/transport"
)

var (
	ErrDeckNotFound = errors.New("deck not found")
	ErrDeckExists   = errors.New("deck already exists")
	ErrNoTempo      = errors.New("deck has no tempo")
)

// Options tune the decks a registry creates.
type Options struct {
	Detector    beatgrid.Options
	Render      render.Options
	WaveformCap int
	Nudge       time.Duration
}

// Registry maps deck ids to decks.
type Registry struct {
	out       *playback.Output
	cache     *track.Cache
	scheduler *render.Scheduler
	opts      Options
	observers observers
	logger    *slog.Logger

	mu    sync.RWMutex
	decks map[string]*Deck
	order []string
}

// NewRegistry creates an empty registry. The scheduler may be nil when no
// timelines need drawing.
func NewRegistry(out *playback.Output, cache *track.Cache, scheduler *render.Scheduler, opts Options) *Registry {
	if opts.Render.PixelsPerSecond <= 0 {
		opts.Render.PixelsPerSecond = render.DefaultPixelsPerSecond
	}
	return &Registry{
		out:       out,
		cache:     cache,
		scheduler: scheduler,
		opts:      opts,
		logger:    logger.WithComponent("mixer"),
		decks:     make(map[string]*Deck),
	}
}

// Create adds a new, empty deck.
func (r *Registry) Create(id string) (*Deck, error) {
	if id == "" {
		return nil, errors.New("empty deck id")
	}

	r.mu.Lock()
	if _, exists := r.decks[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDeckExists, id)
	}

	log := logger.WithDeck("deck", id)
	graph := playback.NewGraph(r.out, log)
	tr := transport.New(r.out.Clock(), graph, log)
	if r.opts.Nudge > 0 {
		tr.SetNudge(r.opts.Nudge.Seconds())
	}
	d := &Deck{
		id:        id,
		reg:       r,
		transport: tr,
		graph:     graph,
		timeline:  render.NewTimeline(id, tr, r.opts.Render),
		logger:    log,
	}
	graph.OnEnded(tr.SourceEnded)
	tr.OnChange(func(transport.State) {
		r.emit(Event{Type: EventState, Deck: id, Info: d.Info()})
	})

	r.decks[id] = d
	r.order = append(r.order, id)
	r.mu.Unlock()

	r.logger.Info("Deck created", slog.String("deck", id))
	r.emit(Event{Type: EventDeckCreated, Deck: id, Info: d.Info()})
	return d, nil
}

// Deck looks up a deck by id.
func (r *Registry) Deck(id string) (*Deck, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeckNotFound, id)
	}
	return d, nil
}

// Decks returns every deck in creation order.
func (r *Registry) Decks() []*Deck {
	r.mu.RLock()
	defer r.mu.RUnlock()
	decks := make([]*Deck, 0, len(r.order))
	for _, id := range r.order {
		decks = append(decks, r.decks[id])
	}
	return decks
}

// Dispose stops a deck and releases its nodes.
func (r *Registry) Dispose(id string) error {
	r.mu.Lock()
	d, ok := r.decks[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeckNotFound, id)
	}
	delete(r.decks, id)
	for i, n := range r.order {
		if n == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	d.transport.OnChange(nil)
	d.dispose()
	r.logger.Info("Deck disposed", slog.String("deck", id))
	r.emit(Event{Type: EventDeckDisposed, Deck: id})
	return nil
}

// Close disposes every deck.
func (r *Registry) Close() {
	for _, d := range r.Decks() {
		r.Dispose(d.id)
	}
}

// Load loads name onto deck id.
func (r *Registry) Load(ctx context.Context, id, name string) (LoadResult, error) {
	d, err := r.Deck(id)
	if err != nil {
		return LoadResult{}, err
	}
	return d.Load(ctx, name)
}

// SyncTempo sets deck to's tempo to deck from's current tempo and returns it.
func (r *Registry) SyncTempo(from, to string) (float64, error) {
	src, err := r.Deck(from)
	if err != nil {
		return 0, err
	}
	dst, err := r.Deck(to)
	if err != nil {
		return 0, err
	}

	bpm := src.transport.Snapshot().CurrentTempo
	if bpm <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoTempo, from)
	}
	dst.ChangeTempo(bpm)
	r.logger.Debug("Tempo synced",
		slog.String("from", from),
		slog.String("to", to),
		slog.Float64("bpm", bpm))
	return bpm, nil
}

// Forget drops a file from the decode cache, so the next load of that name
// goes back to the library. Decks already playing it are unaffected.
func (r *Registry) Forget(name string) {
	r.cache.Forget(name)
}

// Subscribe registers fn for every deck event. Calling the returned function
// unsubscribes. fn runs on the goroutine that caused the event.
func (r *Registry) Subscribe(fn func(Event)) (cancel func()) {
	return r.observers.add(fn)
}

func (r *Registry) emit(ev Event) {
	r.observers.emit(ev)
}
