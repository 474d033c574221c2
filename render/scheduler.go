package render

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultFPS is the render loop rate when none is configured.
const DefaultFPS = 60

// Frame carries the timelines that changed on one tick.
type Frame struct {
	Time  time.Time     `json:"time"`
	Decks []VisualState `json:"decks"`
}

// Painter draws frames. Paint is called from the render loop goroutine and
// should not block for long.
type Painter interface {
	Paint(Frame)
}

// PainterFunc adapts a function to Painter.
type PainterFunc func(Frame)

func (f PainterFunc) Paint(fr Frame) { f(fr) }

// Scheduler is the render loop. Each tick it updates every attached timeline
// and paints only when at least one changed.
type Scheduler struct {
	interval time.Duration
	painter  Painter
	logger   *slog.Logger

	mu        sync.Mutex
	timelines map[string]*Timeline
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewScheduler returns a stopped scheduler ticking fps times a second.
func NewScheduler(fps int, painter Painter, logger *slog.Logger) *Scheduler {
	if fps <= 0 {
		fps = DefaultFPS
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval:  time.Second / time.Duration(fps),
		painter:   painter,
		logger:    logger,
		timelines: make(map[string]*Timeline),
	}
}

// Attach adds a timeline, replacing any other for the same deck.
func (s *Scheduler) Attach(tl *Timeline) {
	tl.Invalidate()
	s.mu.Lock()
	s.timelines[tl.Deck()] = tl
	s.mu.Unlock()
}

// Detach removes the timeline of deck.
func (s *Scheduler) Detach(deck string) {
	s.mu.Lock()
	delete(s.timelines, deck)
	s.mu.Unlock()
}

// Attached reports whether deck has a timeline on the loop.
func (s *Scheduler) Attached(deck string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timelines[deck]
	return ok
}

// Tick runs one pass over the timelines and paints the changed ones. It
// returns the frame and whether anything was painted.
func (s *Scheduler) Tick(now time.Time) (Frame, bool) {
	s.mu.Lock()
	tls := make([]*Timeline, 0, len(s.timelines))
	for _, tl := range s.timelines {
		tls = append(tls, tl)
	}
	s.mu.Unlock()
	sort.Slice(tls, func(i, j int) bool { return tls[i].Deck() < tls[j].Deck() })

	frame := Frame{Time: now}
	for _, tl := range tls {
		if st, changed := tl.Tick(now); changed {
			frame.Decks = append(frame.Decks, st)
		}
	}
	if len(frame.Decks) == 0 {
		return frame, false
	}
	if s.painter != nil {
		s.painter.Paint(frame)
	}
	return frame, true
}

// Start runs the loop on its own goroutine until ctx is done or Stop is
// called. Starting a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("Render loop started", slog.Duration("interval", s.interval))
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Render loop stopped")
				return
			case now := <-ticker.C:
				s.Tick(now)
			}
		}
	}()
}

// Stop ends the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}
