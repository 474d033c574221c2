package track

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"beatdeck/logger"
)

// Opener opens an encoded track by file name or URL.
type Opener interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// Cache keeps the most recently used decoded tracks keyed by name so reloading
// a file skips the decode. Two decks loading the same file share one *Track,
// which is read-only once decoded.
type Cache struct {
	mu      sync.Mutex
	tracks  map[string]*Track
	order   []string
	limit   int
	opener  Opener
	decoder Decoder
	logger  *slog.Logger
}

// NewCache returns a cache holding at most limit tracks (limit <= 0 disables
// caching).
func NewCache(opener Opener, decoder Decoder, limit int) *Cache {
	return &Cache{
		tracks:  make(map[string]*Track),
		limit:   limit,
		opener:  opener,
		decoder: decoder,
		logger:  logger.WithComponent("track-cache"),
	}
}

// Load returns the decoded track for name, decoding it on a miss.
func (c *Cache) Load(ctx context.Context, name string) (*Track, error) {
	if t, ok := c.Get(name); ok {
		c.logger.Debug("Cache hit", slog.String("track", name))
		return t, nil
	}

	rc, err := c.opener.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	t, err := c.decoder.Decode(ctx, name, rc)
	if err != nil {
		return nil, err
	}

	c.Put(t)
	c.logger.Info("Decoded track",
		slog.String("track", name),
		slog.Int("sample_rate", int(t.SampleRate())),
		slog.Float64("duration", t.Duration()))
	return t, nil
}

// Get retrieves a decoded track and marks it most recently used.
func (c *Cache) Get(name string) (*Track, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, exists := c.tracks[name]
	if exists {
		c.touch(name)
	}
	return t, exists
}

// Put stores t, evicting the least recently used entry when full.
func (c *Cache) Put(t *Track) {
	if c.limit <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tracks[t.Name]; exists {
		c.touch(t.Name)
	} else {
		c.order = append(c.order, t.Name)
	}
	c.tracks[t.Name] = t
	for len(c.order) > c.limit {
		delete(c.tracks, c.order[0])
		c.order = c.order[1:]
	}
}

// Forget drops name from the cache.
func (c *Cache) Forget(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.tracks, name)
	c.remove(name)
}

// touch moves name to the most recently used end. The caller holds mu.
func (c *Cache) touch(name string) {
	c.remove(name)
	c.order = append(c.order, name)
}

func (c *Cache) remove(name string) {
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Len returns the number of cached tracks.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracks)
}
