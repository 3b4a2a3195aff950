package prompt

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"

	"coda/pkg/logger"
)

// Cache memoizes the rendered system parts of one builder. The cached parts
// are reused while the fingerprint of the instruction files and the date stay
// the same; concurrent misses share a single render.
type Cache struct {
	builder *SystemPromptBuilder
	render  func(context.Context) ([]string, error)
	group   singleflight.Group
	logger  zerolog.Logger

	mu          sync.RWMutex
	gen         uint64 // bumped by Invalidate
	fingerprint string
	parts       []string
}

// NewCache creates a cache over builder.
func NewCache(builder *SystemPromptBuilder) *Cache {
	return &Cache{builder: builder, render: builder.Build, logger: logger.Component("prompt")}
}

// SetLogger sets a custom logger.
func (c *Cache) SetLogger(l zerolog.Logger) {
	c.logger = l
}

// Parts returns the system parts, rendering them when the cache is empty or stale.
func (c *Cache) Parts(ctx context.Context) ([]string, error) {
	key := c.Fingerprint()

	c.mu.RLock()
	if c.parts != nil && c.fingerprint == key {
		parts := append([]string(nil), c.parts...)
		c.mu.RUnlock()
		return parts, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	// a render started before Invalidate is neither joined nor stored
	ch := c.group.DoChan(fmt.Sprintf("%s/%d", key, gen), func() (any, error) {
		parts, err := c.render(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.fingerprint = key
			c.parts = parts
		}
		c.mu.Unlock()
		c.logger.Debug().Str("fingerprint", key[:12]).Int("parts", len(parts)).Msg("system prompt rendered")
		return parts, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return append([]string(nil), res.Val.([]string)...), nil
	}
}

// Invalidate drops the cached parts. The next Parts call renders again.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.parts = nil
	c.fingerprint = ""
}

// Fingerprint hashes what the rendered parts depend on: the date and the
// path, size and modification time of every instruction file.
func (c *Cache) Fingerprint() string {
	h := blake3.New()
	fmt.Fprintf(h, "date:%s\n", c.builder.prepareData().Today)
	for _, path := range c.builder.InstructionPaths() {
		info, err := os.Stat(path)
		if err != nil {
			fmt.Fprintf(h, "%s:missing\n", path)
			continue
		}
		fmt.Fprintf(h, "%s:%d:%d\n", path, info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil))
}
