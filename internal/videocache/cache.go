// Package videocache keeps prepared videos resident and guarantees each video is built at
// most once at a time.
package videocache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/seanblong/videorag/internal/metrics"
	"github.com/seanblong/videorag/internal/store"
	"github.com/seanblong/videorag/internal/transcript"
)

const DefaultBuildTimeout = 10 * time.Minute

var (
	// ErrBuildFailed is returned when preparing a video fails for a reason other than a
	// missing transcript, or when the caller gives up waiting.
	ErrBuildFailed = errors.New("video build failed")
	// ErrInvalidVideoID is returned for a blank video identifier.
	ErrInvalidVideoID = errors.New("invalid video id")
)

// Options configures a Cache. Capacity <= 0 keeps every video resident.
type Options struct {
	Capacity     int
	BuildTimeout time.Duration
	Store        store.ArtifactStore
	Metrics      *metrics.Metrics
}

// Cache is the registry of resident video records with least-recently-used eviction.
type Cache struct {
	builder Builder
	opts    Options
	group   singleflight.Group

	mu      sync.Mutex
	lru     *list.List // front is most recently used; values are *Record
	entries map[string]*list.Element
}

// New creates an empty cache that builds missing videos with b.
func New(b Builder, opts Options) *Cache {
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = DefaultBuildTimeout
	}
	return &Cache{
		builder: b,
		opts:    opts,
		lru:     list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Prepare returns the resident record for videoID, building it first when absent.
// Concurrent callers for the same video share one build. The build itself is detached from
// ctx and bounded by BuildTimeout; if ctx ends first the caller gets ErrBuildFailed while
// the build carries on for later callers. A failed build leaves the video absent.
func (c *Cache) Prepare(ctx context.Context, videoID string) (*Record, error) {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return nil, ErrInvalidVideoID
	}

	if r, ok := c.lookup(videoID); ok {
		c.opts.Metrics.CacheLookup(true)
		return r, nil
	}
	c.opts.Metrics.CacheLookup(false)

	ch := c.group.DoChan(videoID, func() (any, error) {
		if r, ok := c.lookup(videoID); ok {
			return r, nil
		}
		return c.build(context.WithoutCancel(ctx), videoID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Record), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", ErrBuildFailed, videoID, ctx.Err())
	}
}

// Get returns the resident record for videoID without building it.
func (c *Cache) Get(videoID string) (*Record, bool) {
	return c.lookup(videoID)
}

// Len returns the number of resident videos.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// VideoIDs returns the resident video ids in lexical order.
func (c *Cache) VideoIDs() []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (c *Cache) lookup(videoID string) (*Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[videoID]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(el)
	return el.Value.(*Record), true
}

func (c *Cache) build(ctx context.Context, videoID string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.BuildTimeout)
	defer cancel()
	start := time.Now()

	if r := c.load(ctx, videoID); r != nil {
		c.opts.Metrics.Build("loaded", time.Since(start))
		return c.insert(r), nil
	}

	r, err := c.builder.Build(ctx, videoID)
	if err != nil {
		c.opts.Metrics.Build("error", time.Since(start))
		log.Error().Err(err).Str("video_id", videoID).Msg("video build failed")
		if ctxErr := ctx.Err(); ctxErr != nil {
			// Expiry is BuildFailed even when the stages reported no transcript.
			return nil, fmt.Errorf("%w: %s: %w: %v", ErrBuildFailed, videoID, ctxErr, err)
		}
		if errors.Is(err, transcript.ErrTranscriptUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrBuildFailed, videoID, err)
	}
	c.opts.Metrics.Build("ok", time.Since(start))
	c.save(ctx, r)
	return c.insert(r), nil
}

// load returns the persisted record for videoID, or nil when there is none usable.
func (c *Cache) load(ctx context.Context, videoID string) *Record {
	if c.opts.Store == nil {
		return nil
	}
	a, ok, err := c.opts.Store.LoadVideo(ctx, videoID)
	if err != nil {
		log.Warn().Err(err).Str("video_id", videoID).Msg("failed to load stored video")
		return nil
	}
	if !ok {
		return nil
	}
	if model := c.builder.EmbedModel(); a.EmbedModel != model {
		log.Info().Str("video_id", videoID).Str("stored", a.EmbedModel).Str("current", model).
			Msg("stored video uses a different embedding model, rebuilding")
		return nil
	}
	r, err := FromArtifact(a)
	if err != nil {
		log.Warn().Err(err).Str("video_id", videoID).Msg("stored video is unusable")
		return nil
	}
	return r
}

func (c *Cache) save(ctx context.Context, r *Record) {
	if c.opts.Store == nil {
		return
	}
	if err := c.opts.Store.SaveVideo(ctx, r.Artifact()); err != nil {
		log.Warn().Err(err).Str("video_id", r.VideoID).Msg("failed to persist video")
	}
}

// insert makes r resident and evicts the least recently used videos beyond capacity. An
// already resident record for the same video wins over r.
func (c *Cache) insert(r *Record) *Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[r.VideoID]; ok {
		c.lru.MoveToFront(el)
		return el.Value.(*Record)
	}
	c.entries[r.VideoID] = c.lru.PushFront(r)

	for c.opts.Capacity > 0 && c.lru.Len() > c.opts.Capacity {
		oldest := c.lru.Back()
		evicted := c.lru.Remove(oldest).(*Record)
		delete(c.entries, evicted.VideoID)
		c.opts.Metrics.Eviction()
		log.Debug().Str("video_id", evicted.VideoID).Msg("video evicted")
	}
	c.opts.Metrics.Resident(c.lru.Len())
	return r
}
