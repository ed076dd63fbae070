package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/videorag/internal/ai"
	"github.com/seanblong/videorag/internal/videocache"
	"github.com/seanblong/videorag/pkg/models"
)

// DefaultTopK is the number of passages returned when the caller does not ask for a count.
const DefaultTopK = 5

var (
	// ErrRetrievalFailed is returned when a prepared video cannot be searched.
	ErrRetrievalFailed = errors.New("retrieval failed")
	// ErrEmptyQuestion is returned for a blank question.
	ErrEmptyQuestion = errors.New("question is empty")
)

// Preparer makes a video resident and returns its record. *videocache.Cache implements it.
type Preparer interface {
	Prepare(ctx context.Context, videoID string) (*videocache.Record, error)
}

type Service struct {
	Cache    Preparer
	Embedder ai.Embedder
	TopK     int
}

// NewService creates a new search service over the given cache and embedder
func NewService(cache Preparer, embedder ai.Embedder, topK int) *Service {
	return &Service{
		Cache:    cache,
		Embedder: embedder,
		TopK:     topK,
	}
}

// Retrieve returns up to k passages of videoID nearest to question, closest first. When
// timestamp is set, the chunk starting closest to it is always included: if no returned
// passage has its text it is put first, marked Pinned, and the list is cut back to k.
// Pinned passages carry no distance. The video is prepared on first use.
func (s *Service) Retrieve(ctx context.Context, videoID, question string, k int, timestamp *float64) ([]models.Passage, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if k <= 0 {
		k = s.TopK
	}
	if k <= 0 {
		k = DefaultTopK
	}

	rec, err := s.Cache.Prepare(ctx, videoID)
	if err != nil {
		return nil, err
	}

	vecs, err := s.Embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("%w: embed question: %w", ErrRetrievalFailed, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: got %d query vectors", ErrRetrievalFailed, len(vecs))
	}

	hits, err := rec.Index.Search(vecs[0], k)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrievalFailed, err)
	}

	passages := make([]models.Passage, 0, len(hits)+1)
	for _, h := range hits {
		if h.Ordinal < 0 || h.Ordinal >= len(rec.Chunks) {
			return nil, fmt.Errorf("%w: ordinal %d outside %d chunks", ErrRetrievalFailed, h.Ordinal, len(rec.Chunks))
		}
		passages = append(passages, passage(rec.Chunks[h.Ordinal], h.Distance))
	}

	if timestamp != nil {
		passages = pinNearest(rec, passages, *timestamp, k)
	}

	log.Debug().
		Str("video_id", videoID).
		Int("k", k).
		Int("passages", len(passages)).
		Msg("retrieved passages")
	return passages, nil
}

func pinNearest(rec *videocache.Record, passages []models.Passage, t float64, k int) []models.Passage {
	n := rec.Nearest(t)
	if n < 0 {
		return passages
	}
	near := rec.Chunks[n]
	for _, p := range passages {
		if p.Text == near.Text {
			return passages
		}
	}

	pinned := passage(near, 0)
	pinned.Pinned = true
	passages = append([]models.Passage{pinned}, passages...)
	if len(passages) > k {
		passages = passages[:k]
	}
	return passages
}

func passage(c models.Chunk, distance float32) models.Passage {
	return models.Passage{
		Ordinal:  c.Ordinal,
		Text:     c.Text,
		Start:    c.Start,
		End:      c.End,
		Distance: distance,
	}
}

// Texts returns the passage texts in order.
func Texts(passages []models.Passage) []string {
	out := make([]string, len(passages))
	for i, p := range passages {
		out[i] = p.Text
	}
	return out
}
