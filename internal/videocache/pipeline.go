package videocache

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/videorag/internal/ai"
	"github.com/seanblong/videorag/internal/chunker"
	"github.com/seanblong/videorag/internal/transcript"
	"github.com/seanblong/videorag/internal/vectorindex"
)

// DefaultEmbedBatch is the number of chunk texts sent per embedding request.
const DefaultEmbedBatch = 64

// Builder produces a Record for a video that is not yet resident.
type Builder interface {
	Build(ctx context.Context, videoID string) (*Record, error)
	EmbedModel() string
}

// Fetcher acquires a video's transcript. *transcript.Source implements it.
type Fetcher interface {
	Fetch(ctx context.Context, videoID string) (transcript.Result, error)
}

// Pipeline builds records by acquiring, chunking, embedding and indexing a transcript.
type Pipeline struct {
	Source     Fetcher
	Embedder   ai.Embedder
	ChunkWords int
	EmbedBatch int
}

func (p *Pipeline) EmbedModel() string { return p.Embedder.Model() }

// Build runs the full preparation for videoID. A transcript that yields no chunks is
// reported as transcript.ErrTranscriptUnavailable.
func (p *Pipeline) Build(ctx context.Context, videoID string) (*Record, error) {
	res, err := p.Source.Fetch(ctx, videoID)
	if err != nil {
		return nil, err
	}

	chunks := chunker.Chunk(res.Segments, p.ChunkWords)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s transcript for %s has no words", transcript.ErrTranscriptUnavailable, res.Strategy, videoID)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}

	idx, err := vectorindex.Build(vectors)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}

	log.Info().
		Str("video_id", videoID).
		Str("strategy", res.Strategy).
		Int("segments", len(res.Segments)).
		Int("chunks", len(chunks)).
		Msg("video indexed")
	return NewRecord(videoID, res.Strategy, p.Embedder.Model(), chunks, idx)
}

func (p *Pipeline) embed(ctx context.Context, texts []string) ([][]float32, error) {
	batch := p.EmbedBatch
	if batch <= 0 {
		batch = DefaultEmbedBatch
	}

	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += batch {
		end := min(i+batch, len(texts))
		vecs, err := p.Embedder.Embed(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-i {
			return nil, fmt.Errorf("got %d vectors for %d texts", len(vecs), end-i)
		}
		out = append(out, vecs...)
	}
	return out, nil
}
