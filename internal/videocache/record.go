package videocache

import (
	"fmt"
	"time"

	"github.com/seanblong/videorag/internal/vectorindex"
	"github.com/seanblong/videorag/pkg/models"
)

// SourceStore marks a Record that was loaded from the artifact store instead of built.
const SourceStore = "store"

// Record is a prepared video: its chunk table and the index built over the chunk vectors.
// Row i of Index corresponds to Chunks[i]. A Record is never modified after construction.
type Record struct {
	VideoID    string
	Chunks     []models.Chunk
	Starts     []float64
	Index      vectorindex.Index
	Source     string
	EmbedModel string
	BuiltAt    time.Time
}

// NewRecord checks that chunks and index line up and derives the start-time table.
func NewRecord(videoID, source, embedModel string, chunks []models.Chunk, idx vectorindex.Index) (*Record, error) {
	if idx == nil {
		return nil, fmt.Errorf("record %s: nil index", videoID)
	}
	if idx.Len() != len(chunks) {
		return nil, fmt.Errorf("record %s: index has %d rows for %d chunks", videoID, idx.Len(), len(chunks))
	}
	starts := make([]float64, len(chunks))
	for i, c := range chunks {
		if c.Ordinal != i {
			return nil, fmt.Errorf("record %s: chunk %d has ordinal %d", videoID, i, c.Ordinal)
		}
		starts[i] = c.Start
	}
	return &Record{
		VideoID:    videoID,
		Chunks:     chunks,
		Starts:     starts,
		Index:      idx,
		Source:     source,
		EmbedModel: embedModel,
		BuiltAt:    time.Now().UTC(),
	}, nil
}

// FromArtifact rebuilds a Record from its persisted form.
func FromArtifact(a models.VideoArtifact) (*Record, error) {
	idx, err := vectorindex.Build(a.Vectors)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", a.VideoID, err)
	}
	r, err := NewRecord(a.VideoID, SourceStore, a.EmbedModel, a.Chunks, idx)
	if err != nil {
		return nil, err
	}
	if !a.CreatedAt.IsZero() {
		r.BuiltAt = a.CreatedAt
	}
	return r, nil
}

// Artifact returns the persisted form of r.
func (r *Record) Artifact() models.VideoArtifact {
	return models.VideoArtifact{
		VideoID:    r.VideoID,
		Source:     r.Source,
		EmbedModel: r.EmbedModel,
		Chunks:     r.Chunks,
		Vectors:    r.Index.Vectors(),
		CreatedAt:  r.BuiltAt,
	}
}

// Nearest returns the ordinal of the chunk whose start is closest to t. Ties go to the
// lower ordinal. It returns -1 for an empty record.
func (r *Record) Nearest(t float64) int {
	best := -1
	var bestDiff float64
	for i, s := range r.Starts {
		d := s - t
		if d < 0 {
			d = -d
		}
		if best < 0 || d < bestDiff {
			best, bestDiff = i, d
		}
	}
	return best
}
