package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrInvalidSegment is returned when a segment violates its timing or text constraints.
var ErrInvalidSegment = errors.New("invalid segment")

// Segment is one timed span of transcribed speech. Times are in seconds.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewSegment trims text and validates the span.
func NewSegment(text string, start, end float64) (Segment, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return Segment{}, fmt.Errorf("%w: empty text", ErrInvalidSegment)
	case math.IsNaN(start) || math.IsInf(start, 0) || math.IsNaN(end) || math.IsInf(end, 0):
		return Segment{}, fmt.Errorf("%w: non-finite time", ErrInvalidSegment)
	case start < 0:
		return Segment{}, fmt.Errorf("%w: start %.3f < 0", ErrInvalidSegment, start)
	case end < start:
		return Segment{}, fmt.Errorf("%w: end %.3f < start %.3f", ErrInvalidSegment, end, start)
	}
	return Segment{Text: text, Start: start, End: end}, nil
}

// Chunk is a word-bounded run of consecutive segments, the unit that gets indexed.
type Chunk struct {
	Ordinal int     `json:"ordinal"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Passage is a chunk as returned by retrieval.
type Passage struct {
	Ordinal  int     `json:"ordinal"`
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Distance float32 `json:"distance"`
	Pinned   bool    `json:"pinned,omitempty"` // inserted for being nearest to the playback position
}

// VideoArtifact is the persisted form of a prepared video: the ordinal table plus the
// vectors the index was built from.
type VideoArtifact struct {
	VideoID    string      `json:"video_id"`
	Source     string      `json:"source"`
	EmbedModel string      `json:"embed_model"`
	Chunks     []Chunk     `json:"chunks"`
	Vectors    [][]float32 `json:"vectors"`
	CreatedAt  time.Time   `json:"created_at"`
}

// VideoSummary describes a persisted video without its chunks.
type VideoSummary struct {
	VideoID    string    `json:"video_id"`
	Source     string    `json:"source"`
	EmbedModel string    `json:"embed_model"`
	Chunks     int       `json:"chunks"`
	CreatedAt  time.Time `json:"created_at"`
}

// YouTubeVideo is a search hit.
type YouTubeVideo struct {
	ID       string  `json:"video_id"`
	Title    string  `json:"title"`
	Channel  string  `json:"channel"`
	Duration float64 `json:"duration"`
	Link     string  `json:"link"`
}
