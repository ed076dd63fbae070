package transcript

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/videorag/internal/metrics"
	"github.com/seanblong/videorag/pkg/models"
)

// ErrTranscriptUnavailable is returned when no strategy produced a usable transcript.
var ErrTranscriptUnavailable = errors.New("transcript unavailable")

// Strategy is one way of obtaining a video's timed transcript. Returning zero segments
// without an error is treated as a miss.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, videoID string) ([]models.Segment, error)
}

// Stage pairs a strategy with its own deadline. A zero Timeout means the stage only
// inherits the caller's deadline.
type Stage struct {
	Strategy Strategy
	Timeout  time.Duration
}

// Result is a successful acquisition.
type Result struct {
	Segments []models.Segment
	Strategy string
}

// Source tries its stages in order and returns the first non-empty transcript.
type Source struct {
	Stages  []Stage
	Metrics *metrics.Metrics
}

// NewSource builds a Source from stages, skipping any with a nil strategy.
func NewSource(m *metrics.Metrics, stages ...Stage) *Source {
	s := &Source{Metrics: m}
	for _, st := range stages {
		if st.Strategy != nil {
			s.Stages = append(s.Stages, st)
		}
	}
	return s
}

// Fetch runs the stages in order. When every stage fails or comes back empty the returned
// error matches ErrTranscriptUnavailable and carries each stage's failure.
func (s *Source) Fetch(ctx context.Context, videoID string) (Result, error) {
	var errs []error

	for _, st := range s.Stages {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		name := st.Strategy.Name()
		segments, err := s.runStage(ctx, st, videoID)
		switch {
		case err != nil:
			s.Metrics.Acquisition(name, "error")
			log.Warn().Err(err).Str("video_id", videoID).Str("strategy", name).Msg("transcript strategy failed")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		case len(segments) == 0:
			s.Metrics.Acquisition(name, "empty")
			log.Warn().Str("video_id", videoID).Str("strategy", name).Msg("transcript strategy returned no segments")
			errs = append(errs, fmt.Errorf("%s: no segments", name))
		default:
			s.Metrics.Acquisition(name, "ok")
			log.Debug().Str("video_id", videoID).Str("strategy", name).Int("segments", len(segments)).Msg("transcript acquired")
			return Result{Segments: segments, Strategy: name}, nil
		}
	}

	if len(errs) == 0 {
		return Result{}, fmt.Errorf("%w: no strategies configured for %s", ErrTranscriptUnavailable, videoID)
	}
	return Result{}, fmt.Errorf("%w for %s: %w", ErrTranscriptUnavailable, videoID, errors.Join(errs...))
}

func (s *Source) runStage(ctx context.Context, st Stage, videoID string) ([]models.Segment, error) {
	if st.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, st.Timeout)
		defer cancel()
	}
	return st.Strategy.Fetch(ctx, videoID)
}
