// Package answer turns retrieved transcript passages into a tutor-style reply.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/videorag/internal/ai"
	"github.com/seanblong/videorag/internal/metrics"
	"github.com/seanblong/videorag/internal/search"
	"github.com/seanblong/videorag/pkg/models"
)

// DegradedMessage is returned in place of an answer when the language model fails.
const DegradedMessage = "Sorry, I can't answer right now. Please try again in a moment."

var (
	// ErrAnswerUnavailable is returned alongside a degraded Answer when the language model
	// fails or returns nothing.
	ErrAnswerUnavailable = errors.New("answer unavailable")
	ErrEmptyQuestion     = search.ErrEmptyQuestion
)

// Retriever finds the passages of a video relevant to a question.
type Retriever interface {
	Retrieve(ctx context.Context, videoID, question string, k int, timestamp *float64) ([]models.Passage, error)
}

// Request is a student's question about one video. Timestamp is the playback position in
// seconds, if known.
type Request struct {
	VideoID   string   `json:"video_id"`
	Question  string   `json:"question"`
	Timestamp *float64 `json:"timestamp,omitempty"`
	K         int      `json:"k,omitempty"`
}

type Answer struct {
	Text     string           `json:"answer"`
	Degraded bool             `json:"degraded"`
	Passages []models.Passage `json:"passages"`
}

type Service struct {
	Retriever Retriever
	Completer ai.Completer
	Metrics   *metrics.Metrics
}

func NewService(r Retriever, c ai.Completer, m *metrics.Metrics) *Service {
	return &Service{Retriever: r, Completer: c, Metrics: m}
}

// Ask retrieves context for req and asks the language model. Retrieval errors are returned
// unchanged. A model failure yields a degraded Answer together with an error matching
// ErrAnswerUnavailable.
func (s *Service) Ask(ctx context.Context, req Request) (Answer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Answer{}, ErrEmptyQuestion
	}

	passages, err := s.Retriever.Retrieve(ctx, req.VideoID, question, req.K, req.Timestamp)
	if err != nil {
		s.Metrics.Answer("retrieval_error")
		return Answer{}, err
	}

	prompt := BuildPrompt(question, search.Texts(passages), req.Timestamp)
	text, err := s.Completer.Complete(ctx, prompt)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty completion")
	}
	if err != nil {
		s.Metrics.Answer("degraded")
		log.Warn().Err(err).Str("video_id", req.VideoID).Msg("language model failed, returning degraded answer")
		return Answer{Text: DegradedMessage, Degraded: true, Passages: passages},
			fmt.Errorf("%w: %w", ErrAnswerUnavailable, err)
	}

	s.Metrics.Answer("ok")
	return Answer{Text: strings.TrimSpace(text), Passages: passages}, nil
}

// BuildPrompt renders the tutor prompt. Passages are separated by blank lines.
func BuildPrompt(question string, passages []string, timestamp *float64) string {
	var b strings.Builder
	b.WriteString("You are a friendly science tutor for class 6-10 students.\n")
	b.WriteString("Use the video transcript context to answer clearly and simply.\n\n")
	b.WriteString("If the answer is not in the transcript, say so briefly.\n\n")
	if timestamp != nil {
		fmt.Fprintf(&b, "The student paused the video at %s.\n\n", clock(*timestamp))
	}
	b.WriteString("Transcript context:\n")
	b.WriteString(strings.Join(passages, "\n\n"))
	b.WriteString("\n\nStudent question: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:\n")
	return b.String()
}

func clock(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	s := int(sec)
	if s >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", s/3600, s/60%60, s%60)
	}
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
