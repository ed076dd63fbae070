package transcript

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/videorag/pkg/models"
)

// Downloader fetches a video's audio track into dir and returns the file path.
type Downloader interface {
	DownloadAudio(ctx context.Context, videoID, dir string) (string, error)
}

// Transcriber converts an audio file into timed segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]models.Segment, error)
}

// SpeechStrategy downloads the audio and runs local speech-to-text on it.
type SpeechStrategy struct {
	Downloader  Downloader
	Transcriber Transcriber
	// AudioDir holds downloads; empty means a fresh temporary directory per fetch.
	AudioDir  string
	KeepAudio bool
}

func (s *SpeechStrategy) Name() string { return "speech" }

func (s *SpeechStrategy) Fetch(ctx context.Context, videoID string) ([]models.Segment, error) {
	dir := s.AudioDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "videorag-audio-")
		if err != nil {
			return nil, fmt.Errorf("create audio dir: %w", err)
		}
		dir = tmp
		if !s.KeepAudio {
			defer func() { _ = os.RemoveAll(tmp) }()
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}

	audio, err := s.Downloader.DownloadAudio(ctx, videoID, dir)
	if err != nil {
		return nil, fmt.Errorf("download audio: %w", err)
	}
	if !s.KeepAudio {
		defer func() {
			if err := os.Remove(audio); err != nil && !os.IsNotExist(err) {
				log.Warn().Err(err).Str("path", audio).Msg("failed to remove audio file")
			}
		}()
	}

	segments, err := s.Transcriber.Transcribe(ctx, audio)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	return segments, nil
}
