// Package app assembles the question answering pipeline from configuration.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/videorag/internal/ai"
	"github.com/seanblong/videorag/internal/answer"
	"github.com/seanblong/videorag/internal/auth"
	"github.com/seanblong/videorag/internal/config"
	"github.com/seanblong/videorag/internal/metrics"
	"github.com/seanblong/videorag/internal/search"
	"github.com/seanblong/videorag/internal/store"
	"github.com/seanblong/videorag/internal/transcript"
	"github.com/seanblong/videorag/internal/videocache"
	"github.com/seanblong/videorag/internal/whisper"
	"github.com/seanblong/videorag/internal/ytdlp"
)

// App holds the long-lived components shared by the commands.
type App struct {
	Config  config.Specification
	Client  ai.Client
	Metrics *metrics.Metrics
	// Store is nil when artifacts are not persisted.
	Store   store.ArtifactStore
	Cache   *videocache.Cache
	Search  *search.Service
	Answer  *answer.Service
	YouTube *ytdlp.Client
	Auth    *auth.Authenticator

	closers []func()
}

// ClientConfig maps the provider settings onto an ai.ClientConfig.
func ClientConfig(cfg config.Specification) (*ai.ClientConfig, error) {
	cc := &ai.ClientConfig{
		APIKey:     cfg.APIKey,
		EmbedModel: cfg.EmbedModel,
		ChatModel:  cfg.ChatModel,
		Dim:        cfg.Dim,
		ProjectID:  cfg.ProjectID,
		Location:   cfg.Location,
		BaseURL:    cfg.BaseURL,
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai":
		cc.Provider = ai.ProviderOpenAI
	case "vertexai", "google":
		cc.Provider = ai.ProviderVertexAI
	case "ollama":
		cc.Provider = ai.ProviderOllama
	case "stub", "":
		cc.Provider = ai.ProviderStub
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	return cc, nil
}

// New connects the configured store and model provider and wires the services together.
// Close releases whatever New opened.
func New(ctx context.Context, cfg config.Specification) (*App, error) {
	cc, err := ClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := ai.NewClient(cc)
	if err != nil {
		return nil, fmt.Errorf("create AI client: %w", err)
	}
	if client.Dim() <= 0 {
		return nil, fmt.Errorf("embedding dimension must be set")
	}
	log.Info().Str("provider", string(cc.Provider)).Str("embed_model", client.Model()).Int("embedding_dim", client.Dim()).Msg("AI client initialized")

	a := &App{
		Config:  cfg,
		Client:  client,
		Metrics: metrics.New(),
		YouTube: ytdlp.New(cfg.Transcript.YtDlpPath),
		Auth:    auth.New(cfg.Auth.JwtSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL, cfg.Auth.Enabled),
	}

	if err := a.openStore(ctx, client.Dim()); err != nil {
		a.Close()
		return nil, err
	}

	pipeline := &videocache.Pipeline{
		Source:     a.transcriptSource(),
		Embedder:   client,
		ChunkWords: cfg.Index.ChunkWords,
		EmbedBatch: cfg.Index.EmbedBatch,
	}
	a.Cache = videocache.New(pipeline, videocache.Options{
		Capacity:     cfg.Index.CacheCapacity,
		BuildTimeout: cfg.Index.BuildTimeout,
		Store:        a.Store,
		Metrics:      a.Metrics,
	})
	a.Search = search.NewService(a.Cache, client, cfg.Index.TopK)
	a.Answer = answer.NewService(a.Search, client, a.Metrics)
	return a, nil
}

func (a *App) openStore(ctx context.Context, dim int) error {
	switch a.Config.Store {
	case config.StorePostgres:
		st, err := store.New(ctx, a.Config.Database)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.closers = append(a.closers, st.Close)
		if err := st.Migrate(ctx, dim); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		a.Store = st
	case config.StoreRedis:
		st, err := store.NewRedis(ctx, a.Config.RedisURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() {
			if err := st.Close(); err != nil {
				log.Warn().Err(err).Msg("close redis")
			}
		})
		a.Store = st
	default:
		log.Info().Msg("artifact store disabled; videos are rebuilt after restart")
	}
	if a.Store != nil {
		log.Info().Str("store", a.Config.Store).Msg("artifact store connected")
	}
	return nil
}

// transcriptSource orders the strategies cheapest first: local caption files, published
// captions, then speech recognition on the downloaded audio.
func (a *App) transcriptSource() *transcript.Source {
	tc := a.Config.Transcript

	var stages []transcript.Stage
	if tc.CaptionDir != "" {
		stages = append(stages, transcript.Stage{
			Strategy: &transcript.FileStrategy{Dir: tc.CaptionDir},
			Timeout:  tc.FileTimeout,
		})
	}

	stages = append(stages, transcript.Stage{
		Strategy: transcript.NewCaptionStrategy(tc.CaptionLanguages, tc.CaptionRate),
		Timeout:  tc.CaptionTimeout,
	})

	w := whisper.New(tc.WhisperPath, tc.WhisperModel)
	w.Language = tc.WhisperLanguage
	stages = append(stages, transcript.Stage{
		Strategy: &transcript.SpeechStrategy{
			Downloader:  a.YouTube,
			Transcriber: w,
			AudioDir:    tc.AudioDir,
			KeepAudio:   tc.KeepAudio,
		},
		Timeout: tc.SpeechTimeout,
	})

	return transcript.NewSource(a.Metrics, stages...)
}

// Close releases the store connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
