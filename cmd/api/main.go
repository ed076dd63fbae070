package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/seanblong/videorag/internal/answer"
	"github.com/seanblong/videorag/internal/app"
	"github.com/seanblong/videorag/internal/config"
	"github.com/seanblong/videorag/internal/search"
	"github.com/seanblong/videorag/internal/transcript"
	"github.com/seanblong/videorag/internal/videocache"
	"github.com/seanblong/videorag/pkg/models"
)

const maxBodyBytes = 1 << 20

type prepareRequest struct {
	VideoID string `json:"video_id"`
}

type prepareResponse struct {
	VideoID    string    `json:"video_id"`
	Chunks     int       `json:"chunks"`
	Source     string    `json:"source"`
	EmbedModel string    `json:"embed_model"`
	BuiltAt    time.Time `json:"built_at"`
}

type videosResponse struct {
	Resident []models.VideoSummary `json:"resident"`
	Stored   []models.VideoSummary `json:"stored,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, videocache.ErrInvalidVideoID), errors.Is(err, search.ErrEmptyQuestion):
		return http.StatusBadRequest
	case errors.Is(err, videocache.ErrBuildFailed), errors.Is(err, answer.ErrAnswerUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, transcript.ErrTranscriptUnavailable):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	level := zerolog.WarnLevel
	if status >= 500 {
		level = zerolog.ErrorLevel
	}
	hlog.FromRequest(r).WithLevel(level).Err(err).Int("status", status).Msg("request failed")
	writeJSON(w, r, status, errorResponse{Error: err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, into any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(into); err != nil {
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func summary(rec *videocache.Record) models.VideoSummary {
	return models.VideoSummary{
		VideoID:    rec.VideoID,
		Source:     rec.Source,
		EmbedModel: rec.EmbedModel,
		Chunks:     len(rec.Chunks),
		CreatedAt:  rec.BuiltAt,
	}
}

// routes registers the HTTP API on a new mux.
func routes(a *app.App) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	mux.Handle("/metrics", a.Metrics.Handler())

	// Auth status endpoint (always available)
	mux.HandleFunc("/auth/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]bool{"enabled": a.Auth.Enabled()})
	})

	mux.HandleFunc("/videos", a.Auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		var resp videosResponse
		for _, id := range a.Cache.VideoIDs() {
			if rec, ok := a.Cache.Get(id); ok {
				resp.Resident = append(resp.Resident, summary(rec))
			}
		}
		if resp.Resident == nil {
			resp.Resident = []models.VideoSummary{}
		}

		if a.Store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			stored, err := a.Store.ListVideos(ctx)
			if err != nil {
				writeError(w, r, err)
				return
			}
			resp.Stored = stored
		}
		writeJSON(w, r, http.StatusOK, resp)
	}))

	mux.HandleFunc("/videos/search", a.Auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			http.Error(w, "missing query parameter q", http.StatusBadRequest)
			return
		}
		n := 5
		if v := r.URL.Query().Get("n"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 25 {
				n = parsed
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		videos, err := a.YouTube.Search(ctx, q, n)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, videos)
	}))

	mux.HandleFunc("/videos/prepare", a.Auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		var req prepareRequest
		if !decode(w, r, &req) {
			return
		}
		start := time.Now()
		rec, err := a.Cache.Prepare(r.Context(), req.VideoID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, prepareResponse{
			VideoID:    rec.VideoID,
			Chunks:     len(rec.Chunks),
			Source:     rec.Source,
			EmbedModel: rec.EmbedModel,
			BuiltAt:    rec.BuiltAt,
		})
		hlog.FromRequest(r).Info().Str("video_id", rec.VideoID).Dur("dur", time.Since(start)).Msg("prepared")
	}))

	mux.HandleFunc("/videos/retrieve", a.Auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		var req answer.Request
		if !decode(w, r, &req) {
			return
		}
		passages, err := a.Search.Retrieve(r.Context(), req.VideoID, req.Question, req.K, req.Timestamp)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if passages == nil {
			passages = []models.Passage{}
		}
		writeJSON(w, r, http.StatusOK, passages)
	}))

	mux.HandleFunc("/videos/ask", a.Auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req answer.Request
		if !decode(w, r, &req) {
			return
		}
		ans, err := a.Answer.Ask(r.Context(), req)
		if errors.Is(err, answer.ErrAnswerUnavailable) {
			// The degraded answer still carries the retrieved passages.
			hlog.FromRequest(r).Warn().Err(err).Str("video_id", req.VideoID).Msg("degraded answer")
			writeJSON(w, r, http.StatusServiceUnavailable, ans)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, ans)
		hlog.FromRequest(r).Info().Str("video_id", req.VideoID).Int("passages", len(ans.Passages)).Dur("dur", time.Since(start)).Msg("answered")
	}))

	return mux
}

func newHandler(logger zerolog.Logger, mux http.Handler) http.Handler {
	return hlog.NewHandler(logger)(
		hlog.RequestIDHandler("req_id", "X-Request-Id")(
			hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
				hlog.FromRequest(r).Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
			})(mux),
		),
	)
}

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("videorag-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	zlog.Logger = logger
	logger.Info().Str("provider", cfg.Provider).Str("store", cfg.Store).Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting videorag api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	if a.Auth.Enabled() {
		logger.Info().Msg("Authentication is ENABLED")
	} else {
		logger.Info().Msg("Authentication is DISABLED - running in open mode")
	}

	s := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newHandler(logger, routes(a)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", s.Addr).Msg("api server listening")
		errc <- s.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server stopped")
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}
}
