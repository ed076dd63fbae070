package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/seanblong/videorag/pkg/models"
)

// ErrInvalidArtifact is returned when an artifact's chunks and vectors do not line up.
var ErrInvalidArtifact = errors.New("invalid video artifact")

// ArtifactStore persists prepared videos so they survive restarts and cache eviction.
type ArtifactStore interface {
	SaveVideo(ctx context.Context, a models.VideoArtifact) error
	LoadVideo(ctx context.Context, videoID string) (models.VideoArtifact, bool, error)
	ListVideos(ctx context.Context) ([]models.VideoSummary, error)
}

// Validate checks that every chunk has exactly one vector of a common dimension and that
// ordinals match positions.
func Validate(a models.VideoArtifact) error {
	if a.VideoID == "" {
		return fmt.Errorf("%w: empty video id", ErrInvalidArtifact)
	}
	if len(a.Chunks) == 0 || len(a.Chunks) != len(a.Vectors) {
		return fmt.Errorf("%w: %d chunks, %d vectors", ErrInvalidArtifact, len(a.Chunks), len(a.Vectors))
	}
	dim := len(a.Vectors[0])
	for i, c := range a.Chunks {
		if c.Ordinal != i {
			return fmt.Errorf("%w: chunk %d has ordinal %d", ErrInvalidArtifact, i, c.Ordinal)
		}
		if len(a.Vectors[i]) != dim || dim == 0 {
			return fmt.Errorf("%w: vector %d has dimension %d", ErrInvalidArtifact, i, len(a.Vectors[i]))
		}
	}
	return nil
}

// Summarize drops the chunk payload from an artifact.
func Summarize(a models.VideoArtifact) models.VideoSummary {
	return models.VideoSummary{
		VideoID:    a.VideoID,
		Source:     a.Source,
		EmbedModel: a.EmbedModel,
		Chunks:     len(a.Chunks),
		CreatedAt:  a.CreatedAt,
	}
}

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate creates the tables holding per-video chunk tables and their vectors.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS videos (
  video_id    TEXT PRIMARY KEY,
  source      TEXT NOT NULL,
  embed_model TEXT NOT NULL,
  chunk_count INT  NOT NULL,
  created_at  TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS video_chunks (
  video_id   TEXT NOT NULL REFERENCES videos (video_id) ON DELETE CASCADE,
  ordinal    INT  NOT NULL,
  text       TEXT NOT NULL,
  start_sec  DOUBLE PRECISION NOT NULL,
  end_sec    DOUBLE PRECISION NOT NULL,
  embedding  vector(%d) NOT NULL,
  PRIMARY KEY (video_id, ordinal)
);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	return err
}

// SaveVideo replaces any stored copy of the video in a single transaction.
func (s *Store) SaveVideo(ctx context.Context, a models.VideoArtifact) error {
	if err := Validate(a); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsert = `
		INSERT INTO videos (video_id, source, embed_model, chunk_count, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (video_id) DO UPDATE SET
			source      = EXCLUDED.source,
			embed_model = EXCLUDED.embed_model,
			chunk_count = EXCLUDED.chunk_count,
			created_at  = EXCLUDED.created_at`
	if _, err := tx.Exec(ctx, upsert, a.VideoID, a.Source, a.EmbedModel, len(a.Chunks), a.CreatedAt); err != nil {
		return fmt.Errorf("upsert video: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM video_chunks WHERE video_id = $1`, a.VideoID); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}

	const insert = `
		INSERT INTO video_chunks (video_id, ordinal, text, start_sec, end_sec, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)`
	batch := &pgx.Batch{}
	for i, c := range a.Chunks {
		batch.Queue(insert, a.VideoID, c.Ordinal, c.Text, c.Start, c.End, pgvector.NewVector(a.Vectors[i]))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}

	return tx.Commit(ctx)
}

// LoadVideo returns the stored artifact for videoID, or false when none exists.
func (s *Store) LoadVideo(ctx context.Context, videoID string) (models.VideoArtifact, bool, error) {
	a := models.VideoArtifact{VideoID: videoID}
	err := s.pool.QueryRow(ctx,
		`SELECT source, embed_model, created_at FROM videos WHERE video_id = $1`, videoID).
		Scan(&a.Source, &a.EmbedModel, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.VideoArtifact{}, false, nil
		}
		return models.VideoArtifact{}, false, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT ordinal, text, start_sec, end_sec, embedding
		FROM video_chunks
		WHERE video_id = $1
		ORDER BY ordinal`, videoID)
	if err != nil {
		return models.VideoArtifact{}, false, err
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Chunk
		var v pgvector.Vector
		if err := rows.Scan(&c.Ordinal, &c.Text, &c.Start, &c.End, &v); err != nil {
			return models.VideoArtifact{}, false, err
		}
		a.Chunks = append(a.Chunks, c)
		a.Vectors = append(a.Vectors, v.Slice())
	}
	if err := rows.Err(); err != nil {
		return models.VideoArtifact{}, false, err
	}
	if err := Validate(a); err != nil {
		return models.VideoArtifact{}, false, err
	}
	return a, true, nil
}

// ListVideos returns every stored video, newest first.
func (s *Store) ListVideos(ctx context.Context) ([]models.VideoSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT video_id, source, embed_model, chunk_count, created_at FROM videos ORDER BY created_at DESC, video_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.VideoSummary
	for rows.Next() {
		var v models.VideoSummary
		if err := rows.Scan(&v.VideoID, &v.Source, &v.EmbedModel, &v.Chunks, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
