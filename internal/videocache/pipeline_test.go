package videocache

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/seanblong/videorag/internal/ai"
	"github.com/seanblong/videorag/internal/transcript"
	"github.com/seanblong/videorag/pkg/models"
)

// MockFetcher is a mock implementation of Fetcher
type MockFetcher struct {
	FetchFunc func(ctx context.Context, videoID string) (transcript.Result, error)
}

func (m *MockFetcher) Fetch(ctx context.Context, videoID string) (transcript.Result, error) {
	return m.FetchFunc(ctx, videoID)
}

// MockEmbedder is a mock implementation of ai.Embedder
type MockEmbedder struct {
	EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)
	batches   [][]string
}

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.batches = append(m.batches, texts)
	return m.EmbedFunc(ctx, texts)
}

func (m *MockEmbedder) Dim() int      { return 2 }
func (m *MockEmbedder) Model() string { return "mock-embed" }

func fetcherOf(strategy string, segments ...models.Segment) *MockFetcher {
	return &MockFetcher{
		FetchFunc: func(ctx context.Context, videoID string) (transcript.Result, error) {
			return transcript.Result{Segments: segments, Strategy: strategy}, nil
		},
	}
}

func TestPipeline_Build(t *testing.T) {
	p := &Pipeline{
		Source: fetcherOf("captions",
			models.Segment{Text: "hello world", Start: 0, End: 1},
			models.Segment{Text: "foo bar baz", Start: 1, End: 2.5},
		),
		Embedder:   ai.NewStubClient(16),
		ChunkWords: 2,
	}

	r, err := p.Build(context.Background(), "vid1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(r.Chunks) != 2 || r.Index.Len() != 2 {
		t.Fatalf("Expected 2 chunks and 2 index rows, got %d and %d", len(r.Chunks), r.Index.Len())
	}
	if !reflect.DeepEqual(r.Starts, []float64{0, 1}) {
		t.Errorf("Expected starts [0 1], got %v", r.Starts)
	}
	if r.Source != "captions" || r.EmbedModel != "stub-hash-16" {
		t.Errorf("Unexpected provenance %q/%q", r.Source, r.EmbedModel)
	}
	if r.Index.Dim() != 16 {
		t.Errorf("Expected dim 16, got %d", r.Index.Dim())
	}
}

func TestPipeline_BuildBatches(t *testing.T) {
	e := &MockEmbedder{
		EmbedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			for i := range texts {
				out[i] = []float32{float32(len(texts[i])), 1}
			}
			return out, nil
		},
	}
	p := &Pipeline{
		Source: fetcherOf("files",
			models.Segment{Text: "one", Start: 0, End: 1},
			models.Segment{Text: "two", Start: 1, End: 2},
			models.Segment{Text: "three", Start: 2, End: 3},
		),
		Embedder:   e,
		ChunkWords: 1,
		EmbedBatch: 2,
	}

	r, err := p.Build(context.Background(), "vid1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := [][]string{{"one", "two"}, {"three"}}
	if !reflect.DeepEqual(e.batches, expected) {
		t.Errorf("Expected batches %v, got %v", expected, e.batches)
	}
	if r.EmbedModel != "mock-embed" {
		t.Errorf("Expected mock-embed, got %q", r.EmbedModel)
	}
}

func TestPipeline_BuildErrors(t *testing.T) {
	tests := []struct {
		name     string
		fetcher  *MockFetcher
		embed    func(ctx context.Context, texts []string) ([][]float32, error)
		expected error
		contains string
	}{
		{
			name: "transcript unavailable",
			fetcher: &MockFetcher{
				FetchFunc: func(ctx context.Context, videoID string) (transcript.Result, error) {
					return transcript.Result{}, transcript.ErrTranscriptUnavailable
				},
			},
			expected: transcript.ErrTranscriptUnavailable,
		},
		{
			name:     "no segments",
			fetcher:  fetcherOf("captions"),
			expected: transcript.ErrTranscriptUnavailable,
			contains: "no words",
		},
		{
			name:    "embedder failure",
			fetcher: fetcherOf("captions", models.Segment{Text: "hi", Start: 0, End: 1}),
			embed: func(ctx context.Context, texts []string) ([][]float32, error) {
				return nil, errors.New("quota exceeded")
			},
			contains: "quota exceeded",
		},
		{
			name:    "vector count mismatch",
			fetcher: fetcherOf("captions", models.Segment{Text: "hi", Start: 0, End: 1}),
			embed: func(ctx context.Context, texts []string) ([][]float32, error) {
				return nil, nil
			},
			contains: "got 0 vectors for 1 texts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embed := tt.embed
			if embed == nil {
				embed = func(ctx context.Context, texts []string) ([][]float32, error) {
					t.Error("embedder must not be called")
					return nil, nil
				}
			}
			p := &Pipeline{Source: tt.fetcher, Embedder: &MockEmbedder{EmbedFunc: embed}}

			_, err := p.Build(context.Background(), "vid1")
			if err == nil {
				t.Fatal("Expected error")
			}
			if tt.expected != nil && !errors.Is(err, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, err)
			}
			if tt.contains != "" && !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("Expected error containing %q, got %v", tt.contains, err)
			}
		})
	}
}

func TestRecord_ArtifactRoundTrip(t *testing.T) {
	r := testRecord("vid1")
	back, err := FromArtifact(r.Artifact())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(back.Chunks, r.Chunks) || !reflect.DeepEqual(back.Index.Vectors(), r.Index.Vectors()) {
		t.Error("Artifact round trip changed the record")
	}
	if back.Source != SourceStore || back.BuiltAt != r.BuiltAt {
		t.Errorf("Unexpected provenance %q %v", back.Source, back.BuiltAt)
	}
}

func TestRecord_Nearest(t *testing.T) {
	r := &Record{Starts: []float64{0, 10, 20, 30}}
	tests := []struct {
		t        float64
		expected int
	}{
		{t: -5, expected: 0},
		{t: 11, expected: 1},
		{t: 15, expected: 1}, // tie goes to the lower ordinal
		{t: 29, expected: 3},
		{t: 1000, expected: 3},
	}
	for _, tt := range tests {
		if got := r.Nearest(tt.t); got != tt.expected {
			t.Errorf("Nearest(%v) = %d, expected %d", tt.t, got, tt.expected)
		}
	}
	if got := (&Record{}).Nearest(3); got != -1 {
		t.Errorf("Expected -1 for empty record, got %d", got)
	}
}

func TestNewRecord_Mismatch(t *testing.T) {
	idx := testRecord("x").Index
	if _, err := NewRecord("vid1", "captions", "m", []models.Chunk{{Ordinal: 0, Text: "a"}}, idx); err == nil {
		t.Error("Expected error for chunk/index length mismatch")
	}
	if _, err := NewRecord("vid1", "captions", "m", nil, nil); err == nil {
		t.Error("Expected error for nil index")
	}
}
