package search

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/seanblong/videorag/internal/ai"
	"github.com/seanblong/videorag/internal/transcript"
	"github.com/seanblong/videorag/internal/vectorindex"
	"github.com/seanblong/videorag/internal/videocache"
	"github.com/seanblong/videorag/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockIndex implements vectorindex.Index with a fixed ranking
type MockIndex struct {
	Hits []vectorindex.Hit
	Rows int
	Err  error
}

func (m *MockIndex) Search(query []float32, k int) ([]vectorindex.Hit, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Hits[:min(k, len(m.Hits))], nil
}

func (m *MockIndex) Len() int             { return m.Rows }
func (m *MockIndex) Dim() int             { return 2 }
func (m *MockIndex) Vectors() [][]float32 { return nil }

// MockPreparer implements the Preparer interface for testing
type MockPreparer struct {
	PrepareFunc func(ctx context.Context, videoID string) (*videocache.Record, error)
}

func (m *MockPreparer) Prepare(ctx context.Context, videoID string) (*videocache.Record, error) {
	return m.PrepareFunc(ctx, videoID)
}

// MockEmbedder implements ai.Embedder for testing
type MockEmbedder struct {
	EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, texts)
	}
	return [][]float32{{0.1, 0.2}}, nil
}

func (m *MockEmbedder) Dim() int      { return 2 }
func (m *MockEmbedder) Model() string { return "mock" }

// fourChunks has chunks starting at 0, 10, 20 and 30 seconds.
var fourChunks = []models.Chunk{
	{Ordinal: 0, Text: "intro to cells", Start: 0, End: 10},
	{Ordinal: 1, Text: "the nucleus holds dna", Start: 10, End: 20},
	{Ordinal: 2, Text: "mitochondria make energy", Start: 20, End: 30},
	{Ordinal: 3, Text: "summary of cells", Start: 30, End: 40},
}

func preparerFor(t *testing.T, chunks []models.Chunk, idx vectorindex.Index) *MockPreparer {
	t.Helper()
	rec, err := videocache.NewRecord("vid1", "captions", "mock", chunks, idx)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	return &MockPreparer{
		PrepareFunc: func(ctx context.Context, videoID string) (*videocache.Record, error) {
			return rec, nil
		},
	}
}

func ptr(f float64) *float64 { return &f }

func TestService_Retrieve(t *testing.T) {
	// The index ranks mitochondria, then nucleus, then summary; intro is never in the top 3.
	ranking := &MockIndex{
		Rows: 4,
		Hits: []vectorindex.Hit{{Ordinal: 2, Distance: 0.1}, {Ordinal: 1, Distance: 0.4}, {Ordinal: 3, Distance: 0.9}, {Ordinal: 0, Distance: 1.5}},
	}

	tests := []struct {
		name          string
		k             int
		timestamp     *float64
		expectedTexts []string
		expectPinned  int // ordinal of the pinned passage, -1 for none
	}{
		{
			name:          "no timestamp",
			k:             2,
			expectedTexts: []string{"mitochondria make energy", "the nucleus holds dna"},
			expectPinned:  -1,
		},
		{
			name:          "timestamp chunk already present",
			k:             2,
			timestamp:     ptr(12),
			expectedTexts: []string{"mitochondria make energy", "the nucleus holds dna"},
			expectPinned:  -1,
		},
		{
			name:          "timestamp chunk ranked out is pinned first",
			k:             3,
			timestamp:     ptr(2),
			expectedTexts: []string{"intro to cells", "mitochondria make energy", "the nucleus holds dna"},
			expectPinned:  0,
		},
		{
			name:          "pinned with k of one",
			k:             1,
			timestamp:     ptr(0),
			expectedTexts: []string{"intro to cells"},
			expectPinned:  0,
		},
		{
			name:          "default k",
			k:             0,
			expectedTexts: []string{"mitochondria make energy", "the nucleus holds dna", "summary of cells"},
			expectPinned:  -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(preparerFor(t, fourChunks, ranking), &MockEmbedder{}, 3)

			passages, err := svc.Retrieve(context.Background(), "vid1", "what makes energy?", tt.k, tt.timestamp)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := Texts(passages); !reflect.DeepEqual(got, tt.expectedTexts) {
				t.Errorf("Expected %v, got %v", tt.expectedTexts, got)
			}
			for _, p := range passages {
				if p.Pinned != (p.Ordinal == tt.expectPinned) {
					t.Errorf("Passage %d pinned=%v, expected pinned ordinal %d", p.Ordinal, p.Pinned, tt.expectPinned)
				}
			}
		})
	}
}

func TestService_RetrieveDuplicateTextNotPinned(t *testing.T) {
	chunks := []models.Chunk{
		{Ordinal: 0, Text: "repeat after me", Start: 0, End: 5},
		{Ordinal: 1, Text: "something else", Start: 5, End: 10},
		{Ordinal: 2, Text: "repeat after me", Start: 10, End: 15},
	}
	idx := &MockIndex{Rows: 3, Hits: []vectorindex.Hit{{Ordinal: 2, Distance: 0}, {Ordinal: 1, Distance: 1}}}
	svc := NewService(preparerFor(t, chunks, idx), &MockEmbedder{}, 2)

	passages, err := svc.Retrieve(context.Background(), "vid1", "repeat", 2, ptr(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(passages) != 2 || passages[0].Ordinal != 2 || passages[0].Pinned {
		t.Errorf("Expected the matching text to satisfy the timestamp, got %+v", passages)
	}
}

func TestService_RetrieveErrors(t *testing.T) {
	idx := &MockIndex{Rows: 4, Hits: []vectorindex.Hit{{Ordinal: 0}}}

	tests := []struct {
		name     string
		question string
		preparer *MockPreparer
		embedder *MockEmbedder
		index    *MockIndex
		expected error
	}{
		{
			name:     "empty question",
			question: "   ",
			expected: ErrEmptyQuestion,
		},
		{
			name:     "prepare error passes through",
			question: "why?",
			preparer: &MockPreparer{
				PrepareFunc: func(ctx context.Context, videoID string) (*videocache.Record, error) {
					return nil, transcript.ErrTranscriptUnavailable
				},
			},
			expected: transcript.ErrTranscriptUnavailable,
		},
		{
			name:     "embed failure",
			question: "why?",
			embedder: &MockEmbedder{
				EmbedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
					return nil, errors.New("rate limited")
				},
			},
			expected: ErrRetrievalFailed,
		},
		{
			name:     "index failure",
			question: "why?",
			index:    &MockIndex{Rows: 4, Err: vectorindex.ErrDimensionMismatch},
			expected: ErrRetrievalFailed,
		},
		{
			name:     "ordinal out of range",
			question: "why?",
			index:    &MockIndex{Rows: 4, Hits: []vectorindex.Hit{{Ordinal: 9}}},
			expected: ErrRetrievalFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index := idx
			if tt.index != nil {
				index = tt.index
			}
			var preparer Preparer = preparerFor(t, fourChunks, index)
			if tt.preparer != nil {
				preparer = tt.preparer
			}
			embedder := &MockEmbedder{}
			if tt.embedder != nil {
				embedder = tt.embedder
			}

			_, err := NewService(preparer, embedder, 3).Retrieve(context.Background(), "vid1", tt.question, 3, nil)
			if !errors.Is(err, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, err)
			}
		})
	}
}

// MockStrategy serves a fixed transcript
type MockStrategy struct {
	Segments []models.Segment
}

func (m *MockStrategy) Name() string { return "test" }

func (m *MockStrategy) Fetch(ctx context.Context, videoID string) ([]models.Segment, error) {
	return m.Segments, nil
}

func TestService_RetrieveEndToEnd(t *testing.T) {
	segments := []models.Segment{
		{Text: "Welcome back to the science channel.", Start: 0, End: 4},
		{Text: "Plants use photosynthesis to turn sunlight into sugar.", Start: 4, End: 9},
		{Text: "Volcanoes erupt when magma rises through the crust.", Start: 9, End: 15},
		{Text: "Thanks for watching and see you next time.", Start: 15, End: 19},
	}
	embedder := ai.NewStubClient(128)
	cache := videocache.New(&videocache.Pipeline{
		Source:     transcript.NewSource(nil, transcript.Stage{Strategy: &MockStrategy{Segments: segments}}),
		Embedder:   embedder,
		ChunkWords: 5,
	}, videocache.Options{})
	svc := NewService(cache, embedder, 2)

	passages, err := svc.Retrieve(context.Background(), "vid1", "How do plants use sunlight?", 2, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(passages) == 0 || len(passages) > 2 {
		t.Fatalf("Expected 1-2 passages, got %d", len(passages))
	}
	if passages[0].Text != "Plants use photosynthesis to turn sunlight into sugar." {
		t.Errorf("Expected the photosynthesis chunk first, got %q", passages[0].Text)
	}

	rec, _ := cache.Get("vid1")
	all := map[string]bool{}
	for _, c := range rec.Chunks {
		all[c.Text] = true
	}
	for _, p := range passages {
		if !all[p.Text] {
			t.Errorf("Passage %q is not a chunk of the video", p.Text)
		}
	}

	// The closing chunk is never ranked for this question but is pinned by the timestamp.
	passages, err = svc.Retrieve(context.Background(), "vid1", "How do plants use sunlight?", 1, ptr(18))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(passages) != 1 || !passages[0].Pinned || passages[0].Start != 15 {
		t.Errorf("Expected the chunk at 15s pinned first, got %+v", passages[0])
	}
}
