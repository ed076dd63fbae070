package videocache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/seanblong/videorag/internal/transcript"
	"github.com/seanblong/videorag/internal/vectorindex"
	"github.com/seanblong/videorag/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockBuilder is a mock implementation of Builder
type MockBuilder struct {
	BuildFunc func(ctx context.Context, videoID string) (*Record, error)
	Model     string
	calls     atomic.Int32
}

func (m *MockBuilder) Build(ctx context.Context, videoID string) (*Record, error) {
	m.calls.Add(1)
	if m.BuildFunc != nil {
		return m.BuildFunc(ctx, videoID)
	}
	return testRecord(videoID), nil
}

func (m *MockBuilder) EmbedModel() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}

// MockStore is a mock implementation of store.ArtifactStore
type MockStore struct {
	mu            sync.Mutex
	LoadVideoFunc func(ctx context.Context, videoID string) (models.VideoArtifact, bool, error)
	SaveVideoFunc func(ctx context.Context, a models.VideoArtifact) error
	saved         []models.VideoArtifact
}

func (m *MockStore) SaveVideo(ctx context.Context, a models.VideoArtifact) error {
	m.mu.Lock()
	m.saved = append(m.saved, a)
	m.mu.Unlock()
	if m.SaveVideoFunc != nil {
		return m.SaveVideoFunc(ctx, a)
	}
	return nil
}

func (m *MockStore) LoadVideo(ctx context.Context, videoID string) (models.VideoArtifact, bool, error) {
	if m.LoadVideoFunc != nil {
		return m.LoadVideoFunc(ctx, videoID)
	}
	return models.VideoArtifact{}, false, nil
}

func (m *MockStore) ListVideos(ctx context.Context) ([]models.VideoSummary, error) {
	return nil, nil
}

func (m *MockStore) savedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

func testRecord(videoID string) *Record {
	chunks := []models.Chunk{
		{Ordinal: 0, Text: "hello world", Start: 0, End: 1},
		{Ordinal: 1, Text: "foo bar baz", Start: 1, End: 2.5},
	}
	idx, err := vectorindex.Build([][]float32{{1, 0}, {0, 1}})
	if err != nil {
		panic(err)
	}
	r, err := NewRecord(videoID, "captions", "mock-model", chunks, idx)
	if err != nil {
		panic(err)
	}
	return r
}

func TestCache_PrepareIsIdempotent(t *testing.T) {
	b := &MockBuilder{}
	c := New(b, Options{})

	first, err := c.Prepare(context.Background(), "vid1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := c.Prepare(context.Background(), " vid1 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != second {
		t.Error("Expected the same record pointer on the second Prepare")
	}
	if got := b.calls.Load(); got != 1 {
		t.Errorf("Expected 1 build, got %d", got)
	}
	if r, ok := c.Get("vid1"); !ok || r != first {
		t.Error("Expected Get to return the resident record")
	}
}

func TestCache_ConcurrentPrepareBuildsOnce(t *testing.T) {
	release := make(chan struct{})
	b := &MockBuilder{
		BuildFunc: func(ctx context.Context, videoID string) (*Record, error) {
			<-release
			return testRecord(videoID), nil
		},
	}
	c := New(b, Options{})

	const n = 16
	var wg sync.WaitGroup
	records := make([]*Record, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			records[i], errs[i] = c.Prepare(context.Background(), "vid1")
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := b.calls.Load(); got != 1 {
		t.Errorf("Expected exactly 1 build, got %d", got)
	}
	for i := range records {
		if errs[i] != nil {
			t.Errorf("caller %d: unexpected error: %v", i, errs[i])
		}
		if records[i] != records[0] {
			t.Errorf("caller %d got a different record", i)
		}
	}
}

func TestCache_PrepareFailures(t *testing.T) {
	tests := []struct {
		name      string
		buildErr  error
		expectErr error
		notErr    error
	}{
		{
			name:      "transcript unavailable passes through",
			buildErr:  fmt.Errorf("%w for vid1", transcript.ErrTranscriptUnavailable),
			expectErr: transcript.ErrTranscriptUnavailable,
			notErr:    ErrBuildFailed,
		},
		{
			name:      "other failures are build failures",
			buildErr:  errors.New("embedding service down"),
			expectErr: ErrBuildFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &MockBuilder{
				BuildFunc: func(ctx context.Context, videoID string) (*Record, error) {
					return nil, tt.buildErr
				},
			}
			c := New(b, Options{})

			_, err := c.Prepare(context.Background(), "vid1")
			if !errors.Is(err, tt.expectErr) {
				t.Errorf("Expected %v, got %v", tt.expectErr, err)
			}
			if tt.notErr != nil && errors.Is(err, tt.notErr) {
				t.Errorf("Did not expect %v in %v", tt.notErr, err)
			}
			if c.Len() != 0 {
				t.Errorf("Expected video to stay absent, %d resident", c.Len())
			}

			// A failed build may be retried.
			_, _ = c.Prepare(context.Background(), "vid1")
			if got := b.calls.Load(); got != 2 {
				t.Errorf("Expected retry to build again, got %d builds", got)
			}
		})
	}
}

func TestCache_PrepareInvalidID(t *testing.T) {
	c := New(&MockBuilder{}, Options{})
	if _, err := c.Prepare(context.Background(), "  "); !errors.Is(err, ErrInvalidVideoID) {
		t.Errorf("Expected ErrInvalidVideoID, got %v", err)
	}
}

func TestCache_CallerCancelDoesNotAbortBuild(t *testing.T) {
	release := make(chan struct{})
	b := &MockBuilder{
		BuildFunc: func(ctx context.Context, videoID string) (*Record, error) {
			select {
			case <-release:
				return testRecord(videoID), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	c := New(b, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Prepare(ctx, "vid1")
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-done
	if !errors.Is(err, ErrBuildFailed) || !errors.Is(err, context.Canceled) {
		t.Errorf("Expected ErrBuildFailed wrapping context.Canceled, got %v", err)
	}

	close(release)
	deadline := time.Now().Add(time.Second)
	for c.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Len() != 1 {
		t.Error("Expected the detached build to complete and become resident")
	}
}

func TestCache_BuildTimeout(t *testing.T) {
	b := &MockBuilder{
		BuildFunc: func(ctx context.Context, videoID string) (*Record, error) {
			<-ctx.Done()
			return nil, fmt.Errorf("%w: %w", transcript.ErrTranscriptUnavailable, ctx.Err())
		},
	}
	c := New(b, Options{BuildTimeout: 20 * time.Millisecond})

	_, err := c.Prepare(context.Background(), "vid1")
	if !errors.Is(err, ErrBuildFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected ErrBuildFailed wrapping a deadline, got %v", err)
	}
	if errors.Is(err, transcript.ErrTranscriptUnavailable) {
		t.Errorf("Expected timeout not to match ErrTranscriptUnavailable, got %v", err)
	}
}

// blockingStrategy never produces segments; it waits for its context to end.
type blockingStrategy struct{}

func (blockingStrategy) Name() string { return "slow" }

func (blockingStrategy) Fetch(ctx context.Context, videoID string) ([]models.Segment, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCache_BuildTimeoutThroughSource(t *testing.T) {
	p := &Pipeline{
		Source:   transcript.NewSource(nil, transcript.Stage{Strategy: blockingStrategy{}}),
		Embedder: &MockEmbedder{},
	}
	c := New(p, Options{BuildTimeout: 30 * time.Millisecond})

	_, err := c.Prepare(context.Background(), "vid")
	if !errors.Is(err, ErrBuildFailed) {
		t.Errorf("Expected ErrBuildFailed, got %v", err)
	}
	if errors.Is(err, transcript.ErrTranscriptUnavailable) {
		t.Errorf("Expected expired build not to report a missing transcript, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("Expected video to stay absent, got %d resident", c.Len())
	}
}

func TestCache_Store(t *testing.T) {
	stored := testRecord("vid1").Artifact()

	tests := []struct {
		name         string
		builderModel string
		loadErr      error
		expectBuilds int32
		expectSource string
		expectSaved  int
	}{
		{name: "loaded from store", builderModel: "mock-model", expectBuilds: 0, expectSource: SourceStore},
		{name: "model mismatch rebuilds", builderModel: "other-model", expectBuilds: 1, expectSource: "captions", expectSaved: 1},
		{name: "store error rebuilds", builderModel: "mock-model", loadErr: errors.New("connection refused"), expectBuilds: 1, expectSource: "captions", expectSaved: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &MockStore{
				LoadVideoFunc: func(ctx context.Context, videoID string) (models.VideoArtifact, bool, error) {
					if tt.loadErr != nil {
						return models.VideoArtifact{}, false, tt.loadErr
					}
					return stored, true, nil
				},
			}
			b := &MockBuilder{Model: tt.builderModel}
			c := New(b, Options{Store: s})

			r, err := c.Prepare(context.Background(), "vid1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := b.calls.Load(); got != tt.expectBuilds {
				t.Errorf("Expected %d builds, got %d", tt.expectBuilds, got)
			}
			if r.Source != tt.expectSource {
				t.Errorf("Expected source %q, got %q", tt.expectSource, r.Source)
			}
			if got := s.savedCount(); got != tt.expectSaved {
				t.Errorf("Expected %d saves, got %d", tt.expectSaved, got)
			}
			if !reflect.DeepEqual(r.Chunks, stored.Chunks) {
				t.Errorf("Unexpected chunks %+v", r.Chunks)
			}
		})
	}
}

func TestCache_SaveFailureStillReady(t *testing.T) {
	s := &MockStore{
		SaveVideoFunc: func(ctx context.Context, a models.VideoArtifact) error {
			return errors.New("disk full")
		},
	}
	c := New(&MockBuilder{}, Options{Store: s})

	if _, err := c.Prepare(context.Background(), "vid1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.Get("vid1"); !ok {
		t.Error("Expected video to be resident despite the save failure")
	}
}

func TestCache_Eviction(t *testing.T) {
	b := &MockBuilder{}
	c := New(b, Options{Capacity: 2})
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if _, err := c.Prepare(ctx, id); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// Touch a so that b becomes the least recently used.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("Expected a to be resident")
	}
	if _, err := c.Prepare(ctx, "c"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := c.VideoIDs(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("Expected [a c] resident, got %v", got)
	}

	// An evicted video is absent again and gets rebuilt.
	if _, err := c.Prepare(ctx, "b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := b.calls.Load(); got != 4 {
		t.Errorf("Expected 4 builds, got %d", got)
	}
	if c.Len() != 2 {
		t.Errorf("Expected 2 resident, got %d", c.Len())
	}
}
