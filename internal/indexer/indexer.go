package indexer

import (
	"context"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/videorag/internal/transcript"
	"github.com/seanblong/videorag/internal/videocache"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// Preparer makes a video resident. *videocache.Cache implements it.
type Preparer interface {
	Prepare(ctx context.Context, videoID string) (*videocache.Record, error)
}

// Indexer prepares a batch of videos ahead of time so that the first question about each
// is answered without waiting for transcription.
type Indexer struct {
	Cache      Preparer
	CaptionDir string
	Workers    int
	Walker     FileSystemWalker
}

// New creates a new Indexer instance.
func New(cache Preparer, captionDir string, workers int) *Indexer {
	return NewWithDependencies(cache, captionDir, workers, &DefaultFileSystemWalker{})
}

// NewWithDependencies creates a new Indexer instance with custom dependencies for testing
func NewWithDependencies(cache Preparer, captionDir string, workers int, walker FileSystemWalker) *Indexer {
	return &Indexer{
		Cache:      cache,
		CaptionDir: captionDir,
		Workers:    workers,
		Walker:     walker,
	}
}

// Outcome is the result of preparing one video.
type Outcome struct {
	VideoID  string        `json:"video_id"`
	Chunks   int           `json:"chunks,omitempty"`
	Source   string        `json:"source,omitempty"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report summarizes a Run. Outcomes are ordered by video id.
type Report struct {
	Outcomes []Outcome `json:"outcomes"`
	Prepared int       `json:"prepared"`
	Failed   int       `json:"failed"`
}

// Run prepares the given videos plus every video with a caption file under CaptionDir.
// Per-video failures are recorded in the report; the returned error is reserved for a
// failed directory walk or cancellation.
func (ix *Indexer) Run(ctx context.Context, videoIDs []string) (Report, error) {
	ids, err := ix.collect(videoIDs)
	if err != nil {
		return Report{}, err
	}

	numWorkers := ix.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
		if numWorkers > 8 {
			numWorkers = 8 // Cap at 8 to avoid overwhelming the embedding API
		}
	}
	log.Info().Int("workers", numWorkers).Int("videos", len(ids)).Msg("starting concurrent preparation")

	workChan := make(chan string, numWorkers*2)
	results := make(chan Outcome, len(ids))

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log.Debug().Int("worker", workerID).Msg("worker started")
			for id := range workChan {
				results <- ix.prepare(ctx, id)
			}
			log.Debug().Int("worker", workerID).Msg("worker finished")
		}(i)
	}

	var sendErr error
send:
	for _, id := range ids {
		select {
		case workChan <- id:
		case <-ctx.Done():
			sendErr = ctx.Err()
			break send
		}
	}
	close(workChan)
	wg.Wait()
	close(results)
	if sendErr == nil {
		sendErr = ctx.Err()
	}

	var rep Report
	for o := range results {
		if o.Err != "" {
			rep.Failed++
		} else {
			rep.Prepared++
		}
		rep.Outcomes = append(rep.Outcomes, o)
	}
	sort.Slice(rep.Outcomes, func(i, j int) bool { return rep.Outcomes[i].VideoID < rep.Outcomes[j].VideoID })

	log.Info().Int("prepared", rep.Prepared).Int("failed", rep.Failed).Msg("preparation finished")
	return rep, sendErr
}

func (ix *Indexer) prepare(ctx context.Context, id string) Outcome {
	start := time.Now()
	rec, err := ix.Cache.Prepare(ctx, id)
	o := Outcome{VideoID: id, Duration: time.Since(start)}
	if err != nil {
		log.Error().Err(err).Str("video_id", id).Msg("prepare failed")
		o.Err = err.Error()
		return o
	}
	o.Chunks = len(rec.Chunks)
	o.Source = rec.Source
	log.Info().Str("video_id", id).Str("source", rec.Source).Int("chunks", o.Chunks).Msg("video prepared")
	return o
}

// collect merges explicit ids with those discovered in CaptionDir, dropping blanks and
// duplicates while keeping first-seen order.
func (ix *Indexer) collect(videoIDs []string) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}

	for _, id := range videoIDs {
		add(id)
	}
	if ix.CaptionDir == "" || ix.Walker == nil {
		return ids, nil
	}

	root := filepath.Clean(ix.CaptionDir)
	var found []string
	err := ix.Walker.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			// de is nil when driven by a test walker.
			// Only top-level files are looked up by the file strategy.
			if de != nil && de.IsDir() {
				if path != root {
					return godirwalk.SkipThis
				}
				return nil
			}
			if filepath.Dir(path) != root {
				return nil
			}
			if id, ok := captionVideoID(path); ok {
				found = append(found, id)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(found)
	for _, id := range found {
		add(id)
	}
	return ids, nil
}

// captionVideoID returns the video id a caption file is named after.
func captionVideoID(path string) (string, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return "", false
	}
	ext := filepath.Ext(base)
	for _, ce := range transcript.CaptionExtensions {
		if ext == ce && len(base) > len(ext) {
			return strings.TrimSuffix(base, ext), true
		}
	}
	return "", false
}
