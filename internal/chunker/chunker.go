package chunker

import (
	"strings"

	"github.com/seanblong/videorag/pkg/models"
)

// DefaultMaxWords is used when a non-positive limit is passed to Chunk.
const DefaultMaxWords = 300

// Chunk folds consecutive segments into chunks of roughly maxWords words.
//
// A chunk closes as soon as its word count reaches maxWords, so every chunk but the last
// holds at least maxWords words and a single long segment is never split. Each chunk starts
// at the Start of its first segment and ends at the End of its last one.
func Chunk(segments []models.Segment, maxWords int) []models.Chunk {
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}

	var (
		chunks []models.Chunk
		words  []string
		start  float64
		end    float64
	)

	flush := func() {
		chunks = append(chunks, models.Chunk{
			Ordinal: len(chunks),
			Text:    strings.Join(words, " "),
			Start:   start,
			End:     end,
		})
		words = nil
	}

	for _, seg := range segments {
		segWords := strings.Fields(seg.Text)
		if len(segWords) == 0 {
			continue
		}
		if len(words) == 0 {
			start = seg.Start
		}
		words = append(words, segWords...)
		end = seg.End

		if len(words) >= maxWords {
			flush()
		}
	}

	if len(words) > 0 {
		flush()
	}
	return chunks
}
