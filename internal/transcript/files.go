package transcript

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/seanblong/videorag/pkg/models"
)

// CaptionExtensions are the caption file types FileStrategy understands, in lookup order.
var CaptionExtensions = []string{".srt", ".vtt"}

// FileStrategy reads <Dir>/<videoID>.srt or .vtt. A missing file is a miss, not an error.
type FileStrategy struct {
	Dir string
}

func (f *FileStrategy) Name() string { return "files" }

func (f *FileStrategy) Fetch(ctx context.Context, videoID string) ([]models.Segment, error) {
	if f.Dir == "" {
		return nil, nil
	}
	if videoID == "" || strings.ContainsAny(videoID, `/\`) || videoID == "." || videoID == ".." {
		return nil, fmt.Errorf("invalid video id %q", videoID)
	}

	for _, ext := range CaptionExtensions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(f.Dir, videoID+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return ParseCaptions(string(data))
	}
	return nil, nil
}

// ParseCaptions parses SubRip or WebVTT text into segments. Cues whose text is empty after
// markup removal are dropped; a malformed timing line is an error.
func ParseCaptions(text string) ([]models.Segment, error) {
	text = strings.TrimPrefix(text, "\ufeff")
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var (
		segments   []models.Segment
		start, end float64
		inCue      bool
		skipBlock  bool
		cueLines   []string
	)

	flush := func() {
		if inCue {
			if seg, err := models.NewSegment(cleanCueText(strings.Join(cueLines, " ")), start, end); err == nil {
				segments = append(segments, seg)
			}
		}
		inCue = false
		cueLines = nil
	}

	for i, line := range lines {
		line = strings.TrimSpace(line)

		if line == "" {
			flush()
			skipBlock = false
			continue
		}
		if skipBlock {
			continue
		}
		if i == 0 && strings.HasPrefix(line, "WEBVTT") {
			skipBlock = true
			continue
		}
		if !inCue && (strings.HasPrefix(line, "NOTE") || line == "STYLE" || line == "REGION") {
			skipBlock = true
			continue
		}

		if strings.Contains(line, "-->") {
			flush()
			var err error
			start, end, err = parseTiming(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
			inCue = true
			continue
		}

		// Sequence numbers and cue identifiers precede the timing line.
		if !inCue {
			continue
		}
		cueLines = append(cueLines, line)
	}
	flush()

	return segments, nil
}

func parseTiming(line string) (float64, float64, error) {
	left, right, _ := strings.Cut(line, "-->")
	// WebVTT cue settings follow the end time.
	if fields := strings.Fields(right); len(fields) > 0 {
		right = fields[0]
	}
	start, err := parseTimestamp(strings.TrimSpace(left))
	if err != nil {
		return 0, 0, err
	}
	end, err := parseTimestamp(right)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseTimestamp accepts HH:MM:SS,mmm, HH:MM:SS.mmm and MM:SS.mmm.
func parseTimestamp(s string) (float64, error) {
	s = strings.Replace(s, ",", ".", 1)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("bad timestamp %q", s)
	}

	var total float64
	for _, p := range parts[:len(parts)-1] {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("bad timestamp %q", s)
		}
		total = total*60 + float64(n)
	}
	sec, err := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err != nil || sec < 0 {
		return 0, fmt.Errorf("bad timestamp %q", s)
	}
	return total*60 + sec, nil
}

func cleanCueText(s string) string {
	s = tagRE.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}
