// Package whisper runs a local Whisper command-line transcriber.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/videorag/internal/proc"
	"github.com/seanblong/videorag/pkg/models"
)

// CLI invokes the openai-whisper command line tool with JSON output.
type CLI struct {
	// Path is the whisper executable, looked up on PATH when bare.
	Path     string
	Model    string
	Language string
}

// New returns a CLI with defaults for empty fields.
func New(path, model string) *CLI {
	if path == "" {
		path = "whisper"
	}
	if model == "" {
		model = "base"
	}
	return &CLI{Path: path, Model: model}
}

type output struct {
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
	Language string `json:"language"`
}

// Transcribe runs whisper on audioPath. The process group is killed when ctx ends.
func (c *CLI) Transcribe(ctx context.Context, audioPath string) ([]models.Segment, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return nil, fmt.Errorf("whisper: audio file: %w", err)
	}
	bin, err := exec.LookPath(c.Path)
	if err != nil {
		return nil, fmt.Errorf("whisper: binary not found at %q: %w", c.Path, err)
	}

	outDir, err := os.MkdirTemp("", "videorag-whisper-")
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	defer func() { _ = os.RemoveAll(outDir) }()

	cmd := proc.Configure(exec.CommandContext(ctx, bin, c.args(audioPath, outDir)...))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("whisper: %w", ctxErr)
		}
		return nil, fmt.Errorf("whisper: subprocess failed: %w: %s", err, lastLine(stderr.String()))
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	data, err := os.ReadFile(filepath.Join(outDir, base+".json"))
	if errors.Is(err, os.ErrNotExist) {
		// Some builds print the JSON instead of writing it.
		data = stdout.Bytes()
	} else if err != nil {
		return nil, fmt.Errorf("whisper: read output: %w", err)
	}

	var out output
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("whisper: failed to parse JSON output: %w", err)
	}

	segments := make([]models.Segment, 0, len(out.Segments))
	for _, s := range out.Segments {
		seg, err := models.NewSegment(s.Text, s.Start, s.End)
		if err != nil {
			continue
		}
		segments = append(segments, seg)
	}
	log.Debug().Str("audio", audioPath).Str("language", out.Language).Int("segments", len(segments)).Msg("whisper transcription finished")
	return segments, nil
}

func (c *CLI) args(audioPath, outDir string) []string {
	args := []string{audioPath, "--model", c.Model, "--output_format", "json", "--output_dir", outDir, "--verbose", "False"}
	if c.Language != "" {
		args = append(args, "--language", c.Language)
	}
	return args
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
