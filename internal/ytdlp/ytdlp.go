// Package ytdlp wraps the yt-dlp command line tool for audio downloads and video search.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/seanblong/videorag/internal/proc"
	"github.com/seanblong/videorag/pkg/models"
)

const watchURL = "https://www.youtube.com/watch?v="

// Client runs yt-dlp. ffmpeg must be on PATH for audio extraction.
type Client struct {
	Path string
}

func New(path string) *Client {
	if path == "" {
		path = "yt-dlp"
	}
	return &Client{Path: path}
}

// DownloadAudio extracts the best audio stream of videoID to <dir>/<videoID>.mp3.
func (c *Client) DownloadAudio(ctx context.Context, videoID, dir string) (string, error) {
	if videoID == "" || strings.ContainsAny(videoID, `/\`) || strings.HasPrefix(videoID, "-") {
		return "", fmt.Errorf("yt-dlp: invalid video id %q", videoID)
	}

	template := filepath.Join(dir, videoID+".%(ext)s")
	_, err := c.run(ctx,
		"-f", "bestaudio/best",
		"-x", "--audio-format", "mp3",
		"--no-playlist", "--quiet", "--no-progress",
		"-o", template,
		watchURL+videoID,
	)
	if err != nil {
		return "", err
	}

	want := filepath.Join(dir, videoID+".mp3")
	if _, err := os.Stat(want); err == nil {
		return want, nil
	}

	// Without ffmpeg the audio keeps its original container.
	matches, _ := filepath.Glob(filepath.Join(dir, videoID+".*"))
	sort.Strings(matches)
	for _, m := range matches {
		if !strings.HasSuffix(m, ".part") {
			return m, nil
		}
	}
	return "", fmt.Errorf("yt-dlp: no audio file produced for %s", videoID)
}

// Search returns up to n videos matching query using yt-dlp's ytsearch extractor.
func (c *Client) Search(ctx context.Context, query string, n int) ([]models.YouTubeVideo, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("yt-dlp: empty search query")
	}
	if n <= 0 {
		n = 5
	}

	out, err := c.run(ctx, "--flat-playlist", "-J", "--quiet", fmt.Sprintf("ytsearch%d:%s", n, query))
	if err != nil {
		return nil, err
	}

	var res struct {
		Entries []struct {
			ID       string  `json:"id"`
			Title    string  `json:"title"`
			Channel  string  `json:"channel"`
			Uploader string  `json:"uploader"`
			Duration float64 `json:"duration"`
			URL      string  `json:"url"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, fmt.Errorf("yt-dlp: decode search results: %w", err)
	}

	videos := make([]models.YouTubeVideo, 0, len(res.Entries))
	for _, e := range res.Entries {
		if e.ID == "" {
			continue
		}
		channel := e.Channel
		if channel == "" {
			channel = e.Uploader
		}
		videos = append(videos, models.YouTubeVideo{
			ID:       e.ID,
			Title:    e.Title,
			Channel:  channel,
			Duration: e.Duration,
			Link:     watchURL + e.ID,
		})
	}
	return videos, nil
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	bin, err := exec.LookPath(c.Path)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp: binary not found at %q: %w", c.Path, err)
	}

	cmd := proc.Configure(exec.CommandContext(ctx, bin, args...))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("yt-dlp: %w", ctxErr)
		}
		msg := strings.TrimSpace(stderr.String())
		if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
			msg = msg[i+1:]
		}
		return nil, fmt.Errorf("yt-dlp: %w: %s", err, msg)
	}
	return stdout.Bytes(), nil
}
