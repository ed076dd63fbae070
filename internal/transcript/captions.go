package transcript

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/seanblong/videorag/pkg/models"
)

const (
	defaultWatchURL   = "https://www.youtube.com/watch?v="
	playerMarker      = "ytInitialPlayerResponse = "
	captionsUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"
)

// DefaultCaptionLanguages is the caption language preference order.
var DefaultCaptionLanguages = []string{"en", "en-US", "en-GB"}

var tagRE = regexp.MustCompile(`<[^>]*>`)

// CaptionStrategy reads the platform's published captions for a YouTube video.
type CaptionStrategy struct {
	Languages  []string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Retry      RetryConfig
	// WatchURL is the prefix the video id is appended to.
	WatchURL string
}

// NewCaptionStrategy returns a strategy allowing perSecond requests per second to the
// caption endpoints. A non-positive rate disables limiting.
func NewCaptionStrategy(languages []string, perSecond float64) *CaptionStrategy {
	if len(languages) == 0 {
		languages = DefaultCaptionLanguages
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &CaptionStrategy{
		Languages:  languages,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Limiter:    rate.NewLimiter(limit, 1),
		Retry:      DefaultRetryConfig,
		WatchURL:   defaultWatchURL,
	}
}

func (c *CaptionStrategy) Name() string { return "captions" }

func (c *CaptionStrategy) Fetch(ctx context.Context, videoID string) ([]models.Segment, error) {
	page, err := c.get(ctx, c.WatchURL+url.QueryEscape(videoID), 6<<20)
	if err != nil {
		return nil, fmt.Errorf("watch page: %w", err)
	}

	tracks, err := captionTracks(page)
	if err != nil {
		return nil, err
	}
	track, ok := pickBestTrack(tracks, c.Languages)
	if !ok {
		return nil, errors.New("all caption tracks require a PoToken")
	}
	log.Debug().Str("video_id", videoID).Str("lang", track.LanguageCode).Str("kind", track.Kind).Msg("caption track selected")

	body, err := c.get(ctx, track.BaseURL, 2<<20)
	if err != nil {
		return nil, fmt.Errorf("timedtext: %w", err)
	}
	return parseTimedText(body)
}

func (c *CaptionStrategy) get(ctx context.Context, target string, limit int64) ([]byte, error) {
	resp, err := retryHTTP(ctx, c.Retry, func() (*http.Response, error) {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", captionsUserAgent)
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		return c.HTTPClient.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"` // "asr" = auto-generated
}

type playerResponse struct {
	PlayabilityStatus *struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	Captions *struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

func captionTracks(page []byte) ([]captionTrack, error) {
	idx := strings.Index(string(page), playerMarker)
	if idx < 0 {
		return nil, errors.New("ytInitialPlayerResponse not found in watch page")
	}
	raw := extractJSON(page[idx+len(playerMarker):])
	if raw == nil {
		return nil, errors.New("failed to extract ytInitialPlayerResponse JSON")
	}

	var pr playerResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, fmt.Errorf("decode ytInitialPlayerResponse: %w", err)
	}
	if pr.Captions == nil {
		if pr.PlayabilityStatus != nil && pr.PlayabilityStatus.Reason != "" {
			return nil, fmt.Errorf("captions unavailable: %s", pr.PlayabilityStatus.Reason)
		}
		return nil, errors.New("video has no captions")
	}
	tracks := pr.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks
	if len(tracks) == 0 {
		return nil, errors.New("video has no caption tracks")
	}
	return tracks, nil
}

// extractJSON returns the leading balanced JSON object of b, or nil.
func extractJSON(b []byte) []byte {
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	depth := 0
	inStr := false
	escaped := false
	for i, c := range b {
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return b[:i+1]
			}
		}
	}
	return nil
}

// needsPoToken reports whether a caption track can only be fetched by a browser.
func needsPoToken(baseURL string) bool {
	return strings.Contains(baseURL, "&exp=xpe")
}

// pickBestTrack prefers a manual track in a preferred language, then an auto-generated one,
// then any English track, then anything usable.
func pickBestTrack(tracks []captionTrack, langs []string) (captionTrack, bool) {
	usable := make([]captionTrack, 0, len(tracks))
	for _, t := range tracks {
		if t.BaseURL != "" && !needsPoToken(t.BaseURL) {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		return captionTrack{}, false
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang && t.Kind != "asr" {
				return t, true
			}
		}
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang {
				return t, true
			}
		}
	}
	for _, t := range usable {
		if strings.HasPrefix(t.LanguageCode, "en") {
			return t, true
		}
	}
	return usable[0], true
}

// timedText covers both the legacy <transcript><text start dur> layout (seconds) and the
// srv3 <timedtext><body><p t d> layout (milliseconds).
type timedText struct {
	Texts []struct {
		Start float64 `xml:"start,attr"`
		Dur   float64 `xml:"dur,attr"`
		Text  string  `xml:",chardata"`
	} `xml:"text"`
	Paragraphs []struct {
		T     float64 `xml:"t,attr"`
		D     float64 `xml:"d,attr"`
		Inner string  `xml:",innerxml"`
	} `xml:"body>p"`
}

func parseTimedText(body []byte) ([]models.Segment, error) {
	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return nil, fmt.Errorf("parse timedtext XML: %w", err)
	}

	var segments []models.Segment
	// Cue text arrives HTML-escaped inside the XML; markup is removed after unescaping.
	add := func(text string, start, dur float64) {
		text = tagRE.ReplaceAllString(html.UnescapeString(text), "")
		seg, err := models.NewSegment(strings.Join(strings.Fields(text), " "), start, start+dur)
		if err != nil {
			return
		}
		segments = append(segments, seg)
	}

	for _, t := range tt.Texts {
		add(t.Text, t.Start, t.Dur)
	}
	for _, p := range tt.Paragraphs {
		// innerxml keeps the <s> elements and the XML escaping the decoder undoes for <text>.
		add(html.UnescapeString(tagRE.ReplaceAllString(p.Inner, "")), p.T/1000, p.D/1000)
	}
	return segments, nil
}
