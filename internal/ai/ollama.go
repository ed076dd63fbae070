package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaClient talks to a local Ollama server.
type OllamaClient struct {
	config *ClientConfig
	http   *http.Client
}

func NewOllamaClient(config *ClientConfig) *OllamaClient {
	if config.EmbedModel == "" {
		config.EmbedModel = "nomic-embed-text"
	}
	if config.ChatModel == "" {
		config.ChatModel = "llama3.2"
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultOllamaBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Dim == 0 {
		config.Dim = 768
	}

	return &OllamaClient{
		config: config,
		http:   &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := c.post(ctx, "/api/embed", map[string]any{
		"model": c.config.EmbedModel,
		"input": texts,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("ollama embedding: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embedding: got %d vectors for %d inputs", len(out.Embeddings), len(texts))
	}
	return out.Embeddings, nil
}

func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	var out struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	err := c.post(ctx, "/api/chat", map[string]any{
		"model":    c.config.ChatModel,
		"stream":   false,
		"messages": []map[string]string{{"role": "user", "content": prompt}},
	}, &out)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	answer := strings.TrimSpace(out.Message.Content)
	if answer == "" {
		return "", errors.New("ollama chat: empty reply")
	}
	return answer, nil
}

func (c *OllamaClient) Dim() int {
	return c.config.Dim
}

func (c *OllamaClient) Model() string {
	return c.config.EmbedModel
}

func (c *OllamaClient) post(ctx context.Context, path string, payload any, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error != "" {
			return errors.New(e.Error)
		}
		return errors.New(resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
