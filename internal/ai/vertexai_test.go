package ai

import (
	"context"
	"testing"
)

func TestNewVertexAIClient_NilConfig(t *testing.T) {
	if _, err := NewVertexAIClient(context.Background(), nil); err == nil {
		t.Error("Expected error for nil config")
	}
}

func TestNewVertexAIClient_Defaults(t *testing.T) {
	tests := []struct {
		name          string
		config        *ClientConfig
		expectedEmbed string
		expectedChat  string
		expectedDim   int
	}{
		{
			name:          "defaults",
			config:        &ClientConfig{APIKey: "test-api-key"},
			expectedEmbed: "text-embedding-005",
			expectedChat:  "gemini-2.0-flash",
			expectedDim:   768,
		},
		{
			name: "explicit models",
			config: &ClientConfig{
				APIKey:     "test-api-key",
				EmbedModel: "gemini-embedding-001",
				ChatModel:  "gemini-2.5-flash",
				Dim:        3072,
			},
			expectedEmbed: "gemini-embedding-001",
			expectedChat:  "gemini-2.5-flash",
			expectedDim:   3072,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewVertexAIClient(context.Background(), tt.config)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if client.Model() != tt.expectedEmbed {
				t.Errorf("Expected EmbedModel '%s', got '%s'", tt.expectedEmbed, client.Model())
			}
			if client.config.ChatModel != tt.expectedChat {
				t.Errorf("Expected ChatModel '%s', got '%s'", tt.expectedChat, client.config.ChatModel)
			}
			if client.Dim() != tt.expectedDim {
				t.Errorf("Expected Dim %d, got %d", tt.expectedDim, client.Dim())
			}
			if client.config.Location != "" {
				t.Errorf("Expected no location with an API key, got '%s'", client.config.Location)
			}
		})
	}
}
