package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Artifact store backends.
const (
	StoreNone     = "none"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Specification struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"providerApiKey" envconfig:"PROVIDER_API_KEY"`
	EmbedModel string `yaml:"providerEmbedModel" envconfig:"PROVIDER_EMBEDDING_MODEL"`
	ChatModel  string `yaml:"providerChatModel" envconfig:"PROVIDER_CHAT_MODEL"`
	ProjectID  string `yaml:"providerProjectID" envconfig:"PROVIDER_PROJECT_ID"`
	Location   string `yaml:"providerLocation" envconfig:"PROVIDER_LOCATION"`
	BaseURL    string `yaml:"providerBaseURL" envconfig:"PROVIDER_BASE_URL"`
	Dim        int    `yaml:"providerDim" envconfig:"EMBED_DIM"`

	Store    string `yaml:"store"`
	Database string `yaml:"database" envconfig:"DB_URL"`
	RedisURL string `yaml:"redisURL" envconfig:"REDIS_URL"`

	Transcript TranscriptSpecification `yaml:"transcript"`
	Index      IndexSpecification      `yaml:"index"`

	Workers  int               `yaml:"workers"`
	LogLevel string            `yaml:"logLevel" split_words:"true"`
	Port     int               `yaml:"port" split_words:"true"`
	Auth     AuthSpecification `yaml:"auth"`

	flags *pflag.FlagSet `ignored:"true"`
}

// TranscriptSpecification configures transcript acquisition.
type TranscriptSpecification struct {
	CaptionDir       string        `yaml:"captionDir" split_words:"true"`
	CaptionLanguages []string      `yaml:"captionLanguages" split_words:"true"`
	CaptionRate      float64       `yaml:"captionRate" split_words:"true"`
	YtDlpPath        string        `yaml:"ytDlpPath" envconfig:"YTDLP_PATH"`
	WhisperPath      string        `yaml:"whisperPath" split_words:"true"`
	WhisperModel     string        `yaml:"whisperModel" split_words:"true"`
	WhisperLanguage  string        `yaml:"whisperLanguage" split_words:"true"`
	AudioDir         string        `yaml:"audioDir" split_words:"true"`
	KeepAudio        bool          `yaml:"keepAudio" split_words:"true"`
	FileTimeout      time.Duration `yaml:"fileTimeout" split_words:"true"`
	CaptionTimeout   time.Duration `yaml:"captionTimeout" split_words:"true"`
	SpeechTimeout    time.Duration `yaml:"speechTimeout" split_words:"true"`
}

// IndexSpecification configures chunking, the video cache and retrieval.
type IndexSpecification struct {
	ChunkWords    int           `yaml:"chunkWords" split_words:"true"`
	EmbedBatch    int           `yaml:"embedBatch" split_words:"true"`
	TopK          int           `yaml:"topK" envconfig:"TOP_K"`
	CacheCapacity int           `yaml:"cacheCapacity" split_words:"true"`
	BuildTimeout  time.Duration `yaml:"buildTimeout" split_words:"true"`
}

type AuthSpecification struct {
	Enabled   bool          `yaml:"enabled"`
	JwtSecret string        `yaml:"jwtSecret" split_words:"true"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"tokenTTL" envconfig:"TOKEN_TTL"`
}

const envPrefix = "VIDEORAG"

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// Load => defaults < YAML < env < flags.
// configPath may be ""; if so we auto-discover.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	var cfg Specification

	// set defaults (lowest precedence)
	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	// config file
	path := configPath
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{
				"config/videorag.yaml",
				"config/config.yaml",
				"./videorag.yaml",
				"./config.yaml",
			} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	// env overrides config file
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	// flags override everything
	if err := fs.Parse(os.Args[1:]); err != nil {
		return Specification{}, err
	}
	applyChangedFlags(fs, &cfg)

	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if err := cfg.Validate(); err != nil {
		return Specification{}, err
	}
	return cfg, nil
}

// Validate checks the settings that have no usable fallback.
func (s *Specification) Validate() error {
	s.Store = strings.ToLower(strings.TrimSpace(s.Store))
	switch s.Store {
	case "", StoreNone:
		s.Store = StoreNone
	case StorePostgres:
		if strings.TrimSpace(s.Database) == "" {
			return fmt.Errorf("%s_DB_URL is required for the postgres store (env/file/flag)", envPrefix)
		}
	case StoreRedis:
		if strings.TrimSpace(s.RedisURL) == "" {
			return fmt.Errorf("%s_REDIS_URL is required for the redis store (env/file/flag)", envPrefix)
		}
	default:
		return fmt.Errorf("unsupported store: %s", s.Store)
	}
	if s.Index.ChunkWords <= 0 {
		return fmt.Errorf("chunk words must be positive, got %d", s.Index.ChunkWords)
	}
	if s.Index.TopK <= 0 {
		return fmt.Errorf("top-k must be positive, got %d", s.Index.TopK)
	}
	if s.Auth.Enabled && strings.TrimSpace(s.Auth.JwtSecret) == "" {
		return fmt.Errorf("%s_AUTH_JWT_SECRET is required when auth is enabled", envPrefix)
	}
	return nil
}

// ---------- helpers ----------

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")

	// If --config is provided on the command line, capture it now so
	// config discovery (which runs before flags.Parse) can use it.
	for i, a := range os.Args {
		if a == "--config" {
			if i+1 < len(os.Args) && !strings.HasPrefix(os.Args[i+1], "-") {
				_ = os.Setenv(envPrefix+"_CONFIG", os.Args[i+1])
			}
		} else if strings.HasPrefix(a, "--config=") {
			parts := strings.SplitN(a, "=", 2)
			if len(parts) == 2 {
				_ = os.Setenv(envPrefix+"_CONFIG", parts[1])
			}
		}
	}

	fs.String("provider", c.Provider, "Provider (stub|openai|vertexai|ollama)")
	fs.String("provider-api-key", c.APIKey, "Provider API key")
	fs.String("provider-embedding-model", c.EmbedModel, "Provider embedding model")
	fs.String("provider-chat-model", c.ChatModel, "Provider chat model used for answers")
	fs.String("provider-project-id", c.ProjectID, "Provider project ID")
	fs.String("provider-location", c.Location, "Provider location/region")
	fs.String("provider-base-url", c.BaseURL, "Provider base URL (OpenAI-compatible or Ollama)")
	fs.Int("embed-dim", c.Dim, "Embedding dimensionality")

	fs.String("store", c.Store, "Artifact store (none|postgres|redis)")
	fs.String("db-url", c.Database, "Database URL (DSN)")
	fs.String("redis-url", c.RedisURL, "Redis URL")

	t := &c.Transcript
	fs.String("caption-dir", t.CaptionDir, "Directory of <video_id>.srt/.vtt caption files")
	fs.StringSlice("caption-languages", t.CaptionLanguages, "Preferred caption languages, in order")
	fs.Float64("caption-rate", t.CaptionRate, "Caption requests per second (0 = unlimited)")
	fs.String("ytdlp-path", t.YtDlpPath, "Path to the yt-dlp binary")
	fs.String("whisper-path", t.WhisperPath, "Path to the whisper binary")
	fs.String("whisper-model", t.WhisperModel, "Whisper model name")
	fs.String("whisper-language", t.WhisperLanguage, "Whisper language hint (empty = detect)")
	fs.String("audio-dir", t.AudioDir, "Directory for downloaded audio (empty = temp dir)")
	fs.Bool("keep-audio", t.KeepAudio, "Keep downloaded audio after transcription")
	fs.Duration("file-timeout", t.FileTimeout, "Deadline for reading local caption files")
	fs.Duration("caption-timeout", t.CaptionTimeout, "Deadline for fetching platform captions")
	fs.Duration("speech-timeout", t.SpeechTimeout, "Deadline for download and transcription")

	ix := &c.Index
	fs.Int("chunk-words", ix.ChunkWords, "Maximum words per chunk")
	fs.Int("embed-batch", ix.EmbedBatch, "Chunk texts per embedding request")
	fs.Int("top-k", ix.TopK, "Default number of passages retrieved")
	fs.Int("cache-capacity", ix.CacheCapacity, "Resident videos before eviction (0 = unbounded)")
	fs.Duration("build-timeout", ix.BuildTimeout, "Deadline for preparing one video")

	fs.Int("workers", c.Workers, "Concurrent video preparations in the indexer")
	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")
	fs.Int("port", c.Port, "API server port")

	fs.Bool("auth-enabled", c.Auth.Enabled, "Require bearer tokens on video routes")
	fs.String("auth-jwt-secret", c.Auth.JwtSecret, "JWT secret for signing tokens")
	fs.String("auth-issuer", c.Auth.Issuer, "JWT issuer")
	fs.Duration("auth-token-ttl", c.Auth.TokenTTL, "Lifetime of issued tokens")

	// Used later for usage/help
	// create a shallow copy of fs (so Usage can be called safely without mutating caller)
	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		if fs.Changed(name) {
			v, _ := fs.GetBool(name)
			*dst = v
		}
	}
	setDur := func(name string, dst *time.Duration) {
		if fs.Changed(name) {
			v, _ := fs.GetDuration(name)
			*dst = v
		}
	}

	// (We ignore --config here; it's for discovery.)
	setStr("provider", &c.Provider)
	setStr("provider-api-key", &c.APIKey)
	setStr("provider-embedding-model", &c.EmbedModel)
	setStr("provider-chat-model", &c.ChatModel)
	setStr("provider-project-id", &c.ProjectID)
	setStr("provider-location", &c.Location)
	setStr("provider-base-url", &c.BaseURL)
	setInt("embed-dim", &c.Dim)

	setStr("store", &c.Store)
	setStr("db-url", &c.Database)
	setStr("redis-url", &c.RedisURL)

	t := &c.Transcript
	setStr("caption-dir", &t.CaptionDir)
	if fs.Changed("caption-languages") {
		t.CaptionLanguages, _ = fs.GetStringSlice("caption-languages")
	}
	if fs.Changed("caption-rate") {
		t.CaptionRate, _ = fs.GetFloat64("caption-rate")
	}
	setStr("ytdlp-path", &t.YtDlpPath)
	setStr("whisper-path", &t.WhisperPath)
	setStr("whisper-model", &t.WhisperModel)
	setStr("whisper-language", &t.WhisperLanguage)
	setStr("audio-dir", &t.AudioDir)
	setBool("keep-audio", &t.KeepAudio)
	setDur("file-timeout", &t.FileTimeout)
	setDur("caption-timeout", &t.CaptionTimeout)
	setDur("speech-timeout", &t.SpeechTimeout)

	ix := &c.Index
	setInt("chunk-words", &ix.ChunkWords)
	setInt("embed-batch", &ix.EmbedBatch)
	setInt("top-k", &ix.TopK)
	setInt("cache-capacity", &ix.CacheCapacity)
	setDur("build-timeout", &ix.BuildTimeout)

	setInt("workers", &c.Workers)
	setStr("log-level", &c.LogLevel)
	setInt("port", &c.Port)

	// Auth flags
	setBool("auth-enabled", &c.Auth.Enabled)
	setStr("auth-jwt-secret", &c.Auth.JwtSecret)
	setStr("auth-issuer", &c.Auth.Issuer)
	setDur("auth-token-ttl", &c.Auth.TokenTTL)
}

func setDefaults(c *Specification) {
	c.LogLevel = "info"
	c.Provider = "stub"
	c.Location = "us-central1"
	c.Dim = 0
	c.Store = StoreNone
	c.Port = 8080
	c.Workers = 4

	c.Transcript = TranscriptSpecification{
		CaptionLanguages: []string{"en", "en-US", "en-GB"},
		CaptionRate:      2,
		YtDlpPath:        "yt-dlp",
		WhisperPath:      "whisper",
		WhisperModel:     "base",
		FileTimeout:      10 * time.Second,
		CaptionTimeout:   30 * time.Second,
		SpeechTimeout:    15 * time.Minute,
	}
	c.Index = IndexSpecification{
		ChunkWords:    300,
		EmbedBatch:    64,
		TopK:          5,
		CacheCapacity: 128,
		BuildTimeout:  20 * time.Minute,
	}
	c.Auth = AuthSpecification{
		Enabled:  false,
		Issuer:   "videorag",
		TokenTTL: 24 * time.Hour,
	}
}
