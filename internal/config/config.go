package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone   = "UTC"
	configPathEnv     = "AIFLASH_CONFIG"
	databaseDSNEnv    = "DATABASE_DSN"
	databaseDriverEnv = "DATABASE_DRIVER"
	chatGPTAPIKeyEnv  = "CHATGPT_API_KEY"
	chatGPTModelEnv   = "CHATGPT_MODEL"
	embeddingKeyEnv   = "EMBEDDING_API_KEY"
	qdrantHostEnv     = "QDRANT_HOST"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	logLevelEnv       = "LOG_LEVEL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	ChatGPT       ChatGPTConfig      `yaml:"chatgpt"`
	ML            MLConfig           `yaml:"ml"`
	Index         IndexConfig        `yaml:"index"`
	Pipeline      PipelineConfig     `yaml:"pipeline"`
	Retrieval     RetrievalConfig    `yaml:"retrieval"`
	Notifications NotificationConfig `yaml:"notifications"`
	Metrics       MetricsConfig      `yaml:"metrics"`
	Feeds         []FeedConfig       `yaml:"feeds"`
	Sites         []SiteConfig       `yaml:"sites"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig describes the item store connection. Driver is "sqlite" or "postgres".
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SchedulerConfig defines the loop tick and per-job schedule expressions.
type SchedulerConfig struct {
	Tick     time.Duration     `yaml:"tick"`
	Timezone string            `yaml:"timezone"`
	Jobs     map[string]string `yaml:"jobs"`
	location *time.Location    `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// ChatGPTConfig defines how to contact the reasoning service.
type ChatGPTConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"apiKey"`
	SystemPrompt      string        `yaml:"systemPrompt"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
}

// MLConfig describes the embedding service.
type MLConfig struct {
	InferenceURL string        `yaml:"inferenceUrl"`
	APIKey       string        `yaml:"apiKey"`
	Model        string        `yaml:"model"`
	Dimension    int           `yaml:"dimension"`
	Timeout      time.Duration `yaml:"timeout"`
}

// IndexConfig selects and configures the search index backend ("chromem" or "qdrant").
type IndexConfig struct {
	Backend       string        `yaml:"backend"`
	Path          string        `yaml:"path"`
	Collection    string        `yaml:"collection"`
	QdrantHost    string        `yaml:"qdrantHost"`
	QdrantPort    int           `yaml:"qdrantPort"`
	QdrantAPIKey  string        `yaml:"qdrantApiKey"`
	SearchTimeout time.Duration `yaml:"searchTimeout"`
	CallTimeout   time.Duration `yaml:"callTimeout"`
}

// PipelineConfig holds relevance and synthesis policy.
type PipelineConfig struct {
	BatchSize          int           `yaml:"batchSize"`
	RelevanceThreshold float64       `yaml:"relevanceThreshold"`
	QuarantineLimit    int           `yaml:"quarantineLimit"`
	MaxUncheckedPerRun int           `yaml:"maxUncheckedPerRun"`
	MaxSummarizePerRun int           `yaml:"maxSummarizePerRun"`
	ContentLimit       int           `yaml:"contentLimit"`
	RetentionDays      int           `yaml:"retentionDays"`
	ClearBeforeIngest  bool          `yaml:"clearBeforeIngest"`
	IngestLookback     time.Duration `yaml:"ingestLookback"`
	StaleAfter         time.Duration `yaml:"staleAfter"`
}

// RetrievalConfig holds read-path quotas and the tier-3 source exclusion list.
type RetrievalConfig struct {
	MorningBriefTopN int      `yaml:"morningBriefTopN"`
	BriefWindowDays  int      `yaml:"briefWindowDays"`
	TopicTopK        int      `yaml:"topicTopK"`
	ExcludedSources  []string `yaml:"excludedSources"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// MetricsConfig sets the Prometheus listen address; empty disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// FeedConfig is one RSS/Atom feed with its display source name.
type FeedConfig struct {
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	Limit int    `yaml:"limit"`
}

// SiteConfig describes a single site with its scanner strategy.
type SiteConfig struct {
	Name       string            `yaml:"name"`
	Scanner    string            `yaml:"scanner"`
	Categories []CategoryConfig  `yaml:"categories"`
	Options    map[string]string `yaml:"options"`
}

// CategoryConfig holds the concrete endpoints to crawl (e.g., Arxiv category URLs).
type CategoryConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else if fileCfg, err := Parse(raw); err != nil {
			log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
		} else {
			cfg = mergeConfig(cfg, fileCfg)
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if len(cfg.Feeds) == 0 && len(cfg.Sites) == 0 {
		cfg.Feeds = defaultConfig().Feeds
	}

	return cfg
}

// Parse decodes a YAML document without applying defaults.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(chatGPTAPIKeyEnv); v != "" {
		c.ChatGPT.APIKey = v
		if c.ML.APIKey == "" {
			c.ML.APIKey = v
		}
	}
	if v := os.Getenv(chatGPTModelEnv); v != "" {
		c.ChatGPT.Model = v
	}
	if v := os.Getenv(embeddingKeyEnv); v != "" {
		c.ML.APIKey = v
	}

	if v := os.Getenv(qdrantHostEnv); v != "" {
		c.Index.Backend = "qdrant"
		c.Index.QdrantHost = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}
	if override.Database.Driver != "" {
		base.Database.Driver = override.Database.Driver
	}

	if override.Scheduler.Tick > 0 {
		base.Scheduler.Tick = override.Scheduler.Tick
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}
	for name, expr := range override.Scheduler.Jobs {
		base.Scheduler.Jobs[name] = expr
	}

	base.ChatGPT = mergeChatGPT(base.ChatGPT, override.ChatGPT)
	base.ML = mergeML(base.ML, override.ML)
	base.Index = mergeIndex(base.Index, override.Index)
	base.Pipeline = mergePipeline(base.Pipeline, override.Pipeline)

	if override.Retrieval.MorningBriefTopN > 0 {
		base.Retrieval.MorningBriefTopN = override.Retrieval.MorningBriefTopN
	}
	if override.Retrieval.BriefWindowDays > 0 {
		base.Retrieval.BriefWindowDays = override.Retrieval.BriefWindowDays
	}
	if override.Retrieval.TopicTopK > 0 {
		base.Retrieval.TopicTopK = override.Retrieval.TopicTopK
	}
	if override.Retrieval.ExcludedSources != nil {
		base.Retrieval.ExcludedSources = override.Retrieval.ExcludedSources
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.Metrics.Addr != "" {
		base.Metrics.Addr = override.Metrics.Addr
	}

	if len(override.Feeds) > 0 {
		base.Feeds = override.Feeds
	}
	if len(override.Sites) > 0 {
		base.Sites = override.Sites
	}

	return base
}

func mergeChatGPT(base, override ChatGPTConfig) ChatGPTConfig {
	if override.Endpoint != "" {
		base.Endpoint = override.Endpoint
	}
	if override.Model != "" {
		base.Model = override.Model
	}
	if override.APIKey != "" {
		base.APIKey = override.APIKey
	}
	if override.SystemPrompt != "" {
		base.SystemPrompt = override.SystemPrompt
	}
	if override.Timeout > 0 {
		base.Timeout = override.Timeout
	}
	if override.RequestsPerSecond > 0 {
		base.RequestsPerSecond = override.RequestsPerSecond
	}
	return base
}

func mergeML(base, override MLConfig) MLConfig {
	if override.InferenceURL != "" {
		base.InferenceURL = override.InferenceURL
	}
	if override.APIKey != "" {
		base.APIKey = override.APIKey
	}
	if override.Model != "" {
		base.Model = override.Model
	}
	if override.Dimension > 0 {
		base.Dimension = override.Dimension
	}
	if override.Timeout > 0 {
		base.Timeout = override.Timeout
	}
	return base
}

func mergeIndex(base, override IndexConfig) IndexConfig {
	if override.Backend != "" {
		base.Backend = override.Backend
	}
	if override.Path != "" {
		base.Path = override.Path
	}
	if override.Collection != "" {
		base.Collection = override.Collection
	}
	if override.QdrantHost != "" {
		base.QdrantHost = override.QdrantHost
	}
	if override.QdrantPort > 0 {
		base.QdrantPort = override.QdrantPort
	}
	if override.QdrantAPIKey != "" {
		base.QdrantAPIKey = override.QdrantAPIKey
	}
	if override.SearchTimeout > 0 {
		base.SearchTimeout = override.SearchTimeout
	}
	if override.CallTimeout > 0 {
		base.CallTimeout = override.CallTimeout
	}
	return base
}

func mergePipeline(base, override PipelineConfig) PipelineConfig {
	if override.BatchSize > 0 {
		base.BatchSize = override.BatchSize
	}
	if override.RelevanceThreshold > 0 {
		base.RelevanceThreshold = override.RelevanceThreshold
	}
	if override.QuarantineLimit > 0 {
		base.QuarantineLimit = override.QuarantineLimit
	}
	if override.MaxUncheckedPerRun > 0 {
		base.MaxUncheckedPerRun = override.MaxUncheckedPerRun
	}
	if override.MaxSummarizePerRun > 0 {
		base.MaxSummarizePerRun = override.MaxSummarizePerRun
	}
	if override.ContentLimit > 0 {
		base.ContentLimit = override.ContentLimit
	}
	if override.RetentionDays > 0 {
		base.RetentionDays = override.RetentionDays
	}
	if override.ClearBeforeIngest {
		base.ClearBeforeIngest = true
	}
	if override.IngestLookback > 0 {
		base.IngestLookback = override.IngestLookback
	}
	if override.StaleAfter > 0 {
		base.StaleAfter = override.StaleAfter
	}
	return base
}

// Job names shared by the scheduler and the CLI.
const (
	JobIngest    = "ingest"
	JobRelevance = "relevance"
	JobSummarize = "summarize"
	JobCleanup   = "cleanup"
	JobHealth    = "health"
	JobReindex   = "reindex"
)

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:  LoggingConfig{Level: "info"},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "data/aiflash.db"},
		Scheduler: SchedulerConfig{
			Tick:     time.Minute,
			Timezone: defaultTimezone,
			location: tz,
			Jobs: map[string]string{
				JobIngest:    "0 6 * * *",
				JobRelevance: "@every 30m",
				JobSummarize: "@every 30m",
				JobCleanup:   "0 2 * * 0",
				JobHealth:    "@hourly",
			},
		},
		ChatGPT: ChatGPTConfig{
			Endpoint:          "https://api.openai.com/v1/chat/completions",
			Model:             "gpt-4o-mini",
			SystemPrompt:      "You are an expert AI research analyst. Reply with JSON only.",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 2,
		},
		ML: MLConfig{
			InferenceURL: "https://api.openai.com/v1/embeddings",
			Model:        "text-embedding-3-small",
			Dimension:    1536,
			Timeout:      15 * time.Second,
		},
		Index: IndexConfig{
			Backend:       "chromem",
			Path:          "data/index",
			Collection:    "aiflash_items",
			QdrantHost:    "localhost",
			QdrantPort:    6334,
			SearchTimeout: 2500 * time.Millisecond,
			CallTimeout:   10 * time.Second,
		},
		Pipeline: PipelineConfig{
			BatchSize:          10,
			RelevanceThreshold: 0.7,
			QuarantineLimit:    3,
			MaxUncheckedPerRun: 100,
			MaxSummarizePerRun: 20,
			ContentLimit:       4000,
			RetentionDays:      90,
			IngestLookback:     7 * 24 * time.Hour,
			StaleAfter:         48 * time.Hour,
		},
		Retrieval: RetrievalConfig{
			MorningBriefTopN: 10,
			BriefWindowDays:  7,
			TopicTopK:        15,
			ExcludedSources:  []string{"Hacker News"},
		},
		Metrics: MetricsConfig{Addr: ":9102"},
		Feeds: []FeedConfig{
			{Name: "Hugging Face", URL: "https://huggingface.co/blog/feed.xml", Limit: 10},
			{Name: "OpenAI", URL: "https://openai.com/news/rss.xml", Limit: 10},
			{Name: "Hacker News", URL: "https://hnrss.org/newest?q=AI", Limit: 10},
			{Name: "DeepMind", URL: "https://deepmind.google/blog/rss.xml", Limit: 10},
			{Name: "NVIDIA", URL: "https://developer.nvidia.com/blog/feed", Limit: 10},
			{Name: "AWS", URL: "https://aws.amazon.com/blogs/machine-learning/feed/", Limit: 10},
			{Name: "arXiv", URL: "https://export.arxiv.org/rss/cs.LG", Limit: 10},
		},
	}
}

// Default returns the built-in configuration without file or environment input.
func Default() Config {
	return defaultConfig()
}

// EnvInt reads an integer environment variable with a fallback.
func EnvInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
