// Package config provides configuration types and loading for tenka.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Model, Providers, Router, Gateway, Timeline, Kafka, Slack, Tools, Logging.
type Config struct {
	Model     ModelConfig     `json:"model"`
	Providers ProvidersConfig `json:"providers"`
	Router    RouterConfig    `json:"router"`
	Gateway   GatewayConfig   `json:"gateway"`
	Timeline  TimelineConfig  `json:"timeline"`
	Kafka     KafkaConfig     `json:"kafka"`
	Slack     SlackConfig     `json:"slack"`
	Tools     ToolsConfig     `json:"tools"`
	Logging   LoggingConfig   `json:"logging"`
}

// ---------------------------------------------------------------------------
// Model – LLM behaviour
// ---------------------------------------------------------------------------

// ModelConfig groups LLM model settings for the responders and the classifier.
type ModelConfig struct {
	Name              string  `json:"name" envconfig:"MODEL"`
	ClassifierModel   string  `json:"classifierModel" envconfig:"CLASSIFIER_MODEL"`
	MaxTokens         int     `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature       float64 `json:"temperature" envconfig:"TEMPERATURE"`
	MaxToolIterations int     `json:"maxToolIterations" envconfig:"MAX_TOOL_ITERATIONS"`
}

// ---------------------------------------------------------------------------
// Providers – LLM API keys & endpoints
// ---------------------------------------------------------------------------

// ProvidersConfig contains LLM provider configurations.
type ProvidersConfig struct {
	OpenAI     ProviderConfig `json:"openai"`
	OpenRouter ProviderConfig `json:"openrouter"`
}

// ProviderConfig contains settings for a single LLM provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase,omitempty" envconfig:"API_BASE"`
}

// ---------------------------------------------------------------------------
// Router – mode classification and switching policy
// ---------------------------------------------------------------------------

// Mode switch policies.
const (
	PolicyConsent = "consent"
	PolicySilent  = "silent"
)

// Consent judge implementations.
const (
	JudgeLLM     = "llm"
	JudgeKeyword = "keyword"
	JudgeHybrid  = "hybrid"
)

// RouterConfig controls the orchestrator's decision policy.
type RouterConfig struct {
	LowConfidence       float64 `json:"lowConfidence" envconfig:"LOW_CONFIDENCE"`
	ModeSwitchPolicy    string  `json:"modeSwitchPolicy" envconfig:"MODE_SWITCH_POLICY"`
	ConsentJudge        string  `json:"consentJudge" envconfig:"CONSENT_JUDGE"`
	HistoryMessages     int     `json:"historyMessages" envconfig:"HISTORY_MESSAGES"`
	HistoryMessageChars int     `json:"historyMessageChars" envconfig:"HISTORY_MESSAGE_CHARS"`
	HistoryChars        int     `json:"historyChars" envconfig:"HISTORY_CHARS"`
	WelcomeMessage      string  `json:"welcomeMessage" envconfig:"WELCOME_MESSAGE"`
}

// ---------------------------------------------------------------------------
// Gateway – HTTP host
// ---------------------------------------------------------------------------

// GatewayConfig configures the HTTP API server.
type GatewayConfig struct {
	Host           string        `json:"host" envconfig:"HOST"`
	Port           int           `json:"port" envconfig:"PORT"`
	AuthToken      string        `json:"authToken" envconfig:"AUTH_TOKEN"`
	AllowOrigins   []string      `json:"allowOrigins" envconfig:"ALLOW_ORIGINS"`
	SessionIdleTTL time.Duration `json:"sessionIdleTTL" envconfig:"SESSION_IDLE_TTL"`
}

// ---------------------------------------------------------------------------
// Timeline – SQLite turn audit log
// ---------------------------------------------------------------------------

// TimelineConfig configures the turn audit database.
type TimelineConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	DBPath  string `json:"dbPath" envconfig:"DB_PATH"`
}

// ---------------------------------------------------------------------------
// Kafka – turn record publishing
// ---------------------------------------------------------------------------

// KafkaConfig configures the optional Kafka turn-record publisher.
type KafkaConfig struct {
	Enabled      bool          `json:"enabled" envconfig:"ENABLED"`
	Brokers      string        `json:"brokers" envconfig:"BROKERS"`
	Topic        string        `json:"topic" envconfig:"TOPIC"`
	BatchTimeout time.Duration `json:"batchTimeout" envconfig:"BATCH_TIMEOUT"`
}

// ---------------------------------------------------------------------------
// Slack – Socket Mode channel
// ---------------------------------------------------------------------------

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	Enabled   bool     `json:"enabled" envconfig:"ENABLED"`
	BotToken  string   `json:"botToken" envconfig:"BOT_TOKEN"`
	AppToken  string   `json:"appToken" envconfig:"APP_TOKEN"`
	BotUserID string   `json:"botUserId" envconfig:"BOT_USER_ID"`
	AllowFrom []string `json:"allowFrom" envconfig:"ALLOW_FROM"`
	APIBase   string   `json:"apiBase,omitempty" envconfig:"API_BASE"`
}

// ---------------------------------------------------------------------------
// Tools – negotiation responder tools
// ---------------------------------------------------------------------------

// ToolsConfig contains tool settings.
type ToolsConfig struct {
	TimeZone string       `json:"timeZone" envconfig:"TIME_ZONE"`
	Search   SearchConfig `json:"search"`
}

// SearchConfig contains web search settings.
type SearchConfig struct {
	APIKey     string `json:"apiKey" envconfig:"TAVILY_API_KEY"`
	APIBase    string `json:"apiBase,omitempty" envconfig:"TAVILY_API_BASE"`
	MaxResults int    `json:"maxResults" envconfig:"MAX_RESULTS"`
}

// ---------------------------------------------------------------------------
// Logging
// ---------------------------------------------------------------------------

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `json:"level" envconfig:"LEVEL"`
	Format string `json:"format" envconfig:"FORMAT"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Name:              "openrouter/anthropic/claude-haiku-4-5",
			ClassifierModel:   "",
			MaxTokens:         8192,
			Temperature:       0.7,
			MaxToolIterations: 8,
		},
		Router: RouterConfig{
			LowConfidence:       0.35,
			ModeSwitchPolicy:    PolicyConsent,
			ConsentJudge:        JudgeHybrid,
			HistoryMessages:     6,
			HistoryMessageChars: 200,
			HistoryChars:        800,
			WelcomeMessage:      "こんにちは。経営のご相談や、価格転嫁・値上げ交渉の準備をお手伝いします。どのようなことでお困りですか？",
		},
		Gateway: GatewayConfig{
			Host:           "127.0.0.1", // Secure default
			Port:           8765,
			AllowOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
			SessionIdleTTL: 6 * time.Hour,
		},
		Timeline: TimelineConfig{
			Enabled: true,
			DBPath:  "~/.tenka/timeline.db",
		},
		Kafka: KafkaConfig{
			Enabled:      false,
			Brokers:      "localhost:9092",
			Topic:        "tenka.turns",
			BatchTimeout: 200 * time.Millisecond,
		},
		Slack: SlackConfig{
			APIBase: "https://slack.com/api/",
		},
		Tools: ToolsConfig{
			TimeZone: "Asia/Tokyo",
			Search: SearchConfig{
				APIBase:    "https://api.tavily.com",
				MaxResults: 5,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
