package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var ErrEmptyEnvironmentVariable = errors.New("empty environment variable")

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Twilio   TwilioConfig
	Speech   SpeechConfig
	Dialogue DialogueConfig
	Alerts   AlertsConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Session  SessionConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string
	Username string
	Password string
	Name     string
	Migrate  bool
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
	// PublicHost is the externally reachable host Twilio connects the media stream to.
	PublicHost string
}

// TwilioConfig holds Twilio credentials. Both are optional; without them the
// server skips signature validation and REST call completion.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
}

// SpeechConfig selects and configures recognition, synthesis and translation
type SpeechConfig struct {
	DeepgramAPIKey   string
	OpenAIAPIKey     string
	SynthesisEngine  string // "deepgram" or "openai"
	RecognizerModel  string
	TranslationModel string
}

// DialogueConfig selects the dialogue backend
type DialogueConfig struct {
	Provider     string // "http" or "gemini"
	URL          string
	GeminiAPIKey string
	GeminiModel  string
}

// AlertsConfig holds push notification settings
type AlertsConfig struct {
	FirebaseProjectID       string
	FirebaseCredentialsFile string
}

// RedisConfig holds the account cache connection
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

// KafkaConfig holds call event streaming configuration
type KafkaConfig struct {
	Brokers string
	Topic   string
}

// SessionConfig holds call session tuning
type SessionConfig struct {
	SilenceWindow       time.Duration
	MinConfidence       float64
	Cooldown            time.Duration
	GreetingDelay       time.Duration
	HangupGrace         time.Duration
	ExternalCallTimeout time.Duration
	QueuePolicy         string
}

// Load reads and validates all required environment variables
func Load() (*Config, error) {
	if os.Getenv("GO_ENV") != "production" {
		if err := godotenv.Load("env.local"); err != nil {
			return nil, fmt.Errorf("failed to load env.local: %w", err)
		}
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {
	cfg := &Config{}

	var err error
	if cfg.Database.Host, err = requireEnv("DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.Database.Username, err = requireEnv("DB_USERNAME"); err != nil {
		return nil, err
	}
	if cfg.Database.Password, err = requireEnv("DB_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.Database.Name, err = requireEnv("DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.Database.Migrate, err = getBool("DB_MIGRATE", "true"); err != nil {
		return nil, err
	}

	serverPort := getEnvWithDefault("SERVER_PORT", "8080")
	cfg.Server.Port, err = strconv.Atoi(serverPort)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SERVER_PORT: %w", err)
	}
	if cfg.Server.PublicHost, err = requireEnv("PUBLIC_HOST"); err != nil {
		return nil, err
	}

	cfg.Twilio.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	cfg.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")

	if cfg.Speech.DeepgramAPIKey, err = requireEnv("DEEPGRAM_API_KEY"); err != nil {
		return nil, err
	}
	if cfg.Speech.OpenAIAPIKey, err = requireEnv("OPENAI_API_KEY"); err != nil {
		return nil, err
	}
	cfg.Speech.SynthesisEngine = getEnvWithDefault("SYNTHESIS_ENGINE", "deepgram")
	cfg.Speech.RecognizerModel = getEnvWithDefault("DEEPGRAM_MODEL", "nova-3")
	cfg.Speech.TranslationModel = getEnvWithDefault("TRANSLATION_MODEL", "gpt-4o-mini")

	cfg.Dialogue.Provider = getEnvWithDefault("DIALOGUE_PROVIDER", "http")
	switch cfg.Dialogue.Provider {
	case "http":
		cfg.Dialogue.URL = getEnvWithDefault("DIALOGUE_URL", "http://localhost:5001")
	case "gemini":
		if cfg.Dialogue.GeminiAPIKey, err = requireEnv("GOOGLE_AI_API_KEY"); err != nil {
			return nil, err
		}
		cfg.Dialogue.GeminiModel = getEnvWithDefault("GEMINI_MODEL", "gemini-2.5-flash")
	default:
		return nil, fmt.Errorf("unsupported DIALOGUE_PROVIDER %q", cfg.Dialogue.Provider)
	}

	cfg.Alerts.FirebaseProjectID = os.Getenv("FIREBASE_PROJECT_ID")
	cfg.Alerts.FirebaseCredentialsFile = os.Getenv("FIREBASE_CREDENTIALS_FILE")

	if cfg.Redis.Enabled, err = getBool("REDIS_ENABLED", "false"); err != nil {
		return nil, err
	}
	cfg.Redis.Host = getEnvWithDefault("REDIS_HOST", "localhost")
	if cfg.Redis.Port, err = strconv.Atoi(getEnvWithDefault("REDIS_PORT", "6379")); err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_PORT: %w", err)
	}
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if cfg.Redis.DB, err = strconv.Atoi(getEnvWithDefault("REDIS_DB", "0")); err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_DB: %w", err)
	}
	if cfg.Redis.TTL, err = getDuration("ACCOUNT_CACHE_TTL", "5m"); err != nil {
		return nil, err
	}

	cfg.Kafka.Brokers = os.Getenv("KAFKA_BROKERS")
	cfg.Kafka.Topic = getEnvWithDefault("KAFKA_TOPIC", "call-events")

	if cfg.Session.SilenceWindow, err = getDuration("SILENCE_WINDOW", "1500ms"); err != nil {
		return nil, err
	}
	cfg.Session.MinConfidence, err = strconv.ParseFloat(getEnvWithDefault("MIN_TRANSCRIPT_CONFIDENCE", "0.6"), 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse MIN_TRANSCRIPT_CONFIDENCE: %w", err)
	}
	if cfg.Session.Cooldown, err = getDuration("REPLY_COOLDOWN", "500ms"); err != nil {
		return nil, err
	}
	if cfg.Session.GreetingDelay, err = getDuration("GREETING_DELAY", "1s"); err != nil {
		return nil, err
	}
	if cfg.Session.HangupGrace, err = getDuration("HANGUP_GRACE", "5s"); err != nil {
		return nil, err
	}
	if cfg.Session.ExternalCallTimeout, err = getDuration("EXTERNAL_CALL_TIMEOUT", "20s"); err != nil {
		return nil, err
	}
	cfg.Session.QueuePolicy = strings.ToLower(getEnvWithDefault("REPLY_QUEUE_POLICY", "latest"))
	if cfg.Session.QueuePolicy != "latest" && cfg.Session.QueuePolicy != "all" {
		return nil, fmt.Errorf("unsupported REPLY_QUEUE_POLICY %q", cfg.Session.QueuePolicy)
	}

	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s",
		c.Username, c.Password, c.Host, c.Name)
}

// requireEnv retrieves an environment variable or returns an error if empty
func requireEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s is not set: %w", key, ErrEmptyEnvironmentVariable)
	}
	return value, nil
}

// getEnvWithDefault retrieves an environment variable or returns a default value
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getDuration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnvWithDefault(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return d, nil
}

func getBool(key, defaultValue string) (bool, error) {
	b, err := strconv.ParseBool(getEnvWithDefault(key, defaultValue))
	if err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return b, nil
}
