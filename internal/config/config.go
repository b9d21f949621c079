package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names an optional YAML file whose keys fill in variables the environment leaves unset.
const ConfigFileEnv = "PIPELINE_CONFIG_FILE"

type Config struct {
	APIPort   string
	APIKey    string
	LogLevel  string
	LogFormat string
	LogFile   string

	GenerationBaseURL   string
	GenerationAPIToken  string
	GenerationTimeoutMS int
	TriggerRPS          float64
	TriggerBurst        int

	OwnerID        string
	PollIntervalMS int

	APIRateLimitRPS       float64
	APIRateLimitBurst     int
	APIMaxInFlight        int
	APIBackpressureWaitMS int

	NATSURL           string
	NATSSubjectPrefix string

	ArchiveEnabled      bool
	StoragePath         string
	DecoderUnzipLimitMB int

	RetryMaxAttempts      int
	RetryInitialBackoffMS int
	RetryMaxBackoffMS     int
	BreakerEnabled        bool
	BreakerMinRequests    int
	BreakerFailureRatio   float64
	BreakerOpenTimeoutMS  int
}

func Load() (Config, error) {
	overlay, err := loadOverlay(os.Getenv(ConfigFileEnv))
	if err != nil {
		return Config{}, err
	}
	src := source{overlay: overlay}

	return Config{
		APIPort:   src.mustEnv("API_PORT", "8080"),
		APIKey:    src.mustEnv("API_KEY", ""),
		LogLevel:  src.mustEnv("LOG_LEVEL", "info"),
		LogFormat: src.mustEnv("LOG_FORMAT", "json"),
		LogFile:   src.mustEnv("LOG_FILE", ""),

		GenerationBaseURL:   src.mustEnv("GENERATION_BASE_URL", "http://localhost:8000/api"),
		GenerationAPIToken:  src.mustEnv("GENERATION_API_TOKEN", ""),
		GenerationTimeoutMS: src.mustEnvInt("GENERATION_TIMEOUT_MS", 15000),
		TriggerRPS:          src.mustEnvFloat("GENERATION_TRIGGER_RPS", 2),
		TriggerBurst:        src.mustEnvInt("GENERATION_TRIGGER_BURST", 3),

		OwnerID:        src.mustEnv("PIPELINE_OWNER_ID", ""),
		PollIntervalMS: src.mustEnvInt("POLL_INTERVAL_MS", 3000),

		APIRateLimitRPS:       src.mustEnvFloat("API_RATE_LIMIT_RPS", 0),
		APIRateLimitBurst:     src.mustEnvInt("API_RATE_LIMIT_BURST", 20),
		APIMaxInFlight:        src.mustEnvInt("API_MAX_IN_FLIGHT", 0),
		APIBackpressureWaitMS: src.mustEnvInt("API_BACKPRESSURE_WAIT_MS", 250),

		NATSURL:           src.mustEnv("NATS_URL", ""),
		NATSSubjectPrefix: src.mustEnv("NATS_SUBJECT_PREFIX", "documents.status"),

		ArchiveEnabled:      src.mustEnvBool("ARCHIVE_ENABLED", true),
		StoragePath:         src.mustEnv("STORAGE_PATH", "./data/documents"),
		DecoderUnzipLimitMB: src.mustEnvInt("DECODER_UNZIP_LIMIT_MB", 64),

		RetryMaxAttempts:      src.mustEnvInt("GENERATION_RETRY_MAX_ATTEMPTS", 3),
		RetryInitialBackoffMS: src.mustEnvInt("GENERATION_RETRY_INITIAL_BACKOFF_MS", 150),
		RetryMaxBackoffMS:     src.mustEnvInt("GENERATION_RETRY_MAX_BACKOFF_MS", 600),
		BreakerEnabled:        src.mustEnvBool("GENERATION_BREAKER_ENABLED", true),
		BreakerMinRequests:    src.mustEnvInt("GENERATION_BREAKER_MIN_REQUESTS", 6),
		BreakerFailureRatio:   src.mustEnvFloat("GENERATION_BREAKER_FAILURE_RATIO", 0.5),
		BreakerOpenTimeoutMS:  src.mustEnvInt("GENERATION_BREAKER_OPEN_TIMEOUT_MS", 15000),
	}, nil
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// loadOverlay reads a flat YAML mapping. Keys are matched case-insensitively against
// variable names, so api_port and API_PORT are equivalent.
func loadOverlay(path string) (map[string]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	overlay := make(map[string]string, len(doc))
	for key, node := range doc {
		if node.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("parse config file %s: key %q must be a scalar", path, key)
		}
		overlay[strings.ToUpper(strings.TrimSpace(key))] = node.Value
	}
	return overlay, nil
}

type source struct {
	overlay map[string]string
}

func (s source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.overlay[key]
}

func (s source) mustEnv(key, fallback string) string {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	return v
}

func (s source) mustEnvInt(key string, fallback int) int {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (s source) mustEnvFloat(key string, fallback float64) float64 {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func (s source) mustEnvBool(key string, fallback bool) bool {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}
