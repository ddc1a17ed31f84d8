// Package config provides configuration management for the inspection
// service. Configuration is loaded from environment variables with sensible
// defaults, optionally layered over a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort      = 8788
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
	DefaultDataDir   = ".heimdex-inspect"
	DefaultAWSRegion = "us-east-1"

	DefaultMaxPeopleInKitchen = 10
	DefaultFrameConcurrency   = 4
	DefaultMaxAttempts        = 3
	DefaultRetryDelay         = 60 * time.Second
	DefaultPollInterval       = 5 * time.Second
	DefaultCoachingRetention  = 7 * 24 * time.Hour
	DefaultRetentionSchedule  = "@hourly"

	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultBedrockModelID = "anthropic.claude-3-haiku-20240307-v1:0"

	// Environment variable names
	EnvConfigFile = "INSPECT_CONFIG_FILE"
	EnvPort       = "INSPECT_PORT"
	EnvLogLevel   = "INSPECT_LOG_LEVEL"
	EnvLogFormat  = "INSPECT_LOG_FORMAT"
	EnvDataDir    = "INSPECT_DATA_DIR"
	EnvDatabase   = "INSPECT_DATABASE_URL"

	// Detection providers
	EnvRekognition = "INSPECT_REKOGNITION_ENABLED"
	EnvAWSRegion   = "INSPECT_AWS_REGION"
	EnvVisionURL   = "INSPECT_VISION_URL"
	EnvVisionToken = "INSPECT_VISION_TOKEN"

	// Recommendations
	EnvRecommender    = "INSPECT_RECOMMENDER"
	EnvOpenAIKey      = "INSPECT_OPENAI_API_KEY"
	EnvOpenAIBaseURL  = "INSPECT_OPENAI_BASE_URL"
	EnvOpenAIModel    = "INSPECT_OPENAI_MODEL"
	EnvBedrockModelID = "INSPECT_BEDROCK_MODEL_ID"

	// Analysis and scheduling
	EnvMaxPeople         = "INSPECT_MAX_PEOPLE_IN_KITCHEN"
	EnvFrameConcurrency  = "INSPECT_FRAME_CONCURRENCY"
	EnvMaxAttempts       = "INSPECT_MAX_ATTEMPTS"
	EnvRetryDelay        = "INSPECT_RETRY_DELAY"
	EnvPollInterval      = "INSPECT_POLL_INTERVAL"
	EnvCoachingRetention = "INSPECT_COACHING_RETENTION"
	EnvRetentionSchedule = "INSPECT_RETENTION_SCHEDULE"

	// Database filename
	DBFilename = "inspect.db"
)

const (
	RecommenderOff     = "off"
	RecommenderOpenAI  = "openai"
	RecommenderBedrock = "bedrock"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	LogFormat() string
	DataDir() string
	DBPath() string
	DatabaseURL() string

	RekognitionEnabled() bool
	AWSRegion() string
	VisionURL() string
	VisionToken() string

	Recommender() string
	OpenAIAPIKey() string
	OpenAIBaseURL() string
	OpenAIModel() string
	BedrockModelID() string

	MaxPeopleInKitchen() int
	FrameConcurrency() int
	MaxAttempts() int
	RetryDelay() time.Duration
	PollInterval() time.Duration
	CoachingRetention() time.Duration
	RetentionSchedule() string
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port        int
	logLevel    string
	logFormat   string
	dataDir     string
	databaseURL string

	rekognition bool
	awsRegion   string
	visionURL   string
	visionToken string

	recommender    string
	openAIKey      string
	openAIBaseURL  string
	openAIModel    string
	bedrockModelID string

	maxPeople         int
	frameConcurrency  int
	maxAttempts       int
	retryDelay        time.Duration
	pollInterval      time.Duration
	coachingRetention time.Duration
	retentionSchedule string
}

// fileConfig is the YAML overlay. Only tuning knobs live here; secrets stay
// in the environment.
type fileConfig struct {
	Analyzer struct {
		MaxPeopleInKitchen int `yaml:"max_people_in_kitchen"`
		FrameConcurrency   int `yaml:"frame_concurrency"`
	} `yaml:"analyzer"`
	Runner struct {
		MaxAttempts  int    `yaml:"max_attempts"`
		RetryDelay   string `yaml:"retry_delay"`
		PollInterval string `yaml:"poll_interval"`
	} `yaml:"runner"`
	Retention struct {
		Coaching string `yaml:"coaching"`
		Schedule string `yaml:"schedule"`
	} `yaml:"retention"`
	Providers struct {
		Rekognition    *bool  `yaml:"rekognition"`
		AWSRegion      string `yaml:"aws_region"`
		VisionURL      string `yaml:"vision_url"`
		Recommender    string `yaml:"recommender"`
		OpenAIBaseURL  string `yaml:"openai_base_url"`
		OpenAIModel    string `yaml:"openai_model"`
		BedrockModelID string `yaml:"bedrock_model_id"`
	} `yaml:"providers"`
}

// New creates a new EnvConfig with defaults, the optional YAML file named by
// INSPECT_CONFIG_FILE, and environment variable overrides, in that order.
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:              DefaultPort,
		logLevel:          DefaultLogLevel,
		logFormat:         DefaultLogFormat,
		dataDir:           defaultDataDir(),
		awsRegion:         DefaultAWSRegion,
		recommender:       RecommenderOff,
		openAIModel:       DefaultOpenAIModel,
		bedrockModelID:    DefaultBedrockModelID,
		maxPeople:         DefaultMaxPeopleInKitchen,
		frameConcurrency:  DefaultFrameConcurrency,
		maxAttempts:       DefaultMaxAttempts,
		retryDelay:        DefaultRetryDelay,
		pollInterval:      DefaultPollInterval,
		coachingRetention: DefaultCoachingRetention,
		retentionSchedule: DefaultRetentionSchedule,
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", EnvConfigFile, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setInt(&c.maxPeople, fc.Analyzer.MaxPeopleInKitchen)
	setInt(&c.frameConcurrency, fc.Analyzer.FrameConcurrency)
	setInt(&c.maxAttempts, fc.Runner.MaxAttempts)
	setString(&c.retentionSchedule, fc.Retention.Schedule)
	setString(&c.awsRegion, fc.Providers.AWSRegion)
	setString(&c.visionURL, fc.Providers.VisionURL)
	setString(&c.recommender, fc.Providers.Recommender)
	setString(&c.openAIBaseURL, fc.Providers.OpenAIBaseURL)
	setString(&c.openAIModel, fc.Providers.OpenAIModel)
	setString(&c.bedrockModelID, fc.Providers.BedrockModelID)
	if fc.Providers.Rekognition != nil {
		c.rekognition = *fc.Providers.Rekognition
	}

	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"runner.retry_delay", fc.Runner.RetryDelay, &c.retryDelay},
		{"runner.poll_interval", fc.Runner.PollInterval, &c.pollInterval},
		{"retention.coaching", fc.Retention.Coaching, &c.coachingRetention},
	}
	for _, d := range durations {
		if d.val == "" {
			continue
		}
		v, err := time.ParseDuration(d.val)
		if err != nil {
			return fmt.Errorf("invalid %s in %s: %w", d.key, path, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *EnvConfig) loadEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		c.port = port
	}

	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.logFormat, strings.ToLower(os.Getenv(EnvLogFormat)))
	setString(&c.dataDir, os.Getenv(EnvDataDir))
	setString(&c.databaseURL, os.Getenv(EnvDatabase))
	setString(&c.awsRegion, os.Getenv(EnvAWSRegion))
	setString(&c.visionURL, os.Getenv(EnvVisionURL))
	setString(&c.visionToken, os.Getenv(EnvVisionToken))
	setString(&c.recommender, strings.ToLower(os.Getenv(EnvRecommender)))
	setString(&c.openAIKey, os.Getenv(EnvOpenAIKey))
	setString(&c.openAIBaseURL, os.Getenv(EnvOpenAIBaseURL))
	setString(&c.openAIModel, os.Getenv(EnvOpenAIModel))
	setString(&c.bedrockModelID, os.Getenv(EnvBedrockModelID))
	setString(&c.retentionSchedule, os.Getenv(EnvRetentionSchedule))

	if v := os.Getenv(EnvRekognition); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRekognition, err)
		}
		c.rekognition = b
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{EnvMaxPeople, &c.maxPeople},
		{EnvFrameConcurrency, &c.frameConcurrency},
		{EnvMaxAttempts, &c.maxAttempts},
	}
	for _, it := range ints {
		v := os.Getenv(it.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", it.name, err)
		}
		*it.dst = n
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{EnvRetryDelay, &c.retryDelay},
		{EnvPollInterval, &c.pollInterval},
		{EnvCoachingRetention, &c.coachingRetention},
	}
	for _, d := range durations {
		v := os.Getenv(d.name)
		if v == "" {
			continue
		}
		dur, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = dur
	}
	return nil
}

func (c *EnvConfig) validate() error {
	var errs []error
	if c.logFormat != "json" && c.logFormat != "text" {
		errs = append(errs, fmt.Errorf("invalid %s: must be json or text", EnvLogFormat))
	}
	switch c.recommender {
	case RecommenderOff, RecommenderOpenAI, RecommenderBedrock:
	default:
		errs = append(errs, fmt.Errorf("invalid %s: must be off, openai or bedrock", EnvRecommender))
	}
	if c.recommender == RecommenderOpenAI && c.openAIKey == "" {
		errs = append(errs, fmt.Errorf("invalid %s: required when %s=openai", EnvOpenAIKey, EnvRecommender))
	}
	if c.maxPeople < 1 {
		errs = append(errs, fmt.Errorf("invalid %s: must be at least 1", EnvMaxPeople))
	}
	if c.frameConcurrency < 1 {
		errs = append(errs, fmt.Errorf("invalid %s: must be at least 1", EnvFrameConcurrency))
	}
	if c.maxAttempts < 1 {
		errs = append(errs, fmt.Errorf("invalid %s: must be at least 1", EnvMaxAttempts))
	}
	if c.retryDelay <= 0 {
		errs = append(errs, fmt.Errorf("invalid %s: must be positive", EnvRetryDelay))
	}
	if c.pollInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid %s: must be positive", EnvPollInterval))
	}
	if c.coachingRetention <= 0 {
		errs = append(errs, fmt.Errorf("invalid %s: must be positive", EnvCoachingRetention))
	}
	return errors.Join(errs...)
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// LogFormat returns json or text
func (c *EnvConfig) LogFormat() string {
	return c.logFormat
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// DatabaseURL returns the Postgres URL, or "" for the SQLite database in the
// data directory.
func (c *EnvConfig) DatabaseURL() string {
	return c.databaseURL
}

func (c *EnvConfig) RekognitionEnabled() bool {
	return c.rekognition
}

func (c *EnvConfig) AWSRegion() string {
	return c.awsRegion
}

// VisionURL returns the local vision sidecar base URL. Empty disables the
// local provider family.
func (c *EnvConfig) VisionURL() string {
	return c.visionURL
}

func (c *EnvConfig) VisionToken() string {
	return c.visionToken
}

func (c *EnvConfig) Recommender() string {
	return c.recommender
}

func (c *EnvConfig) OpenAIAPIKey() string {
	return c.openAIKey
}

func (c *EnvConfig) OpenAIBaseURL() string {
	return c.openAIBaseURL
}

func (c *EnvConfig) OpenAIModel() string {
	return c.openAIModel
}

func (c *EnvConfig) BedrockModelID() string {
	return c.bedrockModelID
}

func (c *EnvConfig) MaxPeopleInKitchen() int {
	return c.maxPeople
}

func (c *EnvConfig) FrameConcurrency() int {
	return c.frameConcurrency
}

func (c *EnvConfig) MaxAttempts() int {
	return c.maxAttempts
}

func (c *EnvConfig) RetryDelay() time.Duration {
	return c.retryDelay
}

func (c *EnvConfig) PollInterval() time.Duration {
	return c.pollInterval
}

func (c *EnvConfig) CoachingRetention() time.Duration {
	return c.coachingRetention
}

func (c *EnvConfig) RetentionSchedule() string {
	return c.retentionSchedule
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
