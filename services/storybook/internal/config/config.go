package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, overridable with STORYBOOK_CONFIG.
const ConfigPath = "services/storybook/config.yaml"

const (
	defaultPort                      = "8080"
	defaultCurrentUserID             = 1
	defaultMaxPhotos                 = 3
	defaultMaxPhotoBytes             = 5 * 1024 * 1024
	defaultStoryRateLimitPerMinute   = 10
	defaultMessageRateLimitPerMinute = 60
)

var defaultAllowedPhotoTypes = []string{"image/jpeg", "image/png", "image/jpg"}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                      string   `yaml:"port"`
	LogLevel                  string   `yaml:"logLevel"`
	CurrentUserID             int64    `yaml:"currentUserID"`
	MaxPhotos                 int      `yaml:"maxPhotos"`
	MaxPhotoBytes             int64    `yaml:"maxPhotoBytes"`
	AllowedPhotoTypes         []string `yaml:"allowedPhotoTypes"`
	DatabaseURL               string   `yaml:"databaseURL"`
	RedisAddr                 string   `yaml:"redisAddr"`
	RedisPassword             string   `yaml:"redisPassword"`
	TrustedProxyCIDRs         []string `yaml:"trustedProxyCidrs"`
	CORSAllowedOrigins        []string `yaml:"corsAllowedOrigins"`
	StoryRateLimitPerMinute   int      `yaml:"storyRateLimitPerMinute"`
	MessageRateLimitPerMinute int      `yaml:"messageRateLimitPerMinute"`
	MinioEndpoint             string   `yaml:"minioEndpoint"`
	MinioAccessKey            string   `yaml:"minioAccessKey"`
	MinioSecretKey            string   `yaml:"minioSecretKey"`
	MinioBucket               string   `yaml:"minioBucket"`
	MinioUseSSL               bool     `yaml:"minioUseSSL"`
	AMQPURL                   string   `yaml:"amqpURL"`
	EventsExchange            string   `yaml:"eventsExchange"`
}

// Load reads config from path (defaults to STORYBOOK_CONFIG, then ConfigPath),
// applies environment overrides and defaults, and validates the result.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("STORYBOOK_CONFIG")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("STORYBOOK_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("STORYBOOK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("STORYBOOK_CURRENT_USER_ID"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.CurrentUserID = n
		}
	}
	if v := os.Getenv("STORYBOOK_MAX_PHOTO_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxPhotoBytes = n
		}
	}
	if v := os.Getenv("STORYBOOK_ALLOWED_PHOTO_TYPES"); v != "" {
		cfg.AllowedPhotoTypes = splitCSV(v)
	}
	if v := os.Getenv("STORYBOOK_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("STORYBOOK_CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.CurrentUserID == 0 {
		cfg.CurrentUserID = defaultCurrentUserID
	}
	if cfg.MaxPhotos == 0 {
		cfg.MaxPhotos = defaultMaxPhotos
	}
	if cfg.MaxPhotoBytes == 0 {
		cfg.MaxPhotoBytes = defaultMaxPhotoBytes
	}
	if len(cfg.AllowedPhotoTypes) == 0 {
		cfg.AllowedPhotoTypes = append([]string(nil), defaultAllowedPhotoTypes...)
	}
	if cfg.StoryRateLimitPerMinute == 0 {
		cfg.StoryRateLimitPerMinute = defaultStoryRateLimitPerMinute
	}
	if cfg.MessageRateLimitPerMinute == 0 {
		cfg.MessageRateLimitPerMinute = defaultMessageRateLimitPerMinute
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.CurrentUserID <= 0 {
		return errors.New("config: currentUserID must be positive")
	}
	if cfg.MaxPhotos <= 0 {
		return errors.New("config: maxPhotos must be positive")
	}
	if cfg.MaxPhotoBytes <= 0 {
		return errors.New("config: maxPhotoBytes must be positive")
	}
	for _, t := range cfg.AllowedPhotoTypes {
		if !strings.HasPrefix(strings.ToLower(t), "image/") {
			return fmt.Errorf("config: allowedPhotoTypes entry %q is not an image type", t)
		}
	}
	if cfg.StoryRateLimitPerMinute < 0 || cfg.MessageRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must not be negative")
	}
	if cfg.MinioEndpoint != "" {
		if cfg.MinioAccessKey == "" {
			return errors.New("config: minioAccessKey is required when minioEndpoint is set")
		}
		if cfg.MinioSecretKey == "" {
			return errors.New("config: minioSecretKey is required when minioEndpoint is set")
		}
		if cfg.MinioBucket == "" {
			return errors.New("config: minioBucket is required when minioEndpoint is set")
		}
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
