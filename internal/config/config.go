package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr                   string `yaml:"redisAddr"`
	RedisPassword               string `yaml:"redisPassword"`
	CheckUserRateLimitPerMinute int    `yaml:"checkUserRateLimitPerMinute"`

	CatalogSource  string `yaml:"catalogSource"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	MinioRegion    string `yaml:"minioRegion"`

	AdminUsername string `yaml:"adminUsername"`
	AdminPassword string `yaml:"adminPassword"`

	AllowedOrigins        []string `yaml:"allowedOrigins"`
	TrustedProxies        []string `yaml:"trustedProxies"`
	SubscribeKeepAliveSec int      `yaml:"subscribeKeepAliveSeconds"`
}

// ConfigPath returns BOOKLEND_CONFIG when set, else config.yaml.
func ConfigPath() string {
	if v := strings.TrimSpace(os.Getenv("BOOKLEND_CONFIG")); v != "" {
		return v
	}
	return defaultConfigPath
}

// Load reads config from path (defaults to ConfigPath()).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath()
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
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.CatalogSource, "CATALOG_SOURCE")
	setString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinioRegion, "MINIO_REGION")
	setString(&cfg.AdminUsername, "ADMIN_USERNAME")
	setString(&cfg.AdminPassword, "ADMIN_PASSWORD")
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		cfg.MinioUseSSL = v == "true"
	}
	if v := os.Getenv("CHECK_USER_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CheckUserRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AdminUsername == "" {
		cfg.AdminUsername = "admin"
	}
	if cfg.AdminPassword == "" {
		cfg.AdminPassword = "qwerty"
	}
	if cfg.CheckUserRateLimitPerMinute == 0 {
		cfg.CheckUserRateLimitPerMinute = 30
	}
	if cfg.SubscribeKeepAliveSec == 0 {
		cfg.SubscribeKeepAliveSec = 15
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.CheckUserRateLimitPerMinute < 0 {
		return errors.New("config: checkUserRateLimitPerMinute must be >= 0")
	}
	if cfg.SubscribeKeepAliveSec < 0 {
		return errors.New("config: subscribeKeepAliveSeconds must be >= 0")
	}
	if strings.HasPrefix(cfg.CatalogSource, "s3://") {
		if cfg.MinioEndpoint == "" {
			return errors.New("config: minioEndpoint is required for an s3:// catalogSource (set in config.yaml)")
		}
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return errors.New("config: minioAccessKey and minioSecretKey are required for an s3:// catalogSource")
		}
	}
	return nil
}

// RateLimitEnabled reports whether credential endpoints are rate limited.
func (c FileConfig) RateLimitEnabled() bool {
	return strings.TrimSpace(c.RedisAddr) != "" && c.CheckUserRateLimitPerMinute > 0
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
