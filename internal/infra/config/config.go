package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"memvault/internal/domain"
)

// Config is the root configuration.
type Config struct {
	Store         StoreConfig         `yaml:"store"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
	Maintenance   MaintenanceConfig   `yaml:"maintenance"`
	Logger        LoggerConfig        `yaml:"logger"`
	Tracer        TracerConfig        `yaml:"tracer"`
}

// StoreConfig holds SQLite store settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// EmbeddingConfig holds embedding provider settings.
// APIKey may be an "enc:" value decrypted with MEMVAULT_CONFIG_KEY.
type EmbeddingConfig struct {
	Provider       string               `yaml:"provider"` // "ollama", "openai", "gemini"
	Model          string               `yaml:"model"`
	Dimensions     int                  `yaml:"dimensions"`
	BaseURL        string               `yaml:"base_url"`
	APIKey         string               `yaml:"api_key"`
	CacheSize      int                  `yaml:"cache_size"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RateLimitConfig throttles outbound embedding calls.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// CircuitBreakerConfig holds circuit breaker settings for the embedding
// provider.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// ConsolidationConfig holds the background consolidation schedule.
type ConsolidationConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"` // cron expression or duration
	Timeout  time.Duration `yaml:"timeout"`
}

// MaintenanceConfig schedules the daemon's periodic stats report and export
// snapshot. An empty schedule disables the task.
type MaintenanceConfig struct {
	StatsSchedule  string `yaml:"stats_schedule"`  // cron expression or duration
	ExportSchedule string `yaml:"export_schedule"` // cron expression or duration
	ExportPath     string `yaml:"export_path"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout, noop
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".memvault")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Store: StoreConfig{
			Path: filepath.Join(dataDir, "vault.db"),
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			CacheSize: 256,
			RateLimit: RateLimitConfig{
				Enabled: false,
				RPS:     10,
				Burst:   20,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled: true,
			},
		},
		Consolidation: ConsolidationConfig{
			Enabled:  true,
			Schedule: "6h",
			Timeout:  10 * time.Minute,
		},
		Maintenance: MaintenanceConfig{
			StatsSchedule: "24h",
			ExportPath:    filepath.Join(dataDir, "export.json"),
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts
// secrets. A missing file is not an error; defaults plus env overrides are
// used. Failures wrap domain.ErrConfigLoad.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrConfigLoad, err)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("%w: read config: %v", domain.ErrConfigLoad, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve config path: %v", domain.ErrConfigLoad, err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigLoad, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", domain.ErrConfigLoad, err)
	}

	ApplyEnvOverrides(cfg)

	passphrase := os.Getenv("MEMVAULT_CONFIG_KEY")
	if passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("%w: decrypt secrets: %v", domain.ErrConfigLoad, err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigLoad, err)
	}

	return cfg, nil
}

// ApplyEnvOverrides maps MEMVAULT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEMVAULT_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("MEMVAULT_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("MEMVAULT_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("MEMVAULT_EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("MEMVAULT_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("MEMVAULT_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Embedding.Dimensions = n
		}
	}
	if v := os.Getenv("MEMVAULT_CONSOLIDATION_ENABLED"); v != "" {
		cfg.Consolidation.Enabled = v == "true"
	}
	if v := os.Getenv("MEMVAULT_CONSOLIDATION_SCHEDULE"); v != "" {
		cfg.Consolidation.Schedule = v
	}
	if v := os.Getenv("MEMVAULT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("MEMVAULT_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("MEMVAULT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("MEMVAULT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// Validate checks the configuration for inconsistencies.
func Validate(cfg *Config) error {
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}

	switch cfg.Embedding.Provider {
	case "", "ollama", "openai", "gemini", "none":
	default:
		return fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Dimensions < 0 {
		return fmt.Errorf("embedding.dimensions must not be negative")
	}
	if cfg.Embedding.RateLimit.Enabled && cfg.Embedding.RateLimit.RPS <= 0 {
		return fmt.Errorf("embedding.rate_limit.rps must be positive when enabled")
	}

	if cfg.Consolidation.Enabled && cfg.Consolidation.Schedule == "" {
		return fmt.Errorf("consolidation.schedule must be set when enabled")
	}
	if cfg.Maintenance.ExportSchedule != "" && cfg.Maintenance.ExportPath == "" {
		return fmt.Errorf("maintenance.export_path must be set when export is scheduled")
	}

	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown logger level %q", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown logger format %q", cfg.Logger.Format)
	}

	switch cfg.Tracer.Exporter {
	case "", "stdout", "noop":
	default:
		return fmt.Errorf("unknown tracer exporter %q", cfg.Tracer.Exporter)
	}

	return nil
}

// decryptSecrets finds "enc:..." values and decrypts them in place.
func decryptSecrets(cfg *Config, passphrase string) error {
	if strings.HasPrefix(cfg.Embedding.APIKey, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Embedding.APIKey, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("embedding api_key: %w", err)
		}
		cfg.Embedding.APIKey = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
