package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string

	Store StoreConfig
	LLM   LLMConfig

	// ReferencePolicy is "strict" or "warn".
	ReferencePolicy string
	SaveTimeout     time.Duration

	// AllowedOrigins restricts CORS; empty reflects any origin.
	AllowedOrigins []string
}

type StoreConfig struct {
	Backend     string // memory | postgres | s3
	DatabaseURL string
	S3          S3Config
	CacheTTL    time.Duration
}

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	RPS         float64
	Burst       int
}

// fileConfig is the optional YAML layer named by REFINERY_CONFIG. Every value
// can be overridden by the environment.
type fileConfig struct {
	Port            string   `yaml:"port"`
	Env             string   `yaml:"env"`
	LogLevel        string   `yaml:"log_level"`
	LogFormat       string   `yaml:"log_format"`
	ReferencePolicy string   `yaml:"reference_policy"`
	SaveTimeout     string   `yaml:"save_timeout"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	Store           struct {
		Backend     string `yaml:"backend"`
		DatabaseURL string `yaml:"database_url"`
		CacheTTL    string `yaml:"cache_ttl"`
		S3          struct {
			Endpoint  string `yaml:"endpoint"`
			Region    string `yaml:"region"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
			Bucket    string `yaml:"bucket"`
			UseSSL    *bool  `yaml:"use_ssl"`
		} `yaml:"s3"`
	} `yaml:"store"`
	LLM struct {
		Provider    string   `yaml:"provider"`
		Model       string   `yaml:"model"`
		BaseURL     string   `yaml:"base_url"`
		Temperature *float32 `yaml:"temperature"`
		MaxTokens   int      `yaml:"max_tokens"`
		Timeout     string   `yaml:"timeout"`
		RPS         float64  `yaml:"rps"`
		Burst       int      `yaml:"burst"`
	} `yaml:"llm"`
}

// Load reads .env, the optional YAML file and the environment, then parses
// the command line flags.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(flag.CommandLine, os.Args[1:])
}

// FromEnv is Load without command line parsing, for binaries that own their
// flags.
func FromEnv() (*Config, error) {
	_ = godotenv.Load()
	return load(flag.NewFlagSet("env", flag.ContinueOnError), nil)
}

func load(fs *flag.FlagSet, args []string) (*Config, error) {
	var file fileConfig
	if path := strings.TrimSpace(os.Getenv("REFINERY_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	port := fs.String("port", firstNonEmpty(file.Port, ":8081"), "server port")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := firstNonEmpty(strings.TrimSpace(os.Getenv("APP_ENV")), file.Env, "local")

	cfg := &Config{
		Port:            *port,
		Env:             env,
		LogLevel:        firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), file.LogLevel, "info"),
		LogFormat:       firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_FORMAT")), file.LogFormat, "text"),
		ReferencePolicy: firstNonEmpty(strings.TrimSpace(os.Getenv("REFINERY_REFERENCE_POLICY")), file.ReferencePolicy, "strict"),
		Store:           loadStoreConfig(env, file),
		LLM:             loadLLMConfig(env, file),
		AllowedOrigins:  file.AllowedOrigins,
	}
	if raw := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); raw != "" {
		cfg.AllowedOrigins = splitList(raw)
	}

	var err error
	if cfg.SaveTimeout, err = parseDuration("SAVE_TIMEOUT", firstNonEmpty(os.Getenv("SAVE_TIMEOUT"), file.SaveTimeout), 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.Store.CacheTTL, err = parseDuration("HISTORY_CACHE_TTL", firstNonEmpty(os.Getenv("HISTORY_CACHE_TTL"), file.Store.CacheTTL), 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.LLM.Timeout, err = parseDuration("LLM_TIMEOUT", firstNonEmpty(os.Getenv("LLM_TIMEOUT"), file.LLM.Timeout), 60*time.Second); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadStoreConfig(env string, file fileConfig) StoreConfig {
	if isLocal(env) {
		return localStoreConfig(file)
	}
	fs := file.Store.S3
	useSSL := true
	if fs.UseSSL != nil {
		useSSL = *fs.UseSSL
	}
	return StoreConfig{
		Backend:     firstNonEmpty(strings.TrimSpace(os.Getenv("STORE_BACKEND")), file.Store.Backend, "postgres"),
		DatabaseURL: firstNonEmpty(strings.TrimSpace(os.Getenv("DATABASE_URL")), file.Store.DatabaseURL),
		S3: S3Config{
			Endpoint:  firstNonEmpty(strings.TrimSpace(os.Getenv("REFINERY_S3_ENDPOINT")), fs.Endpoint),
			Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("REFINERY_S3_REGION")), fs.Region, "us-east-1"),
			AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("REFINERY_S3_ACCESS_KEY")), fs.AccessKey),
			SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("REFINERY_S3_SECRET_KEY")), fs.SecretKey),
			Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("REFINERY_S3_BUCKET")), fs.Bucket, "refinery-records"),
			UseSSL:    envBool("REFINERY_S3_USE_SSL", useSSL),
		},
	}
}

func loadLLMConfig(env string, file fileConfig) LLMConfig {
	provider := firstNonEmpty(strings.TrimSpace(os.Getenv("LLM_PROVIDER")), file.LLM.Provider)
	if provider == "" {
		provider = "openai"
		if isLocal(env) && os.Getenv("OPENAI_API_KEY") == "" {
			provider = "fake"
		}
	}
	temperature := float32(0.3)
	if file.LLM.Temperature != nil {
		temperature = *file.LLM.Temperature
	}
	if raw := strings.TrimSpace(os.Getenv("LLM_TEMPERATURE")); raw != "" {
		if v, err := strconv.ParseFloat(raw, 32); err == nil {
			temperature = float32(v)
		}
	}
	return LLMConfig{
		Provider:    provider,
		Model:       firstNonEmpty(strings.TrimSpace(os.Getenv("LLM_MODEL")), file.LLM.Model),
		APIKey:      strings.TrimSpace(os.Getenv("LLM_API_KEY")),
		BaseURL:     firstNonEmpty(strings.TrimSpace(os.Getenv("LLM_BASE_URL")), file.LLM.BaseURL),
		Temperature: temperature,
		MaxTokens:   envInt("LLM_MAX_TOKENS", firstPositive(file.LLM.MaxTokens, 4000)),
		RPS:         envFloat("LLM_RPS", file.LLM.RPS),
		Burst:       envInt("LLM_BURST", file.LLM.Burst),
	}
}

func isLocal(env string) bool {
	return strings.EqualFold(strings.TrimSpace(env), "local")
}

func parseDuration(name, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func envBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func envInt(name string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(name)))
	if err != nil {
		return def
	}
	return v
}

func envFloat(name string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(name)), 64)
	if err != nil {
		return def
	}
	return v
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
