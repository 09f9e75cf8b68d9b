package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that reads and writes Go duration strings
// ("30m", "1s"). Bare numbers are taken as seconds.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var secs float64
		if err := json.Unmarshal(data, &secs); err != nil {
			return fmt.Errorf("duration must be a string like \"30s\": %s", data)
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	Pipeline struct {
		TTL              Duration `json:"ttl"`
		SweepInterval    Duration `json:"sweep_interval"`
		MaxAttempts      int      `json:"max_attempts"`
		BaseDelay        Duration `json:"base_delay"`
		MaxDelay         Duration `json:"max_delay"`
		Jitter           float64  `json:"jitter"`
		MaxRegenerations int      `json:"max_regenerations"`
		MaxConcurrent    int      `json:"max_concurrent"`
		MaxVideoDuration Duration `json:"max_video_duration"`
		Categories       []string `json:"categories"`
		ExtraURLPatterns []string `json:"extra_url_patterns"`
		Timeouts         struct {
			Download   Duration `json:"download"`
			Analysis   Duration `json:"analysis"`
			Enrichment Duration `json:"enrichment"`
			Images     Duration `json:"images"`
			Storage    Duration `json:"storage"`
		} `json:"timeouts"`
	} `json:"pipeline"`
	Extraction struct {
		BaseURL      string   `json:"base_url"`
		APIKey       string   `json:"api_key" secret:"true"`
		Format       string   `json:"format"`
		PollInterval Duration `json:"poll_interval"`
		DownloadDir  string   `json:"download_dir"`
	} `json:"extraction"`
	LLM struct {
		BaseURL     string  `json:"base_url"`
		APIKey      string  `json:"api_key" secret:"true"`
		MaxTokens   int     `json:"max_tokens"`
		Temperature float32 `json:"temperature"`
	} `json:"llm"`
	Analysis struct {
		Model string `json:"model"`
	} `json:"analysis"`
	Enrichment struct {
		Model string `json:"model"`
	} `json:"enrichment"`
	Image struct {
		Enabled       bool   `json:"enabled"`
		Model         string `json:"model"`
		Dir           string `json:"dir"`
		MaxImages     int    `json:"max_images"`
		ExcerptTokens int    `json:"excerpt_tokens"`
	} `json:"image"`
	Storage struct {
		// Primary and Fallback name a backend: markdown, sqlite or supabase.
		Primary  string `json:"primary"`
		Fallback string `json:"fallback"`
		Markdown struct {
			Root string `json:"root"`
		} `json:"markdown"`
		SQLite struct {
			Path string `json:"path"`
		} `json:"sqlite"`
		Supabase struct {
			URL    string `json:"url"`
			APIKey string `json:"api_key" secret:"true"`
			Table  string `json:"table"`
		} `json:"supabase"`
	} `json:"storage"`
	Telegram struct {
		Token        string  `json:"token" secret:"true"`
		AllowedUsers []int64 `json:"allowed_users"`
	} `json:"telegram"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Addr    string `json:"addr"`
	} `json:"http"`
	RateLimit struct {
		PerHour  int    `json:"per_hour"`
		RedisURL string `json:"redis_url" secret:"true"`
	} `json:"rate_limit"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".knowledgebot"),
		LogLevel: "info",
	}
	p := &cfg.Pipeline
	p.TTL = Duration(30 * time.Minute)
	p.SweepInterval = Duration(10 * time.Minute)
	p.MaxAttempts = 3
	p.BaseDelay = Duration(time.Second)
	p.MaxDelay = Duration(60 * time.Second)
	p.Jitter = 0.1
	p.MaxRegenerations = 3
	p.MaxConcurrent = 4
	p.MaxVideoDuration = Duration(600 * time.Second)
	p.Timeouts.Download = Duration(300 * time.Second)
	p.Timeouts.Analysis = Duration(180 * time.Second)
	p.Timeouts.Enrichment = Duration(120 * time.Second)
	p.Timeouts.Images = Duration(180 * time.Second)
	p.Timeouts.Storage = Duration(30 * time.Second)

	cfg.Extraction.BaseURL = "http://localhost:8080"
	cfg.Extraction.Format = "best[height<=720]"
	cfg.Extraction.PollInterval = Duration(5 * time.Second)

	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.MaxTokens = 4000
	cfg.LLM.Temperature = 0.3
	cfg.Analysis.Model = "gemini-2.0-flash"
	cfg.Enrichment.Model = "gpt-4o-mini"

	cfg.Image.Model = "gemini-2.0-flash-exp-image-generation"
	cfg.Image.MaxImages = 3
	cfg.Image.ExcerptTokens = 1500

	cfg.Storage.Primary = "markdown"
	cfg.Storage.Supabase.Table = "knowledge_entries"

	cfg.HTTP.Addr = "127.0.0.1:8484"
	cfg.RateLimit.PerHour = 10
	return cfg
}

// Load reads path over the defaults, writing the defaults there first if
// the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	cfg.resolvePaths()
	return cfg, nil
}

// applyEnv overrides from env (highest precedence).
func applyEnv(cfg *Config) {
	set := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	set("KNOWLEDGEBOT_DATA_DIR", &cfg.DataDir)
	set("KNOWLEDGEBOT_LOG_LEVEL", &cfg.LogLevel)
	set("OPENAI_API_KEY", &cfg.LLM.APIKey)
	set("OPENAI_BASE_URL", &cfg.LLM.BaseURL)
	set("EXTRACTION_BASE_URL", &cfg.Extraction.BaseURL)
	set("EXTRACTION_API_KEY", &cfg.Extraction.APIKey)
	set("TELEGRAM_BOT_TOKEN", &cfg.Telegram.Token)
	set("SUPABASE_URL", &cfg.Storage.Supabase.URL)
	set("SUPABASE_KEY", &cfg.Storage.Supabase.APIKey)
	set("REDIS_URL", &cfg.RateLimit.RedisURL)
	if v := os.Getenv("KNOWLEDGEBOT_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.PerHour = n
		}
	}
}

// resolvePaths fills storage paths that default to the data dir.
func (cfg *Config) resolvePaths() {
	if cfg.Storage.Markdown.Root == "" {
		cfg.Storage.Markdown.Root = filepath.Join(cfg.DataDir, "knowledge")
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = filepath.Join(cfg.DataDir, "knowledge.db")
	}
	if cfg.Image.Dir == "" {
		cfg.Image.Dir = filepath.Join(cfg.Storage.Markdown.Root, "images")
	}
}

// JournalDir is where transition journals are written.
func (cfg *Config) JournalDir() string { return filepath.Join(cfg.DataDir, "journal") }

// PIDFile is the daemon's PID file.
func (cfg *Config) PIDFile() string { return filepath.Join(cfg.DataDir, "knowledgebot.pid") }

// LockFile is held by the running daemon.
func (cfg *Config) LockFile() string { return filepath.Join(cfg.DataDir, "knowledgebot.lock") }

// Validate reports settings that would keep serve from starting.
func (cfg *Config) Validate() error {
	var problems []string
	if cfg.Pipeline.SweepInterval.D() <= 0 {
		problems = append(problems, "pipeline.sweep_interval must be positive")
	}
	if cfg.Pipeline.TTL.D() <= 0 {
		problems = append(problems, "pipeline.ttl must be positive")
	}
	if cfg.Pipeline.MaxAttempts < 1 {
		problems = append(problems, "pipeline.max_attempts must be at least 1")
	}
	for _, name := range []string{cfg.Storage.Primary, cfg.Storage.Fallback} {
		switch name {
		case "", "markdown", "sqlite", "supabase":
		default:
			problems = append(problems, fmt.Sprintf("unknown storage backend %q", name))
		}
	}
	if cfg.Storage.Primary == "" {
		problems = append(problems, "storage.primary is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	m, err := ToMap(cfg)
	if err != nil {
		return err
	}
	return writeMap(path, m)
}

func writeMap(path string, m map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into its generic JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns every setting under its dot-separated key, with
// secrets masked when mask is set.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

// GetValue returns the value stored under a dot-separated key. The file is
// created with defaults if missing.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readMap(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under a dot-separated key. Values that parse as
// JSON (numbers, booleans, arrays) are stored typed; anything else is
// stored as a string. The key must name a Config field and the result
// must still decode, so "pipeline.ttl" rejects "soon".
func SetValue(path, key, value string) error {
	if !IsKnownKey(key) {
		return fmt.Errorf("unknown config key: %s", key)
	}
	m, err := readMap(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var typed any
	if err := json.Unmarshal([]byte(value), &typed); err != nil {
		typed = value
	}
	flat := Flatten(m)
	flat[key] = typed
	next := Unflatten(flat)

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := json.Unmarshal(data, &Config{}); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return writeMap(path, next)
}
