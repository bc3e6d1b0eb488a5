package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for pdfxtract.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    toml:"server"`
	LLM       LLMConfig       `mapstructure:"llm"       toml:"llm"`
	Tokeniser TokeniserConfig `mapstructure:"tokeniser" toml:"tokeniser"`
	Cache     CacheConfig     `mapstructure:"cache"     toml:"cache"`
	Template  TemplateConfig  `mapstructure:"template"  toml:"template"`
	Pattern   PatternConfig   `mapstructure:"pattern"   toml:"pattern"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"  toml:"pipeline"`
	Tracing   TracingConfig   `mapstructure:"tracing"   toml:"tracing"`
}

// ServerConfig holds the core HTTP server settings.
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address" toml:"bind_address"`
	Port        int    `mapstructure:"port"         toml:"port"`
	LogLevel    string `mapstructure:"log_level"    toml:"log_level"`
	DataDir     string `mapstructure:"data_dir"     toml:"data_dir"`
	ReadTimeout int    `mapstructure:"read_timeout"  toml:"read_timeout"`  // seconds
	WriteTimeout int   `mapstructure:"write_timeout" toml:"write_timeout"` // seconds
	IdleTimeout int    `mapstructure:"idle_timeout"  toml:"idle_timeout"`  // seconds
	MaxBodySize int64  `mapstructure:"max_body_size" toml:"max_body_size"` // bytes
}

// LLMConfig holds the extraction LLM's connection settings. The API key
// itself never lives here; it is resolved at startup through KeyRef via
// internal/vault.
type LLMConfig struct {
	APIBase string `mapstructure:"api_base" toml:"api_base"`
	Model   string `mapstructure:"model"    toml:"model"`
	KeyRef  string `mapstructure:"key_ref"  toml:"key_ref"`
	Timeout int    `mapstructure:"timeout"  toml:"timeout"` // seconds
}

// TokeniserConfig configures the external tool the ExecTokeniser shells
// out to.
type TokeniserConfig struct {
	Command []string `mapstructure:"command" toml:"command"`
	Timeout int      `mapstructure:"timeout" toml:"timeout"` // seconds
}

// CacheConfig controls the tiered cache's sizing.
type CacheConfig struct {
	L1Max int `mapstructure:"l1_max" toml:"l1_max"`
}

// TemplateConfig controls the Template Store and Orchestrator thresholds:
// rule persistence, template maturity and structural similarity.
type TemplateConfig struct {
	MinSaveConfidence float64 `mapstructure:"min_save_confidence" toml:"min_save_confidence"`
	MatureThreshold   int     `mapstructure:"mature_threshold"    toml:"mature_threshold"`
	JaccardThreshold  float64 `mapstructure:"jaccard_threshold"   toml:"jaccard_threshold"`
}

// PatternConfig controls the row/column tolerances the Pattern Builder
// and row-grouping tokeniser helper use to locate anchors.
type PatternConfig struct {
	YTolerance            float64 `mapstructure:"y_tol"                   toml:"y_tol"`
	XTolerance            float64 `mapstructure:"x_tol"                   toml:"x_tol"`
	AllowSubstringAnchors bool    `mapstructure:"allow_substring_anchors" toml:"allow_substring_anchors"`
}

// PipelineConfig controls Extractor-level policy decisions.
type PipelineConfig struct {
	// FailClosedOnUnparseableLLM, when true, makes an unparseable LLM
	// response surface as an UpstreamFailure instead of being recovered
	// to an all-null result. Defaults to false (spec-compatible).
	FailClosedOnUnparseableLLM bool `mapstructure:"fail_closed_on_unparseable_llm" toml:"fail_closed_on_unparseable_llm"`

	// RetentionDays controls how far back Store.Prune reaches when
	// clearing old cache rows and extraction audit records.
	RetentionDays int `mapstructure:"retention_days" toml:"retention_days"`
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`     // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`     // e.g. "localhost:4317"
	ServiceName string  `mapstructure:"service_name" toml:"service_name"` // defaults to "pdfxtract"
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`  // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`     // skip TLS for dev
}

// CacheDBPath returns the path of the durable Tier-2/3 SQLite database
// under the configured data directory.
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.Server.DataDir, "cache.db")
}

// TemplateDBPath returns the path of the template SQLite database under
// the configured data directory.
func (c *Config) TemplateDBPath() string {
	return filepath.Join(c.Server.DataDir, "templates.db")
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (PDFXTRACT_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.pdfxtract/pdfxtract.toml
//  4. ./pdfxtract.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// Set all defaults from the default config so viper knows every key.
	setViperDefaults(v)

	// Environment variable overlay: PDFXTRACT_SERVER_PORT etc.
	v.SetEnvPrefix("PDFXTRACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Determine which file(s) to read.
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".pdfxtract"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("pdfxtract")
	}

	if err := v.ReadInConfig(); err != nil {
		// If no config file exists we still proceed with defaults + env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Store the resolved config file path.
	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Expand ~ in data_dir.
	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration file to ~/.pdfxtract/pdfxtract.toml.
// If the file already exists it is not overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".pdfxtract")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := DefaultConfig()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ExportConfig writes the current config to the given path in TOML format.
func ExportConfig(path string) error {
	cfg := Get()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ImportConfig reads a TOML config file and merges it into the current config.
// The imported config is also persisted to the active config file so changes
// survive restarts.
func ImportConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return err
	}
	set(cfg)

	// Persist to the active config file so changes survive restart.
	if dest := ConfigFilePath(); dest != "" {
		out, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config for persistence: %w", err)
		}
		if err := os.WriteFile(dest, out, 0o600); err != nil {
			return fmt.Errorf("persisting imported config: %w", err)
		}
	}

	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every known key with viper so that env var binding
// works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.bind_address", d.Server.BindAddress)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)

	v.SetDefault("llm.api_base", d.LLM.APIBase)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.key_ref", d.LLM.KeyRef)
	v.SetDefault("llm.timeout", d.LLM.Timeout)

	v.SetDefault("tokeniser.command", d.Tokeniser.Command)
	v.SetDefault("tokeniser.timeout", d.Tokeniser.Timeout)

	v.SetDefault("cache.l1_max", d.Cache.L1Max)

	v.SetDefault("template.min_save_confidence", d.Template.MinSaveConfidence)
	v.SetDefault("template.mature_threshold", d.Template.MatureThreshold)
	v.SetDefault("template.jaccard_threshold", d.Template.JaccardThreshold)

	v.SetDefault("pattern.y_tol", d.Pattern.YTolerance)
	v.SetDefault("pattern.x_tol", d.Pattern.XTolerance)
	v.SetDefault("pattern.allow_substring_anchors", d.Pattern.AllowSubstringAnchors)

	v.SetDefault("pipeline.fail_closed_on_unparseable_llm", d.Pipeline.FailClosedOnUnparseableLLM)
	v.SetDefault("pipeline.retention_days", d.Pipeline.RetentionDays)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
