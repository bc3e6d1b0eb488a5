package config

import (
	"github.com/allaspectsdev/pdfxtract/internal/cache"
	"github.com/allaspectsdev/pdfxtract/internal/pattern"
	"github.com/allaspectsdev/pdfxtract/internal/structmatch"
	"github.com/allaspectsdev/pdfxtract/internal/template"
)

// DefaultBindAddress is the default bind address (localhost only for security).
const DefaultBindAddress = "127.0.0.1"

// DefaultPort is the default port for the extraction HTTP server.
const DefaultPort = 8080

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.pdfxtract"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "pdfxtract.toml"

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 10

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
// Set high to accommodate large PDFs and a slow LLM round trip.
const DefaultWriteTimeout = 120

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultMaxBodySize is the default maximum request body size in bytes (32 MB).
const DefaultMaxBodySize = 32 << 20

// DefaultLLMAPIBase is the default extraction LLM endpoint.
const DefaultLLMAPIBase = "https://api.openai.com"

// DefaultLLMModel is the default extraction LLM model.
const DefaultLLMModel = "gpt-4o-mini"

// DefaultLLMKeyRef is the default credential reference, resolved through
// internal/vault.
const DefaultLLMKeyRef = "keyring://pdfxtract/llm"

// DefaultLLMTimeout is the default LLM call timeout in seconds.
const DefaultLLMTimeout = 60

// DefaultTokeniserTimeout is the default external tokeniser timeout in seconds.
const DefaultTokeniserTimeout = 30

// DefaultRetentionDays is the default number of days Store.Prune retains
// cache rows and extraction audit records.
const DefaultRetentionDays = 30

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "otlp-grpc"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "pdfxtract"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// DefaultTokeniserCommand is the default external PDF tokeniser invocation.
var DefaultTokeniserCommand = []string{"pdftotext-json"}

// DefaultConfig returns a Config populated with all default values. The
// numeric learning thresholds default to exactly the values the
// respective packages already use as package-level constants, so running
// with no config file at all reproduces today's fixed behaviour.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:  DefaultBindAddress,
			Port:         DefaultPort,
			LogLevel:     DefaultLogLevel,
			DataDir:      DefaultDataDir,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
		},
		LLM: LLMConfig{
			APIBase: DefaultLLMAPIBase,
			Model:   DefaultLLMModel,
			KeyRef:  DefaultLLMKeyRef,
			Timeout: DefaultLLMTimeout,
		},
		Tokeniser: TokeniserConfig{
			Command: append([]string{}, DefaultTokeniserCommand...),
			Timeout: DefaultTokeniserTimeout,
		},
		Cache: CacheConfig{
			L1Max: cache.DefaultL1Max,
		},
		Template: TemplateConfig{
			MinSaveConfidence: template.MinSaveConfidence,
			MatureThreshold:   template.MatureThreshold,
			JaccardThreshold:  structmatch.DefaultJaccardThreshold,
		},
		Pattern: PatternConfig{
			YTolerance:            pattern.DefaultYTolerance,
			XTolerance:            pattern.DefaultXTolerance,
			AllowSubstringAnchors: true,
		},
		Pipeline: PipelineConfig{
			FailClosedOnUnparseableLLM: false,
			RetentionDays:              DefaultRetentionDays,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
			Insecure:    false,
		},
	}
}
