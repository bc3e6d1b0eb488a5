package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}
	if cfg.Server.MaxBodySize <= 0 {
		errs = append(errs, fmt.Sprintf("server.max_body_size must be positive, got %d", cfg.Server.MaxBodySize))
	}

	if cfg.LLM.APIBase == "" {
		errs = append(errs, "llm.api_base must not be empty")
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, "llm.model must not be empty")
	}
	if cfg.LLM.KeyRef == "" {
		errs = append(errs, "llm.key_ref must not be empty")
	}
	if cfg.LLM.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("llm.timeout must be positive, got %d", cfg.LLM.Timeout))
	}

	if len(cfg.Tokeniser.Command) == 0 {
		errs = append(errs, "tokeniser.command must not be empty")
	}
	if cfg.Tokeniser.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("tokeniser.timeout must be positive, got %d", cfg.Tokeniser.Timeout))
	}

	if cfg.Cache.L1Max < 1 {
		errs = append(errs, fmt.Sprintf("cache.l1_max must be at least 1, got %d", cfg.Cache.L1Max))
	}

	if cfg.Template.MinSaveConfidence < 0 || cfg.Template.MinSaveConfidence > 1 {
		errs = append(errs, fmt.Sprintf("template.min_save_confidence must be between 0 and 1, got %f", cfg.Template.MinSaveConfidence))
	}
	if cfg.Template.MatureThreshold < 1 {
		errs = append(errs, fmt.Sprintf("template.mature_threshold must be at least 1, got %d", cfg.Template.MatureThreshold))
	}
	if cfg.Template.JaccardThreshold < 0 || cfg.Template.JaccardThreshold > 1 {
		errs = append(errs, fmt.Sprintf("template.jaccard_threshold must be between 0 and 1, got %f", cfg.Template.JaccardThreshold))
	}

	if cfg.Pattern.YTolerance < 0 {
		errs = append(errs, fmt.Sprintf("pattern.y_tol must be non-negative, got %f", cfg.Pattern.YTolerance))
	}
	if cfg.Pattern.XTolerance < 0 {
		errs = append(errs, fmt.Sprintf("pattern.x_tol must be non-negative, got %f", cfg.Pattern.XTolerance))
	}

	if cfg.Pipeline.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("pipeline.retention_days must be at least 1, got %d", cfg.Pipeline.RetentionDays))
	}

	if cfg.Tracing.Enabled {
		validExporters := []string{"stdout", "otlp-grpc", "otlp-http"}
		if !isValidEnum(cfg.Tracing.Exporter, validExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", validExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %f", cfg.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
