package daemon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/pdfxtract/internal/cache"
	"github.com/allaspectsdev/pdfxtract/internal/config"
	"github.com/allaspectsdev/pdfxtract/internal/httpapi"
	"github.com/allaspectsdev/pdfxtract/internal/llmclient"
	"github.com/allaspectsdev/pdfxtract/internal/pattern"
	"github.com/allaspectsdev/pdfxtract/internal/pipeline"
	"github.com/allaspectsdev/pdfxtract/internal/store"
	"github.com/allaspectsdev/pdfxtract/internal/structmatch"
	"github.com/allaspectsdev/pdfxtract/internal/template"
	"github.com/allaspectsdev/pdfxtract/internal/tokeniser"
	"github.com/allaspectsdev/pdfxtract/internal/tracing"
	"github.com/allaspectsdev/pdfxtract/internal/vault"
	"github.com/allaspectsdev/pdfxtract/internal/version"
)

// Run is the main daemon orchestrator. It initialises all subsystems,
// starts the extraction HTTP server, and blocks until a shutdown signal
// is received.
func Run(cfg *config.Config, foreground bool) error {
	// 1. Set up zerolog logger.
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	zerolog.SetGlobalLevel(logLevel)

	writers := []io.Writer{}

	// Always log to file.
	logPath := filepath.Join(dataDir, "pdfxtract.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()
	writers = append(writers, logFile)

	// If foreground, also write to stdout with console formatting.
	if foreground {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
		writers = append(writers, consoleWriter)
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "pdfxtract").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("pdfxtract starting")

	// 2. Check if already running.
	if IsRunning(dataDir) {
		return fmt.Errorf("pdfxtract is already running (PID file exists at %s)", filepath.Join(dataDir, pidFilename))
	}

	// 3. Open the durable cache/audit store.
	st, err := store.Open(cfg.CacheDBPath())
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	log.Info().Str("db_path", cfg.CacheDBPath()).Msg("store opened")

	// 4. Open the template store.
	tplStore, err := template.Open(cfg.TemplateDBPath())
	if err != nil {
		return fmt.Errorf("opening template store: %w", err)
	}
	defer tplStore.Close()
	tplStore.SetMatureThreshold(cfg.Template.MatureThreshold)
	log.Info().Str("db_path", cfg.TemplateDBPath()).Msg("template store opened")

	// 5. Write PID file.
	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()
	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	// 6. Start config watcher.
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}

	var watcher *config.Watcher
	if _, statErr := os.Stat(configFile); statErr == nil {
		w, watchErr := config.Watch(configFile)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			watcher = w
			defer watcher.Close()
			watcher.OnChange(func(old, newCfg *config.Config) {
				log.Info().Msg("configuration reloaded")
				zerolog.SetGlobalLevel(parseLogLevel(newCfg.Server.LogLevel))
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	// 7. Start periodic data pruning.
	pruneCtx, pruneCancel := context.WithCancel(context.Background())
	defer pruneCancel()
	prunerDone := make(chan struct{})
	go func() {
		defer close(prunerDone)
		runPruner(pruneCtx, st, cfg.Pipeline.RetentionDays)
	}()

	// 8. Start distributed tracing, if enabled.
	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.Init(
			context.Background(),
			cfg.Tracing.ServiceName,
			version.Version,
			cfg.Tracing.Exporter,
			cfg.Tracing.Endpoint,
			cfg.Tracing.SampleRate,
			cfg.Tracing.Insecure,
		)
		if err != nil {
			log.Warn().Err(err).Msg("failed to start tracing; continuing without it")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("tracing shutdown error")
				}
			}()
			log.Info().Str("exporter", cfg.Tracing.Exporter).Str("endpoint", cfg.Tracing.Endpoint).Msg("tracing initialised")
		}
	}

	// 9. Resolve the extraction LLM's API key and build its client.
	v := vault.New()
	apiKey, err := v.ResolveKeyRef(cfg.LLM.KeyRef)
	if err != nil {
		log.Warn().Err(err).Msg("failed to resolve LLM API key; extraction will fail until one is configured")
	}
	llm := llmclient.New(cfg.LLM.APIBase, cfg.LLM.Model, apiKey)

	// 10. Wire the tiered cache.
	cacheMgr, err := cache.NewManager(cache.NewStoreAdapter(st), cfg.Cache.L1Max)
	if err != nil {
		return fmt.Errorf("creating cache manager: %w", err)
	}

	// 11. Wire the Template Orchestrator.
	matcher := structmatch.New(structmatch.KnownLabels)

	builder := pattern.New()
	builder.YTolerance = cfg.Pattern.YTolerance
	builder.XTolerance = cfg.Pattern.XTolerance
	builder.AllowSubstringAnchors = cfg.Pattern.AllowSubstringAnchors

	orch := template.NewOrchestrator(tplStore, matcher, builder)
	orch.SetJaccardThreshold(cfg.Template.JaccardThreshold)
	orch.SetMinSaveConfidence(cfg.Template.MinSaveConfidence)

	// 12. Wire the external tokeniser.
	tok := tokeniser.NewExecTokeniser(cfg.Tokeniser.Command)

	// 13. Assemble the Extractor.
	extractor := pipeline.New(cacheMgr, tok, orch, llm)
	extractor.SetFailClosedOnUnparseableLLM(cfg.Pipeline.FailClosedOnUnparseableLLM)

	// 14. Build the HTTP handler and server.
	handler := httpapi.NewHandler(extractor, cacheMgr, orch, log.Logger, cfg.Server.MaxBodySize, func(ctx context.Context) error {
		if err := st.Ping(); err != nil {
			return fmt.Errorf("store: %w", err)
		}
		if err := tplStore.Ping(); err != nil {
			return fmt.Errorf("template store: %w", err)
		}
		return nil
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	readTimeout := time.Duration(cfg.Server.ReadTimeout) * time.Second
	writeTimeout := time.Duration(cfg.Server.WriteTimeout) * time.Second
	idleTimeout := time.Duration(cfg.Server.IdleTimeout) * time.Second
	srv := httpapi.NewServer(handler, addr, readTimeout, writeTimeout, idleTimeout, cfg.Tracing.Enabled)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("extraction server starting")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("extraction server: %w", err)
		}
	}()

	log.Info().Str("addr", addr).Msg("pdfxtract is ready")

	if foreground {
		fmt.Printf("\n  pdfxtract is running!\n")
		fmt.Printf("  Extraction API: http://%s\n\n", addr)
	}

	// 15. Wait for shutdown signal or fatal error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		return err
	}

	// 16. Graceful shutdown with 30-second timeout.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down server...")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("extraction server shutdown error")
	}

	// 17. Clean up: wait for the pruner before closing the stores.
	pruneCancel()
	<-prunerDone
	tplStore.Close()
	st.Close()
	if err := RemovePID(dataDir); err != nil {
		log.Error().Err(err).Msg("failed to remove PID file during shutdown")
	}

	log.Info().Msg("pdfxtract stopped")
	return nil
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := expandHome(config.Get().Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("pdfxtract does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		// Stale PID file; clean it up.
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("pdfxtract is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to pdfxtract (PID %d)\n", pid)

	// Wait briefly for the process to exit.
	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}

	return nil
}

// Status checks if the daemon is running and prints a summary fetched
// from its /stats endpoint.
func Status() error {
	cfg := config.Get()
	dataDir := expandHome(cfg.Server.DataDir)

	if !IsRunning(dataDir) {
		fmt.Println("pdfxtract is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("pdfxtract is running (PID %d)\n", pid)

	statsURL := fmt.Sprintf("http://%s:%d/stats", cfg.Server.BindAddress, cfg.Server.Port)
	client := &http.Client{Timeout: 3 * time.Second}

	resp, err := client.Get(statsURL)
	if err != nil {
		fmt.Println("  (extraction server unreachable)")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		return nil
	}

	fmt.Printf("\n%s\n", string(body))
	return nil
}

// runPruner periodically prunes cache rows and extraction audit records
// older than retentionDays from the store.
func runPruner(ctx context.Context, st *store.Store, retentionDays int) {
	if retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Msg("data pruner: recovered from panic")
					}
				}()
				n, err := st.Prune(retentionDays)
				if err != nil {
					log.Error().Err(err).Msg("data pruning failed")
				} else if n > 0 {
					log.Info().Int64("rows", n).Int("retention_days", retentionDays).Msg("pruned old data")
				}
			}()
		}
	}
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
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
