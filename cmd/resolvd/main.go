package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"resolvd/internal/config"
	"resolvd/internal/core"
	"resolvd/internal/httpapi"
)

func main() {
	// Flags with environment variable defaults
	defaultAddr := ":8193"
	if v := os.Getenv("RESOLVD_ADDR"); v != "" {
		defaultAddr = v
	}
	addr := flag.String("addr", defaultAddr, "HTTP listen address, e.g. :8193")
	configPath := flag.String("config", os.Getenv("RESOLVD_CONFIG"), "Path to config file (.yaml/.json/.toml)")
	modelsRoot := flag.String("models-root", "", "Override paths.models_root")
	hubToken := flag.String("hub-token", "", "Override catalog_h.token")
	catalogKey := flag.String("catalog-key", "", "Override catalog_c.api_key")
	corsEnabled := flag.Bool("cors-enabled", false, "Enable CORS middleware")
	corsOrigins := flag.String("cors-origins", "*", "Comma-separated allowed CORS origins")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if *modelsRoot != "" {
		cfg.Paths.ModelsRoot = *modelsRoot
	}
	if *hubToken != "" {
		cfg.CatalogH.Token = *hubToken
	}
	if *catalogKey != "" {
		cfg.CatalogC.APIKey = *catalogKey
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	c, err := core.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build core")
	}
	c.Start()
	defer c.Stop()

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetLogger(logger)
	if *corsEnabled {
		httpapi.SetCORSOptions(true,
			strings.Split(*corsOrigins, ","),
			[]string{"GET", "POST", "DELETE", "OPTIONS"},
			[]string{"Accept", "Content-Type", "X-Log-Level"},
		)
	}

	srv := &http.Server{Addr: *addr, Handler: httpapi.NewMux(c)}
	go func() {
		logger.Info().Str("addr", *addr).Str("models_root", cfg.Paths.ModelsRoot).Msg("resolvd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown error")
	}
}
