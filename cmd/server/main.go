package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	llamachat "github.com/MegaGrindStone/llama-chat"
	"github.com/MegaGrindStone/llama-chat/internal/handlers"
	"github.com/MegaGrindStone/llama-chat/internal/models"
)

func main() {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("error getting user config dir: %w", err))
		os.Exit(1)
	}

	cfgPath := flag.String("config", filepath.Join(cfgDir, "llamachat", "config.yaml"), "path to the config file")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	logger.Info("Loaded config",
		slog.String("path", *cfgPath),
		slog.String("ollamaHost", cfg.LLM.Host),
		slog.Any("models", cfg.Models))

	llm, err := cfg.LLM.llm(logger)
	if err != nil {
		logger.Error("Failed to create llm client", slog.String("err", err.Error()))
		os.Exit(1)
	}

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 5*time.Second)
	missing, err := llm.Check(checkCtx, cfg.Models)
	checkCancel()
	switch {
	case err != nil:
		logger.Warn("Ollama is not available yet, replies will fail until it is", slog.String("err", err.Error()))
	case len(missing) > 0:
		logger.Warn("Some models are not installed, pull them with `ollama pull`", slog.Any("missing", missing))
	}

	m, err := handlers.NewMain(llm, cfg.sessionOptions(), models.NewRenderer(cfg.CodeStyle), logger)
	if err != nil {
		logger.Error("Failed to create handlers", slog.String("err", err.Error()))
		os.Exit(1)
	}

	// Serve static files
	staticFS, err := fs.Sub(llamachat.StaticFS, "static")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	// Create custom mux
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/stop", m.HandleStop)
	mux.HandleFunc("/sse", m.HandleSSE)

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	go sweepSessions(sweepCtx, m, cfg.SessionTTL)

	srv.RegisterOnShutdown(func() {
		sweepCancel()
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", slog.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}

// sweepSessions periodically drops sessions whose page has been idle for longer than ttl.
func sweepSessions(ctx context.Context, m handlers.Main, ttl time.Duration) {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepSessions(ttl)
		}
	}
}
