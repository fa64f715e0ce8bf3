// Command verdict-engine serves the grading protocol over stdin/stdout as
// NDJSON JSON-RPC 2.0. Stdout carries only protocol lines; logs go to stderr.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/lmittmann/tint"

	"github.com/verdictlabs/verdict/engine/internal/server"
)

const version = "0.3.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("verdict-engine %s\n", version)
		os.Exit(0)
	}

	logLevel := flag.String("log-level", envOr("VERDICT_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	logFormat := flag.String("log-format", envOr("VERDICT_LOG_FORMAT", "text"), "log format: text, json")
	maxConcurrent := flag.Int("max-concurrent", envIntOr("VERDICT_MAX_CONCURRENT", 1), "max requests handled concurrently")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "invalid log level: %s\n", *logLevel)
		os.Exit(1)
	}

	var handler slog.Handler
	switch *logFormat {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	case "text":
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: "2006-01-02 15:04:05",
		})
	default:
		fmt.Fprintf(os.Stderr, "invalid log format: %s\n", *logFormat)
		os.Exit(1)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	srv := server.NewWithConcurrency(os.Stdin, os.Stdout, logger, *maxConcurrent)
	server.RegisterBuiltinHandlers(srv)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("engine starting", "version", version)
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("engine error", "err", err)
		os.Exit(1)
	}
	logger.Info("engine shutdown complete")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
