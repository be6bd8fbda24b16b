package main

import (
	"context"
	stdErrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"file-patch-server/internal/config"
	"file-patch-server/internal/filesystem"
	"file-patch-server/internal/lock"
	"file-patch-server/internal/patch"
	"file-patch-server/internal/service"
	"file-patch-server/internal/transport"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		if stdErrors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "file-patch: %v\n\nUsage:\n%s", err, config.Usage())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "file-patch: configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "file-patch: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Application shut down")
}

// newLogger builds a production JSON logger. stdout carries JSON-RPC
// responses in stdio mode, so logs always go to stderr.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build(zap.Fields(zap.String("transport", cfg.Transport)))
}

func logEffectiveConfig(logger *zap.Logger, cfg *config.Config) {
	fields := []zap.Field{
		zap.String("working_directory", cfg.WorkingDirectory),
		zap.Int("max_file_size_mb", cfg.MaxFileSizeMB),
		zap.Int("max_file_lines", cfg.MaxFileLines),
		zap.Int("max_concurrent_ops", cfg.MaxConcurrentOps),
		zap.Int("operation_timeout_sec", cfg.OperationTimeoutSec),
		zap.Float64("fuzzy_threshold", cfg.Patch.FuzzyThreshold),
		zap.Int("buffer_lines", cfg.Patch.BufferLines),
		zap.Float64("min_scan_score", cfg.Patch.MinScanScore),
		zap.Int("max_unanchored_lines", cfg.Patch.MaxUnanchoredLines),
	}
	if cfg.Transport == "http" {
		fields = append(fields, zap.Int("port", cfg.Port))
	}
	if cfg.ConfigFile != "" {
		fields = append(fields, zap.String("config_file", cfg.ConfigFile))
	}
	logger.Info("Effective configuration", fields...)
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logEffectiveConfig(logger, cfg)

	engine, err := patch.New(cfg.Patch, patch.WithLogger(logger.Named("patch")))
	if err != nil {
		return err
	}
	svc, err := service.NewDefaultPatchService(
		filesystem.NewDefaultFileSystemAdapter(),
		lock.NewLockManager(logger.Named("lock")),
		engine,
		cfg,
		logger.Named("service"),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize patch service: %w", err)
	}
	logger.Info("Core services initialized", zap.String("working_directory", svc.WorkingDirectory()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	switch cfg.Transport {
	case "http":
		h := transport.NewHTTPHandler(svc, logger.Named("http"))
		g.Go(func() error {
			return h.StartServer(cfg.Port, cfg.OperationTimeout()+5*time.Second, cfg.OperationTimeout()+5*time.Second)
		})
		g.Go(func() error {
			<-ctx.Done()
			logger.Info("Shutting down HTTP server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout())
			defer cancel()
			return h.Shutdown(shutdownCtx)
		})
	case "stdio":
		h := transport.NewStdioHandler(svc, logger.Named("stdio"))
		g.Go(func() error {
			err := h.Start(ctx, os.Stdin, os.Stdout)
			// EOF on stdin ends the session.
			stop()
			return err
		})
	default:
		return fmt.Errorf("unsupported transport type: %s", cfg.Transport)
	}

	return g.Wait()
}
