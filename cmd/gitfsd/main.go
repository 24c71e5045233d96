// Command gitfsd mirrors a set of git repositories into the gitfs cache,
// running the update loop on its own schedule, and serves HTTP
// metrics/debug endpoints. File lookups are not served over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/utilitywarehouse/gitfs/pkg/gitfs"
)

var (
	loggerLevel = new(slog.LevelVar)
	logger      *slog.Logger

	levelStrings = map[string]slog.Level{
		"trace": slog.Level(-8),
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
)

func init() {
	loggerLevel.Set(slog.LevelInfo)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: loggerLevel}))
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Error("gitfsd exited with error", "err", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		watchConfig bool
		httpBind    string
		oneTime     bool
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "gitfsd",
		Short: "gitfsd mirrors git repositories into the gitfs cache and keeps them updated",
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, ok := levelStrings[logLevel]; ok {
				loggerLevel.Set(v)
			}
			return run(cmd.Context(), configPath, watchConfig, httpBind, oneTime)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", envString("GITFS_CONFIG", "/etc/gitfs/config.yaml"), "absolute path to the config file")
	cmd.Flags().BoolVar(&watchConfig, "watch-config", envBool("GITFS_WATCH_CONFIG", true), "watch config for changes and log them; changes are not applied until restart")
	cmd.Flags().StringVar(&httpBind, "http-bind-address", envString("GITFS_HTTP_BIND", ":9002"), "address the web server binds to")
	cmd.Flags().BoolVar(&oneTime, "one-time", envBool("GITFS_ONE_TIME", false), "exit after the first update cycle")
	cmd.Flags().StringVar(&logLevel, "log-level", envString("LOG_LEVEL", "info"), "log level")

	return cmd
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func loadConfig(path string) (gitfs.Config, error) {
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return gitfs.Config{}, fmt.Errorf("reading config: %w", err)
	}
	var cfg gitfs.Config
	unknown, err := gitfs.DecodeConfig(viper.AllSettings(), &cfg)
	if err != nil {
		return gitfs.Config{}, fmt.Errorf("parsing config: %w", err)
	}
	for _, key := range unknown {
		logger.Error("ignoring unrecognized config key", "key", key)
	}
	return cfg, nil
}

func run(ctx context.Context, configPath string, watchConfig bool, httpBind string, oneTime bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	gitfs.EnableMetrics("gitfs", registry)

	pool, err := gitfs.New(ctx, cfg, logger.With("component", "gitfs"), nil)
	if err != nil {
		return fmt.Errorf("constructing repo pool: %w", err)
	}

	if _, err := pool.Init(ctx); err != nil {
		return fmt.Errorf("initial repo attach: %w", err)
	}

	// perform the first update in the foreground so readiness reflects a
	// real mirror rather than an empty cache
	if err := pool.Update(ctx); err != nil {
		logger.Error("initial update failed", "err", err)
	}

	if oneTime {
		logger.Info("exiting after first update")
		return nil
	}

	go pool.StartLoop(ctx)

	if watchConfig {
		viper.WatchConfig()
		viper.OnConfigChange(func(in fsnotify.Event) {
			logger.Info("config file changed", "file", in.Name)
		})
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	server := &http.Server{
		Addr:              httpBind,
		Handler:           mux,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       5 * time.Second,
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		logger.Info("starting web server", "addr", httpBind)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server terminated", "err", err)
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown http server", "err", err)
	}
	cancel()

	return nil
}
