package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/eternallink/arlink/internal/api"
	"github.com/eternallink/arlink/internal/blobserver"
	"github.com/eternallink/arlink/internal/cache"
	"github.com/eternallink/arlink/internal/config"
	"github.com/eternallink/arlink/internal/database"
	"github.com/eternallink/arlink/internal/logging"
	intOtel "github.com/eternallink/arlink/internal/otel"
	"github.com/eternallink/arlink/internal/playback"
	"github.com/eternallink/arlink/internal/runtime"
	"github.com/eternallink/arlink/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

var errNoRuntime = errors.New("no AR runtime configured (runtime.url)")

// application holds the process-wide services. Commands build what they
// need through its helpers; everything opened is closed by close.
type application struct {
	slogManager *logging.SlogManager
	logger      *slog.Logger
	zlog        zerolog.Logger
	logFile     *os.File
	otel        *intOtel.Provider
	client      *api.Client

	closers []func(context.Context) error
}

var app = &application{slogManager: logging.NewSlogManager()}

func (a *application) setup(ctx context.Context) error {
	cfgErr := config.Load(configDir)
	if cfgErr != nil {
		config.LoadDefaults()
	}
	level := config.GetString("logLevel")
	if logLevel != "" {
		level = logLevel
	}

	var logWriter io.Writer
	if logToFile {
		dir := config.GetString("logsDir")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		path := logging.LogFilePath(dir, "arlink", time.Now())
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		a.logFile = f
		logWriter = f
	}

	oc := config.GetOTelConfig()
	provider, err := intOtel.New(ctx, intOtel.Config{
		Enabled:        oc.Enabled,
		ServiceName:    oc.ServiceName,
		ServiceVersion: Version,
		BatchTimeout:   oc.BatchTimeout,
		LogWriter:      logWriter,
		Endpoint:       oc.Endpoint,
		Insecure:       oc.Insecure,
	})
	var otelLogProvider *sdklog.LoggerProvider
	if err == nil {
		a.otel = provider
		otelLogProvider = provider.LoggerProvider()
	}

	var extra []slog.Handler
	var gelfErr error
	if config.GetBool("graylog.enabled") {
		h, closer, err := logging.NewGELFHandler(config.GetString("graylog.address"), logging.ParseLevel(level))
		if err != nil {
			gelfErr = err
		} else {
			extra = append(extra, h)
			a.closers = append(a.closers, func(context.Context) error { return closer.Close() })
		}
	}

	a.slogManager.Setup(logWriter, level, otelLogProvider, extra...)
	a.logger = a.slogManager.Logger()
	a.zlog = newZerolog(logWriter, level)

	if cfgErr != nil {
		a.logger.Warn("Failed to load config, using defaults!", "error", cfgErr)
	} else {
		a.logger.Debug("Loaded config", "dir", configDir)
	}
	if err != nil {
		a.logger.Error("Failed to initialize OTel provider", "error", err)
	}
	if gelfErr != nil {
		a.logger.Error("Failed to connect Graylog sink", "error", gelfErr)
	}

	ac := config.GetAPIConfig()
	a.client = api.New(ac.BaseURL, ac.Token).WithTimeout(ac.Timeout)
	return nil
}

// newZerolog builds the store-layer logger at the same level as slog.
func newZerolog(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// onClose registers fn to run at shutdown, last registered first.
func (a *application) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *application) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && a.logger != nil {
			a.logger.Warn("Shutdown step failed", "error", err)
		}
	}
	a.closers = nil

	if err := a.slogManager.Flush(ctx); err != nil {
		a.logger.Warn("Failed to flush logs", "error", err)
	}
	if a.otel != nil {
		_ = a.otel.Shutdown(ctx)
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

// videoCache opens the configured store behind a VideoCache.
func (a *application) videoCache() (*cache.VideoCache, error) {
	cc := config.GetCacheConfig()
	if cc.Type == "memory" {
		return cache.NewVideoCache(cache.NewMemoryStore(), a.client, a.logger)
	}

	m := database.NewManager(cc, a.zlog.With().Str("component", "cache").Logger())
	if err := m.Connect(); err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return m.Close() })

	store, err := cache.NewDBStore(m.DB, m.Logger)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Video cache ready", "backend", m.Backend)
	return cache.NewVideoCache(store, a.client, a.logger)
}

// telemetry connects the optional InfluxDB sink. It returns nil when the
// sink is disabled or unusable.
func (a *application) telemetry(ctx context.Context) *telemetry.Manager {
	ic := config.GetInfluxConfig()
	if !ic.Enabled {
		return nil
	}
	backup := filepath.Join(config.GetString("logsDir"), "telemetry.lp.gz")
	if err := os.MkdirAll(filepath.Dir(backup), 0755); err != nil {
		backup = ""
	}
	m := telemetry.NewManager(ic, a.zlog.With().Str("component", "telemetry").Logger(), backup)
	if err := m.Connect(ctx); err != nil {
		a.logger.Warn("Telemetry disabled", "error", err)
		return nil
	}
	a.onClose(func(context.Context) error { return m.Close() })
	return m
}

// player builds the playback stack: cache, blob server, runtime loader.
func (a *application) player(ctx context.Context, surface playback.Surface, tm *telemetry.Manager) (*playback.Player, error) {
	videos, err := a.videoCache()
	if err != nil {
		return nil, err
	}

	pc := config.GetPlaybackConfig()
	blobs := blobserver.New(a.logger)
	if err := blobs.Start(pc.BlobListenAddr); err != nil {
		return nil, err
	}
	a.onClose(blobs.Shutdown)

	rc := config.GetRuntimeConfig()
	factory := func(context.Context) (runtime.Runtime, error) { return nil, errNoRuntime }
	if rc.URL != "" {
		events := logging.NewDispatcherLogger(a.zlog.With().Str("component", "runtime").Logger())
		factory = runtime.DialFactory(rc.URL, a.logger, runtime.WithEventLogger(events))
	}
	loader := runtime.NewLoader(factory, rc.LoadTimeout, a.logger)

	opts := []playback.Option{
		playback.WithLogger(a.logger),
		playback.WithMaxAttempts(pc.MaxRuntimeAttempts),
		playback.WithDebugLogSize(pc.DebugLogSize),
	}
	if tm != nil {
		opts = append(opts, playback.WithReporter(tm))
	}
	p, err := playback.New(loader, videos, blobs, surface, opts...)
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return p.Close() })
	return p, nil
}
