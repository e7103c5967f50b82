package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"gorm.io/gorm"

	"github.com/OCAP2/arena/internal/api"
	"github.com/OCAP2/arena/internal/battle"
	"github.com/OCAP2/arena/internal/config"
	"github.com/OCAP2/arena/internal/dispatcher"
	"github.com/OCAP2/arena/internal/influx"
	"github.com/OCAP2/arena/internal/loader"
	"github.com/OCAP2/arena/internal/logging"
	"github.com/OCAP2/arena/internal/monitor"
	intOtel "github.com/OCAP2/arena/internal/otel"
	"github.com/OCAP2/arena/internal/protocol"
	"github.com/OCAP2/arena/internal/recording"
	"github.com/OCAP2/arena/internal/session"
	"github.com/OCAP2/arena/internal/storage"
	"github.com/OCAP2/arena/internal/worker"
)

type options struct {
	configDir  string
	battlePath string
	seed       int64
	noUpload   bool
}

// closer runs cleanups in reverse order of registration.
type closer struct {
	log *slog.Logger
	fns []func() error
	ids []string
}

func (c *closer) add(name string, fn func() error) {
	c.ids = append(c.ids, name)
	c.fns = append(c.fns, fn)
}

func (c *closer) close() {
	for i := len(c.fns) - 1; i >= 0; i-- {
		if err := c.fns[i](); err != nil && c.log != nil {
			c.log.Warn("cleanup failed", "component", c.ids[i], "error", err)
		}
	}
	c.fns, c.ids = nil, nil
}

func run(ctx context.Context, opts options, stdout io.Writer) error {
	start := time.Now()

	if err := config.Load(opts.configDir); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	}

	sess := session.NewContext()
	cleanup := &closer{}
	defer cleanup.close()

	log, otelProvider, err := setupLogging(sess, start, cleanup)
	if err != nil {
		return err
	}
	cleanup.log = log

	b, err := loader.Load(opts.battlePath, config.GetBattleRules())
	if err != nil {
		return err
	}
	if err := checkEntries(b.Robots); err != nil {
		return err
	}
	rules := b.Rules
	if opts.seed != 0 {
		rules.Seed = opts.seed
	}
	if rules.Seed == 0 {
		rules.Seed = start.UnixNano()
	}
	battleID := uuid.NewString()
	log.Info("Loaded battle file", "path", opts.battlePath, "name", b.Name, "robots", len(b.Robots), "seed", rules.Seed, "battle", battleID)

	// recording sinks
	backend, err := storage.NewBackend(config.GetStorageConfig(), log)
	if err != nil {
		return err
	}
	stream := storage.NewStream(config.GetStreamConfig(), log)

	var samples worker.SampleWriter
	if influxCfg := config.GetInfluxConfig(); influxCfg.Enabled {
		im := influx.NewManager(influxCfg, log)
		if err := im.Connect(ctx); err != nil {
			log.Warn("InfluxDB unavailable, metrics disabled", "error", err)
		} else {
			samples = im
			cleanup.add("influx", im.Close)
		}
	}

	wm := worker.NewManager(worker.Dependencies{Logger: log, Influx: samples}, backend, stream)
	if err := wm.Init(); err != nil {
		return err
	}
	cleanup.add("worker", wm.Close)

	d, err := dispatcher.New(logging.NewDispatcherLogger(log))
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	wm.RegisterHandlers(d)
	cleanup.add("dispatcher", func() error {
		d.Close()
		return nil
	})

	deps := battle.Dependencies{
		Registry:   protocol.NewDefaultRegistry(),
		Dispatcher: d,
		Session:    sess,
		Logger:     log,
		BattleID:   battleID,
	}
	deps.Units = &battle.RobotFactory{
		Registry:    deps.Registry,
		Descriptors: b.Robots,
		Fs:          afero.NewOsFs(),
		DataDir:     config.GetDataDir(),
		Quota:       rules.FileQuota,
		Logger:      log,
	}

	logsDir := config.GetString("logsDir")
	consoles, err := logging.NewConsoles(filepath.Join(logsDir, "robots"))
	if err != nil {
		return fmt.Errorf("creating robot consoles: %w", err)
	}
	deps.Consoles = consoles
	cleanup.add("consoles", consoles.Close)

	if rc := config.GetRecordingConfig(); rc.Enabled {
		j, err := recording.Create(filepath.Join(rc.Dir, recording.FileName(battleID)))
		if err != nil {
			return err
		}
		deps.Journal = j
		cleanup.add("journal", j.Close)
		log.Info("Recording turn journal", "path", j.Path())
	}

	sched, err := battle.New(rules, b.Robots, deps)
	if err != nil {
		return err
	}

	mon := monitor.NewService(monitor.Dependencies{
		Logger:   log,
		Session:  sess,
		Worker:   wm,
		Pending:  pendingOf(backend),
		DB:       dbOf(backend),
		Dir:      logsDir,
		Interval: config.GetMonitorConfig().Interval,
	})
	if err := mon.Start(); err != nil {
		return err
	}
	cleanup.add("monitor", func() error {
		mon.Stop()
		return nil
	})

	results, runErr := sched.Run(ctx)

	// Drain every queued event into the sinks before reading the export.
	d.Close()
	mon.Stop()

	if results != nil {
		printResults(stdout, sched.Battle(), results)
	}
	if runErr != nil {
		return runErr
	}

	if !opts.noUpload {
		upload(ctx, log, wm)
	}

	if otelProvider != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProvider.Flush(flushCtx); err != nil {
			log.Warn("Failed to flush telemetry", "error", err)
		}
	}
	return nil
}

// setupLogging opens the session log, starts OTel when enabled and wires
// the slog fan-out with the optional Graylog handler.
func setupLogging(sess *session.Context, start time.Time, cleanup *closer) (*slog.Logger, *intOtel.Provider, error) {
	logsDir := config.GetString("logsDir")
	level := config.GetString("logLevel")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating logs dir: %w", err)
	}

	logFile, err := os.OpenFile(logging.LogFilePath(logsDir, "arena", start), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	cleanup.add("log file", logFile.Close)

	manager := logging.NewSlogManager()
	manager.SetContextProvider(logging.SessionProvider(sess))

	var provider *intOtel.Provider
	var logProvider *sdklog.LoggerProvider
	if otelCfg := config.GetOTelConfig(); otelCfg.Enabled {
		otelFile, err := os.OpenFile(logging.LogFilePath(logsDir, "otel", start), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening otel log file: %w", err)
		}
		cleanup.add("otel file", otelFile.Close)

		provider, err = intOtel.New(intOtel.Config{
			Enabled:      true,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    otelFile,
			MetricWriter: otelFile,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("starting otel: %w", err)
		}
		logProvider = provider.LoggerProvider()
		cleanup.add("otel", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return provider.Shutdown(ctx)
		})
	}

	var extra []slog.Handler
	if config.GetBool("graylog.enabled") {
		h, w, err := logging.NewGraylogHandler(config.GetString("graylog.address"), level)
		if err != nil {
			return nil, nil, err
		}
		extra = append(extra, h)
		cleanup.add("graylog", w.Close)
	}

	manager.Setup(logFile, level, logProvider, extra...)
	return manager.Logger(), provider, nil
}

func upload(ctx context.Context, log *slog.Logger, wm *worker.Manager) {
	cfg := config.GetResultsConfig()
	if cfg.URL == "" {
		return
	}
	u, ok := wm.Uploadable()
	if !ok || u.GetExportedFilePath() == "" {
		log.Info("Storage produced no export, nothing to upload")
		return
	}

	client := api.New(cfg.URL, cfg.APIKey)
	if err := client.Healthcheck(ctx); err != nil {
		log.Warn("Results server unreachable, keeping the export locally", "error", err, "path", u.GetExportedFilePath())
		return
	}
	if err := client.Upload(ctx, u.GetExportedFilePath(), u.GetExportMetadata()); err != nil {
		log.Error("Upload failed", "error", err, "path", u.GetExportedFilePath())
		return
	}
	log.Info("Uploaded battle", "path", u.GetExportedFilePath())
}

func pendingOf(b storage.Backend) func() int {
	if p, ok := b.(interface{ Pending() int }); ok {
		return p.Pending
	}
	return nil
}

func dbOf(b storage.Backend) *gorm.DB {
	if p, ok := b.(interface{ DB() *gorm.DB }); ok {
		return p.DB()
	}
	return nil
}
