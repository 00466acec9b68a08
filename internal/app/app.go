package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"SeaIndexBridge/internal/config"
	"SeaIndexBridge/internal/infrastructure/analysis"
	"SeaIndexBridge/internal/infrastructure/artifact"
	"SeaIndexBridge/internal/infrastructure/events"
	"SeaIndexBridge/internal/infrastructure/fhir"
	"SeaIndexBridge/internal/infrastructure/httpapi"
	"SeaIndexBridge/internal/infrastructure/scheduler"
	"SeaIndexBridge/internal/infrastructure/smart"
	"SeaIndexBridge/internal/infrastructure/storage"
	"SeaIndexBridge/internal/infrastructure/telegram"
	"SeaIndexBridge/internal/infrastructure/telemetry"
	"SeaIndexBridge/internal/logging"
	"SeaIndexBridge/internal/ports"
	"SeaIndexBridge/internal/usecase"
)

// Options tweak wiring for a single command.
type Options struct {
	// WithoutHistory skips opening the history database.
	WithoutHistory bool
	// Observers are appended after the configured ones.
	Observers []ports.SessionObserver
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg        config.Config
	logger     *slog.Logger
	controller *usecase.Controller
	identity   *smart.StaticProvider
	history    ports.HistoryRepository
	store      ports.FileStore
	metrics    ports.Metrics
	db         *sql.DB
	redis      *events.RedisPublisher
}

// New builds the application from configuration. Optional backends (history
// database, Redis, Telegram, telemetry) are enabled only when configured.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, opts Options) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	a := &Application{cfg: cfg, logger: baseLogger}

	analysisClient := analysis.NewClient(
		analysis.WithBaseURL(cfg.Analysis.BaseURL),
		analysis.WithEndpoints(cfg.Analysis.LoginURL, cfg.Analysis.UploadURL, cfg.Analysis.ScoreURL),
		analysis.WithTimeout(cfg.Analysis.Timeout()),
		analysis.WithLogger(baseLogger.With("component", "analysis")),
	)

	writer, err := fhir.NewWriter(codesFromConfig(cfg.FHIR.Codes), fhir.WithLogger(baseLogger.With("component", "fhir")))
	if err != nil {
		return nil, fmt.Errorf("record writer: %w", err)
	}

	a.identity = smart.NewStaticProvider(smart.Config{
		ServerURL:   cfg.FHIR.ServerURL,
		AccessToken: cfg.FHIR.AccessToken,
		PatientID:   cfg.FHIR.PatientID,
		FHIRUser:    cfg.FHIR.User,
	}, nil, baseLogger.With("component", "identity"))
	if cfg.FHIR.Verify {
		if err := a.identity.Verify(ctx); err != nil {
			baseLogger.Warn("identity.unusable", "error", err)
		}
	}

	if !opts.WithoutHistory && cfg.Database.DSN != "" {
		if err := a.openHistory(ctx); err != nil {
			return nil, err
		}
	}

	if a.store, err = newStore(cfg.Export); err != nil {
		return nil, err
	}

	observers := []ports.SessionObserver{events.NewLogObserver(baseLogger.With("component", "events"))}
	if cfg.Redis.Addr != "" {
		pub, err := events.NewRedisPublisher(ctx, events.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		}, baseLogger.With("component", "events.redis"))
		if err != nil {
			baseLogger.Warn("events.redis.disabled", "error", err)
		} else {
			a.redis = pub
			observers = append(observers, pub)
		}
	}
	if tg := cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		observers = append(observers, telegram.NewNotifier(tg.BotToken, tg.ChatID,
			telegram.WithLogger(baseLogger.With("component", "notify.telegram"))))
	}
	observers = append(observers, opts.Observers...)

	a.metrics = telemetry.NewNoOp()
	if cfg.Telemetry.Enabled {
		exp, err := telemetry.NewExporter(ctx, telemetry.Config{
			Endpoint: cfg.Telemetry.Endpoint,
			Enabled:  cfg.Telemetry.Enabled,
			Insecure: cfg.Telemetry.Insecure,
		})
		if err != nil {
			baseLogger.Warn("telemetry.disabled", "error", err)
		} else {
			a.metrics = exp
		}
	}

	deps := usecase.ControllerDeps{
		Analysis:     analysisClient,
		Records:      writer,
		Identity:     a.identity,
		Metrics:      a.metrics,
		Observers:    []ports.SessionObserver{events.NewFanout(observers...)},
		Waiter:       scheduler.NewIntervalWaiter(cfg.Poll.Interval()),
		Logger:       baseLogger.With("component", "controller"),
		PollAttempts: cfg.Poll.Attempts,
		PollUnit:     cfg.Poll.IntervalSeconds,
	}
	if a.history != nil {
		deps.History = a.history
	}
	a.controller = usecase.NewController(deps)

	return a, nil
}

func (a *Application) openHistory(ctx context.Context) error {
	db, dialect, err := storage.Open(ctx, storage.Config{
		Driver: a.cfg.Database.Driver,
		DSN:    a.cfg.Database.DSN,
	}, a.logger.With("component", "storage"))
	if err != nil {
		return fmt.Errorf("history database: %w", err)
	}
	if err := storage.Migrate(ctx, db, dialect); err != nil {
		_ = db.Close()
		return fmt.Errorf("history migrate: %w", err)
	}
	a.db = db
	a.history = storage.NewHistoryRepository(db, dialect)
	return nil
}

func newStore(cfg config.ExportConfig) (ports.FileStore, error) {
	switch cfg.Backend {
	case "s3":
		if cfg.S3.Bucket == "" {
			return nil, errors.New("export: s3 backend needs a bucket")
		}
		client := artifact.NewS3Client(artifact.S3Config{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		return artifact.NewS3(client, cfg.S3.Bucket, cfg.S3.Prefix), nil
	case "local", "":
		store, err := artifact.NewLocal(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("export dir: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("export: unknown backend %q", cfg.Backend)
	}
}

func codesFromConfig(c config.CodesConfig) fhir.Codes {
	return fhir.Codes{
		Profile:          c.Profile,
		PrimaryCode:      c.PrimaryCode,
		PrimaryDisplay:   c.PrimaryDisplay,
		SecondaryCode:    c.SecondaryCode,
		SecondaryDisplay: c.SecondaryDisplay,
		IndexSystem:      c.IndexSystem,
		IndexCode:        c.IndexCode,
		IndexDisplay:     c.IndexDisplay,
		Text:             c.Text,
	}
}

// Controller exposes the session controller.
func (a *Application) Controller() *usecase.Controller {
	return a.controller
}

// History returns the run history, or nil when no database is configured.
func (a *Application) History() ports.HistoryRepository {
	return a.history
}

// Store returns the artifact store for exports.
func (a *Application) Store() ports.FileStore {
	return a.store
}

// Identity returns the clinical-record launch context.
func (a *Application) Identity() ports.IdentityProvider {
	return a.identity
}

// Login authenticates with the configured credentials unless overridden.
func (a *Application) Login(ctx context.Context, username, password string) error {
	if username == "" {
		username = a.cfg.Analysis.Username
	}
	if password == "" {
		password = a.cfg.Analysis.Password
	}
	return a.controller.Login(ctx, username, password)
}

// Serve runs the HTTP API until ctx is cancelled.
func (a *Application) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	handler := httpapi.NewHandler(a.controller, a.history, a.logger.With("component", "api"))
	router := httpapi.NewRouter(handler, a.logger.With("component", "api"))
	return httpapi.NewServer(addr, router, a.logger).Run(ctx)
}

// Watch processes recordings dropped into dir until ctx is cancelled.
func (a *Application) Watch(ctx context.Context, dir string, interval time.Duration) error {
	if dir == "" {
		dir = a.cfg.Inbox.Dir
	}
	if interval <= 0 {
		interval = a.cfg.Inbox.Interval()
	}

	var export ports.FileStore
	if a.cfg.Inbox.ExportRecords {
		export = a.store
	}
	inbox := usecase.NewInbox(usecase.InboxDeps{
		Driver:     scheduler.NewIntervalScheduler(interval),
		Controller: a.controller,
		Dir:        dir,
		Username:   a.cfg.Analysis.Username,
		Password:   a.cfg.Analysis.Password,
		Export:     export,
		Logger:     a.logger.With("component", "inbox"),
	})
	if err := inbox.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("inbox.watching", "dir", dir, "interval", interval.String())

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return inbox.Stop(stopCtx)
}

// Close flushes telemetry and releases connections.
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	if a.metrics != nil {
		errs = append(errs, a.metrics.Close(ctx))
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
