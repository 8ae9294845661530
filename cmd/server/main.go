package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campusbook/internal/access"
	"campusbook/internal/booking"
	"campusbook/internal/config"
	"campusbook/internal/conflict"
	"campusbook/internal/database"
	"campusbook/internal/facility"
	"campusbook/internal/metrics"
	"campusbook/internal/notify"
	"campusbook/internal/reminder"
	"campusbook/internal/report"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const facilitiesPollInterval = 30 * time.Second

// app holds the wired booking core.
type app struct {
	cfg *config.Config
	db  *database.DB
	rdb *redis.Client
	loc *time.Location
	// engine is the booking surface handed to the API layer that embeds this core.
	engine     *booking.Engine
	registry   *facility.Registry
	reporter   *report.Reporter
	dispatcher *notify.Dispatcher
	logger     *zerolog.Logger
}

func main() {
	configPath := flag.String("config", os.Getenv("CAMPUSBOOK_CONFIG_PATH"), "path to config.yaml")
	exportPath := flag.String("export-utilization", "", "write a utilization workbook to this path and exit")
	from := flag.String("from", "", "report window start, YYYY-MM-DD")
	to := flag.String("to", "", "report window end (exclusive), YYYY-MM-DD")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootstrap := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootstrap.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)

	a, err := newApp(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *exportPath != "" {
		if err := a.exportUtilization(ctx, *exportPath, *from, *to); err != nil {
			logger.Fatal().Err(err).Msg("utilization export failed")
		}
		return
	}

	a.run(ctx)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil || cfg.Logging.Level == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Logging.Console {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		logger = zerolog.New(output)
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Str("service", "campusbook").Logger()
}

func newApp(cfg *config.Config, logger *zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, db: db, loc: loc, logger: logger}

	var locker booking.Locker = booking.NewKeyedMutex()
	if cfg.Redis.Address != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		locker = booking.NewFailoverLocker(booking.NewRedisLocker(a.rdb, cfg.LockTTL()), locker, logger)
		logger.Info().Str("address", cfg.Redis.Address).Msg("Using redis facility locks")
	}

	a.dispatcher = notify.NewDispatcher(notify.DispatcherConfig{
		QueueSize:     cfg.Notifications.QueueSize,
		RatePerSecond: cfg.Notifications.RatePerSecond,
		Burst:         cfg.Notifications.Burst,
		MaxRetries:    cfg.Notifications.MaxRetries,
		RetryDelay:    cfg.RetryDelay(),
	}, logger)
	if err := a.registerSinks(context.Background()); err != nil {
		a.close()
		return nil, err
	}

	authz := access.NewService(cfg.Admins, logger)
	a.engine = booking.NewEngine(db, locker, authz, a.dispatcher, booking.Options{
		MinAdvance: cfg.BookingMinAdvance(),
		MaxAdvance: cfg.BookingMaxAdvance(),
		Location:   loc,
	}, logger)
	a.registry = facility.NewRegistry(db, locker, logger)
	a.reporter = report.NewReporter(db, loc, logger)

	return a, nil
}

func (a *app) registerSinks(ctx context.Context) error {
	a.dispatcher.Register(notify.NewLogSink(a.logger))

	if a.cfg.Monitoring.PrometheusEnabled {
		a.dispatcher.Register(notify.NewMetricsSink())
	}

	tg := a.cfg.Notifications.Telegram
	if tg.BotToken != "" {
		bot, err := notify.NewTelegramBot(tg.BotToken)
		if err != nil {
			return err
		}
		a.dispatcher.Register(notify.NewTelegramSink(bot, tg.ChatIDs, a.loc, a.logger), notify.AllEventTypes...)
		a.logger.Info().Str("bot", bot.Self.UserName).Int("recipients", len(tg.ChatIDs)).Msg("Telegram notifications enabled")
	}

	cal := a.cfg.Notifications.Calendar
	if cal.CalendarID != "" && cal.CredentialsFile != "" {
		client, err := notify.NewGoogleCalendar(ctx, cal.CredentialsFile)
		if err != nil {
			return err
		}
		a.dispatcher.Register(notify.NewCalendarSink(client, cal.CalendarID, a.logger), notify.BookingApproved)
		a.logger.Info().Str("calendar_id", cal.CalendarID).Msg("Calendar mirroring enabled")
	}
	return nil
}

func (a *app) run(ctx context.Context) {
	a.dispatcher.Start(context.Background())

	err := config.WatchFacilities(ctx, a.cfg.FacilitiesFile, facilitiesPollInterval, func(fc *config.FacilitiesConfig) {
		if _, err := a.registry.SyncFromConfig(ctx, fc); err != nil {
			a.logger.Error().Err(err).Msg("Facility sync failed")
		}
	}, func(err error) {
		a.logger.Warn().Err(err).Str("path", a.cfg.FacilitiesFile).Msg("Ignoring invalid facilities file")
	})
	if err != nil {
		a.logger.Warn().Err(err).Str("path", a.cfg.FacilitiesFile).Msg("Facilities file not applied")
	}

	go database.NewBackupService(a.db, a.cfg.Backup, a.logger).Start(ctx)

	go reminder.NewScheduler(reminder.Config{
		Lead:          a.cfg.ReminderLead(),
		CheckInterval: a.cfg.ReminderCheckInterval(),
	}, a.db, a.dispatcher, a.logger).Start(ctx)

	go startHealthServer(ctx, a.cfg.Monitoring.HealthCheckPort, a.ready, a.logger)

	if a.cfg.Monitoring.GRPCHealthPort > 0 {
		go startGRPCHealthServer(ctx, a.cfg.Monitoring.GRPCHealthPort, a.ready, a.logger)
	}

	if a.cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, a.cfg.Monitoring.PrometheusPort, a.logger)
	}

	a.logger.Info().Msg("campusbook started")
	<-ctx.Done()
	a.logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.dispatcher.Stop(shutdownCtx); err != nil {
		a.logger.Warn().Err(err).Int("pending", a.dispatcher.Pending()).Msg("Notifications left undelivered")
	}
}

// ready reports whether storage and, when configured, redis answer.
func (a *app) ready(ctx context.Context) error {
	if err := a.db.Ping(ctx); err != nil {
		return fmt.Errorf("db not ready: %w", err)
	}
	if a.rdb != nil {
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis not ready: %w", err)
		}
	}
	return nil
}

func (a *app) exportUtilization(ctx context.Context, path, from, to string) error {
	start, err := time.ParseInLocation("2006-01-02", from, a.loc)
	if err != nil {
		return fmt.Errorf("invalid -from: %w", err)
	}
	end, err := time.ParseInLocation("2006-01-02", to, a.loc)
	if err != nil {
		return fmt.Errorf("invalid -to: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := a.reporter.ExportUtilization(ctx, conflict.Interval{Start: start, End: end}, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	a.logger.Info().Str("path", path).Msg("Utilization workbook written")
	return nil
}

func (a *app) close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to close database")
	}
}
