package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"marketsync/internal/alert"
	"marketsync/internal/api"
	"marketsync/internal/calendar"
	"marketsync/internal/config"
	"marketsync/internal/database"
	"marketsync/internal/domain"
	"marketsync/internal/events"
	"marketsync/internal/export"
	"marketsync/internal/fetcher"
	"marketsync/internal/google"
	"marketsync/internal/health"
	"marketsync/internal/logging"
	"marketsync/internal/metrics"
	"marketsync/internal/models"
	"marketsync/internal/ratelimit"
	"marketsync/internal/repository"
	"marketsync/internal/scheduler"
	"marketsync/internal/service"
	"marketsync/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	if err := seedUniverse(ctx, cfg.Universe.Path, db, logger); err != nil {
		return err
	}

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	bus := events.NewEventBus(logging.Component(logger, "events"))
	events.LogSubscriber(bus, logging.Component(logger, "lifecycle"))

	status := service.NewTaskStatusStore(initStatusRepository(redisClient, logger), logging.Component(logger, "status"))

	cal, err := calendar.New(cfg.Calendar.Holidays)
	if err != nil {
		return fmt.Errorf("init calendar: %w", err)
	}
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}

	source, err := fetcher.New(cfg.Fetcher, logging.Component(logger, "fetcher"))
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}
	limiter := ratelimit.NewFromConfig(cfg.RateLimit)
	exec := worker.NewExecutor(db, cfg.Executor.MaxConcurrent, logging.Component(logger, "executor"))
	syncer := worker.NewSyncer(db, source, limiter, cfg.Executor.BackfillDays)
	runner := worker.NewRunner(
		status,
		bus,
		worker.RetryPolicyFromConfig(cfg.Executor),
		time.Duration(cfg.Executor.TaskTimeoutSeconds)*time.Second,
		logging.Component(logger, "runner"),
	)

	archiver := initArchiveWorker(ctx, cfg, redisClient, logger)
	doctor := health.NewDoctor(
		db,
		exec,
		syncer,
		cal,
		initAlerter(cfg, logger),
		cfg.Health,
		logging.Component(logger, "health"),
		health.WithClock(func() time.Time { return time.Now().In(loc) }),
		health.WithArchiver(archiver),
		health.WithEvents(bus),
	)
	defer doctor.Shutdown()

	registry, err := buildRegistry(cfg, loc, db, exec, syncer, status, doctor)
	if err != nil {
		return err
	}
	sched := scheduler.New(registry, runner, status, logging.Component(logger, "scheduler"))

	svc := service.NewSyncService(ctx, service.SyncServiceDeps{
		Status:  status,
		Runner:  runner,
		Batch:   exec,
		Sync:    syncer.Sync,
		Health:  doctor,
		Store:   db,
		Trigger: sched,
	}, cfg.Executor.OnDemandRPS, cfg.Executor.OnDemandBurst, logging.Component(logger, "service"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup")).Start(ctx)
	}()

	var httpServer *api.HTTPServer
	if cfg.API.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, svc, logging.Component(logger, "http"))
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	logger.Info().Strs("tasks", registry.Names()).Str("timezone", loc.String()).Msg("sync daemon started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	wg.Wait()
	sched.Wait()
	svc.Wait()
	logger.Info().Msg("sync daemon stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, "syncd-main"), closer, nil
}

// seedUniverse upserts the targets listed in path. An empty path keeps
// whatever the database already holds.
func seedUniverse(ctx context.Context, path string, db *database.DB, logger *zerolog.Logger) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error().Err(err).Str("universe_path", path).Msg("read universe")
		return err
	}

	var universe struct {
		Targets []models.Target `yaml:"targets"`
	}
	if err := yaml.Unmarshal(data, &universe); err != nil {
		logger.Error().Err(err).Str("universe_path", path).Msg("parse universe")
		return err
	}

	n, err := db.UpsertTargets(ctx, universe.Targets)
	if err != nil {
		return fmt.Errorf("seed universe: %w", err)
	}
	logger.Info().Int64("targets", n).Msg("universe seeded")
	return nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initStatusRepository(client *redis.Client, logger *zerolog.Logger) domain.StatusRepository {
	ttl := time.Duration(models.DefaultStatusTTL) * time.Second
	memory := repository.NewMemoryStatusRepository(ttl)
	if client == nil {
		return memory
	}
	return repository.NewFailoverStatusRepository(
		repository.NewRedisStatusRepository(client, ttl),
		memory,
		logging.Component(logger, "status-repo"),
	)
}

func initAlerter(cfg *config.Config, logger *zerolog.Logger) domain.Alerter {
	logAlerter := alert.NewLogAlerter(logging.Component(logger, "alert"))
	if cfg.Alert.TelegramToken == "" || cfg.Alert.TelegramChatID == 0 {
		return logAlerter
	}

	bot, err := alert.NewTelegramBot(cfg.Alert.TelegramToken)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, alerts go to the log only")
		return logAlerter
	}
	logger.Info().Str("bot", bot.Self.UserName).Msg("telegram alerts enabled")
	return alert.Multi{logAlerter, alert.NewTelegramAlerter(bot, cfg.Alert.TelegramChatID)}
}

func initArchiveWorker(ctx context.Context, cfg *config.Config, client *redis.Client, logger *zerolog.Logger) *worker.ArchiveWorker {
	sinks := map[string]domain.ReportArchiver{
		"workbook": export.NewWorkbookArchiver(cfg.Exports.Path, logging.Component(logger, "export")),
	}

	if cfg.Google.GoogleCredentialsFile != "" && cfg.Google.ReportSpreadSheetID != "" {
		sheet, err := google.NewReportSheet(ctx, cfg.Google.GoogleCredentialsFile, cfg.Google.ReportSpreadSheetID, cfg.Google.ReportSheetName)
		if err == nil {
			err = sheet.EnsureHeader(ctx)
		}
		if err != nil {
			logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		} else {
			sinks["sheets"] = sheet
			logger.Info().Msg("google sheets connected")
		}
	}

	w := worker.NewArchiveWorker(sinks, client, worker.RetryPolicyFromConfig(cfg.Executor), logging.Component(logger, "archive"))
	go w.Start(ctx)
	return w
}

func buildRegistry(
	cfg *config.Config,
	loc *time.Location,
	db *database.DB,
	exec *worker.Executor,
	syncer *worker.Syncer,
	status domain.StatusTracker,
	doctor *health.Doctor,
) (*scheduler.Registry, error) {
	registry := scheduler.NewRegistry(loc)

	for _, task := range cfg.Scheduler.Tasks {
		schedule, err := scheduler.ScheduleFromConfig(cfg.Scheduler, task)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", task.Name, err)
		}
		fn := worker.SyncTask(exec, syncer, status, task.Name, universeOf(db, task.Categories))
		if err := registry.Register(task.Name, schedule, fn); err != nil {
			return nil, err
		}
	}

	clock, err := config.ParseClock(cfg.Health.Time)
	if err != nil {
		return nil, fmt.Errorf("health.time: %w", err)
	}
	err = registry.Register(models.TaskHealthCheck, scheduler.Schedule{Tier: scheduler.TierDaily, Clock: clock}, doctor.Task())
	if errors.Is(err, scheduler.ErrDuplicateTask) {
		return nil, fmt.Errorf("%s is reserved for the health check", models.TaskHealthCheck)
	}
	if err != nil {
		return nil, err
	}

	return registry, nil
}

// universeOf lists the active targets of categories, all of them when
// categories is empty.
func universeOf(db *database.DB, categories []string) worker.UniverseFunc {
	if len(categories) == 0 {
		categories = []string{models.CategoryStock, models.CategoryETF}
	}
	return func(ctx context.Context) ([]string, error) {
		var targets []string
		for _, category := range categories {
			codes, err := db.ActiveTargets(ctx, category)
			if err != nil {
				return nil, err
			}
			targets = append(targets, codes...)
		}
		return targets, nil
	}
}
