package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/config"
	migrations "github.com/Ramsey-B/fern/db"
	"github.com/Ramsey-B/fern/pkg/audit"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/redis"
)

const metricsPushTimeout = 10 * time.Second

func newRunCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Merge duplicate prospects",
		Long: `Load every prospect, contact and activity, group duplicates and merge each group into
its elected survivor. Per-record failures are reported and never stop the run.`,
		Example: `  fern run --dry-run
  fern run --rules rules.yaml --report reports/merge.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context(), cmd)
		},
	}

	flags := cmd.Flags()
	flags.Bool("dry-run", false, "print the decision trace without changing the store")
	flags.String("rules", "", "YAML merge rules file (defaults are built in)")
	flags.String("report", "", "write the full JSON report to this path")
	a.bind(cmd, "dry_run", "dry-run")
	a.bind(cmd, "rules_file", "rules")
	a.bind(cmd, "report_file", "report")

	return cmd
}

func (a *app) run(ctx context.Context, cmd *cobra.Command) error {
	cfg := a.cfg
	log := a.logger.WithContext(ctx)

	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		return err
	}

	store, err := a.newStore()
	if err != nil {
		return err
	}

	if cfg.RedisEnabled() && !cfg.DryRun {
		release, err := a.acquireRunLock(ctx)
		if err != nil {
			return err
		}
		defer release()
	}

	m := metrics.New()
	deps := pipeline.Dependencies{
		Store:   store,
		Logger:  a.logger,
		Output:  cmd.OutOrStdout(),
		Metrics: m,
	}

	if cfg.KafkaEnabled() {
		producer := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, a.logger)
		defer func() {
			if err := producer.Close(); err != nil {
				log.WithError(err).Warn("Failed to close Kafka producer")
			}
		}()
		deps.Events = events.NewEmitter(producer, a.logger)
	}

	if cfg.DatabaseEnabled() {
		db, err := a.openJournal(ctx)
		if err != nil {
			log.WithError(err).Warn("Audit journal unavailable, continuing without it")
		} else {
			defer db.Close()
			deps.Journal = audit.NewRepository(db, a.logger)
		}
	}

	_, runErr := pipeline.Run(ctx, pipeline.Options{
		Rules:         rules,
		DryRun:        cfg.DryRun,
		ActivityLimit: cfg.ActivityLimit,
		ReportPath:    cfg.ReportFile,
	}, deps)

	if cfg.MetricsPushURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsPushTimeout)
		defer cancel()
		if err := m.Push(pushCtx, cfg.MetricsPushURL, cfg.MetricsJobName); err != nil {
			log.WithError(err).Warn("Failed to push metrics")
		}
	}

	return runErr
}

// acquireRunLock takes the single-runner lock, keeps it alive for the duration of the run and
// returns its release func.
func (a *app) acquireRunLock(ctx context.Context) (func(), error) {
	client, err := redis.NewClient(ctx, redis.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return nil, err
	}

	lock, err := redis.NewLocker(client, "").Acquire(ctx, redis.RunLockKey, a.cfg.RunLockTTL)
	if err != nil {
		_ = client.Close()
		if errors.Is(err, redis.ErrLockNotAcquired) {
			return nil, fmt.Errorf("another merge run is in progress: %w", err)
		}
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	lock.KeepAlive(ctx)

	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			a.logger.WithContext(ctx).WithError(err).Warnf("Failed to release run lock %s", lock.Key())
		}
		_ = client.Close()
	}, nil
}

func (a *app) openJournal(ctx context.Context) (*database.DatabaseInstance, error) {
	cfg := a.cfg
	db, err := database.Connect(ctx, database.Config{
		Driver:          cfg.DatabaseDriver,
		DSN:             cfg.DatabaseDSN(),
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, a.logger)
	if err != nil {
		return nil, err
	}

	source := migrations.Postgres()
	if cfg.DatabaseMigrationFolderPath != "" {
		source = os.DirFS(cfg.DatabaseMigrationFolderPath)
	}
	migrator := database.NewMigrationService(a.logger, &database.MigrationConfig{
		Source:  source,
		Version: uint(cfg.DatabaseMigrationVersion),
		Force:   cfg.DatabaseMigrationForce,
	})
	if err := migrator.MigratePostgres(db, cfg.DatabaseName); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
