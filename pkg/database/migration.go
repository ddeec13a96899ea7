package database

import (
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
)

// migrationLogger adapts ectologger to migrate.Logger.
type migrationLogger struct {
	ectologger.Logger
}

func (l migrationLogger) Verbose() bool {
	return false
}

func (l migrationLogger) Printf(format string, v ...any) {
	l.Debugf(strings.TrimSuffix(format, "\n"), v...)
}

// MigrationConfig selects the migration set and target version.
type MigrationConfig struct {
	// Source holds NNNNNN_name.up.sql / .down.sql files at its root
	Source fs.FS
	// Version pins the schema version; zero migrates to the latest
	Version uint
	// Force marks the schema clean at this version before migrating; zero disables
	Force int
}

// MigrationService applies the journal schema.
type MigrationService struct {
	config *MigrationConfig
	logger ectologger.Logger
}

func NewMigrationService(logger ectologger.Logger, config *MigrationConfig) *MigrationService {
	return &MigrationService{
		config: config,
		logger: logger,
	}
}

// MigratePostgres applies the migrations to a Postgres database.
func (ms *MigrationService) MigratePostgres(db *DatabaseInstance, databaseName string) error {
	driver, err := postgres.WithInstance(db.DB.DB, &postgres.Config{DatabaseName: databaseName})
	if err != nil {
		return errors.Wrap(err, "failed to create postgres migration driver")
	}
	return ms.Migrate(databaseName, driver)
}

// Migrate applies the configured source to an already opened migrate driver.
func (ms *MigrationService) Migrate(databaseName string, driver database.Driver) error {
	if ms.config.Source == nil {
		return errors.New("no migration source configured")
	}
	latest, err := getLatestVersion(ms.config.Source)
	if err != nil {
		return errors.Wrap(err, "failed to read migrations")
	}

	source, err := iofs.New(ms.config.Source, ".")
	if err != nil {
		return errors.Wrap(err, "failed to open migration source")
	}

	m, err := migrate.NewWithInstance("iofs", source, databaseName, driver)
	if err != nil {
		ms.logger.WithError(err).Error("Failed to create migrate instance")
		return err
	}
	m.Log = migrationLogger{Logger: ms.logger}

	return ms.run(m, latest)
}

func (ms *MigrationService) run(m *migrate.Migrate, latest int) error {
	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			ms.logger.WithError(err).Errorf("Failed to force journal schema to version %d", ms.config.Force)
			return err
		}
	}

	current, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		ms.logger.WithError(err).Warn("Failed to read journal schema version")
	}

	start := time.Now()
	if ms.config.Version != 0 {
		err = m.Migrate(ms.config.Version)
	} else {
		err = m.Up()
	}

	switch {
	case err == nil:
		ms.logger.WithFields(map[string]any{
			"from":     current,
			"duration": time.Since(start).String(),
		}).Infof("Journal schema migrated to version %d", latest)
		return nil
	case errors.Is(err, migrate.ErrNoChange):
		ms.logger.Debugf("Journal schema is at version %d", current)
		return nil
	case current > uint(latest):
		// a newer binary migrated the journal; this one only writes columns it knows
		ms.logger.Warnf("Journal schema version %d is ahead of this binary (%d), continuing", current, latest)
		return nil
	}

	version, dirty, _ := m.Version()
	ms.logger.WithError(err).Errorf("Failed to migrate journal schema (version %d, dirty=%t)", version, dirty)
	return errors.Wrap(err, "failed to apply migrations")
}

var migrationFilePattern = regexp.MustCompile(`^(\d+)_.*\.up\.sql$`)

// getLatestVersion returns the highest up-migration version in fsys.
func getLatestVersion(fsys fs.FS) (int, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return 0, err
	}

	var versions []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationFilePattern.FindStringSubmatch(entry.Name())
		if len(matches) < 2 {
			continue
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil {
			return 0, err
		}
		versions = append(versions, version)
	}

	if len(versions) == 0 {
		return 0, fmt.Errorf("no migration files found")
	}
	return slices.Max(versions), nil
}
