package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppName    string `mapstructure:"app_name"`
	LogLevel   string `mapstructure:"log_level"`
	PrettyLogs bool   `mapstructure:"pretty_logs"`
	DryRun     bool   `mapstructure:"dry_run"`
	RulesFile  string `mapstructure:"rules_file"`
	ReportFile string `mapstructure:"report_file"`

	// CRM record store
	CRMBaseURL        string        `mapstructure:"crm_base_url"`
	CRMAPIKey         string        `mapstructure:"crm_api_key"`
	CRMTimeout        time.Duration `mapstructure:"crm_timeout"`
	ActivityLimit     int           `mapstructure:"activity_limit"`
	ProspectsPath     string        `mapstructure:"prospects_path"`
	ActivitiesPath    string        `mapstructure:"activities_path"`
	ContactsPath      string        `mapstructure:"contacts_path"`
	MockServerPort    int           `mapstructure:"mock_server_port"`
	MockServerSeed    string        `mapstructure:"mock_server_seed"`
	MockRejectUpdates bool          `mapstructure:"mock_reject_updates"`

	// PostgreSQL (audit journal)
	DatabaseDriver              string        `mapstructure:"db_driver"`
	DatabaseHost                string        `mapstructure:"db_host"`
	DatabasePort                string        `mapstructure:"db_port"`
	DatabaseUserName            string        `mapstructure:"db_user_name"`
	DatabasePassword            string        `mapstructure:"db_password"`
	DatabaseName                string        `mapstructure:"db_name"`
	DatabaseSSLMode             string        `mapstructure:"db_ssl_mode"`
	DatabaseMaxOpenConns        int           `mapstructure:"db_max_open_conns"`
	DatabaseMaxIdleConns        int           `mapstructure:"db_max_idle_conns"`
	DatabaseConnMaxLifetime     time.Duration `mapstructure:"db_conn_max_lifetime"`
	DatabaseMigrationFolderPath string        `mapstructure:"db_migration_folder_path"`
	DatabaseMigrationVersion    int           `mapstructure:"db_migration_version"`
	DatabaseMigrationForce      int           `mapstructure:"db_migration_force"`

	// Redis (single-runner lock)
	RedisHost     string        `mapstructure:"redis_host"`
	RedisPort     int           `mapstructure:"redis_port"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RunLockTTL    time.Duration `mapstructure:"run_lock_ttl"`

	// Kafka producer (merge events)
	KafkaBrokers      []string `mapstructure:"kafka_brokers"`
	KafkaTopic        string   `mapstructure:"kafka_topic"`
	KafkaBatchSize    int      `mapstructure:"kafka_batch_size"`
	KafkaBatchTimeout int      `mapstructure:"kafka_batch_timeout_ms"`
	KafkaRequiredAcks int      `mapstructure:"kafka_required_acks"`
	KafkaCompression  string   `mapstructure:"kafka_compression"`

	// Metrics
	MetricsPushURL string `mapstructure:"metrics_push_url"`
	MetricsJobName string `mapstructure:"metrics_job_name"`
}

// MinRunLockTTL is the shortest run lock TTL accepted; the lock is renewed at a third of it.
const MinRunLockTTL = time.Second

var defaults = map[string]any{
	"app_name":    "fern",
	"log_level":   "info",
	"pretty_logs": false,
	"dry_run":     false,
	"rules_file":  "",
	"report_file": "",

	"crm_base_url":        "http://localhost:3010",
	"crm_api_key":         "",
	"crm_timeout":         30 * time.Second,
	"activity_limit":      2000,
	"prospects_path":      "@",
	"activities_path":     "@",
	"contacts_path":       "@",
	"mock_server_port":    3010,
	"mock_server_seed":    "",
	"mock_reject_updates": false,

	"db_driver":                "postgres",
	"db_host":                  "",
	"db_port":                  "5432",
	"db_user_name":             "",
	"db_password":              "",
	"db_name":                  "fern",
	"db_ssl_mode":              "disable",
	"db_max_open_conns":        5,
	"db_max_idle_conns":        2,
	"db_conn_max_lifetime":     10 * time.Second,
	"db_migration_folder_path": "",
	"db_migration_version":     0,
	"db_migration_force":       0,

	"redis_host":     "",
	"redis_port":     6379,
	"redis_password": "",
	"redis_db":       0,
	"run_lock_ttl":   30 * time.Minute,

	"kafka_brokers":          []string{},
	"kafka_topic":            "prospect-events",
	"kafka_batch_size":       100,
	"kafka_batch_timeout_ms": 100,
	"kafka_required_acks":    1,
	"kafka_compression":      "snappy",

	"metrics_push_url": "",
	"metrics_job_name": "fern",
}

// NewViper returns a viper instance with fern's defaults registered and environment binding
// enabled. Callers may bind CLI flags onto it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads an optional .env file and resolves the configuration from v.
func Load(v *viper.Viper) (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	if v == nil {
		v = NewViper()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if cfg.ActivityLimit <= 0 {
		return nil, fmt.Errorf("activity_limit must be positive, got %d", cfg.ActivityLimit)
	}
	if cfg.RunLockTTL < MinRunLockTTL {
		return nil, fmt.Errorf("run_lock_ttl must be at least %s, got %s", MinRunLockTTL, cfg.RunLockTTL)
	}

	return &cfg, nil
}

// DatabaseEnabled reports whether the audit journal is configured.
func (c *Config) DatabaseEnabled() bool {
	return c.DatabaseHost != ""
}

// RedisEnabled reports whether the run lock is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

// KafkaEnabled reports whether merge events are published.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaTopic != ""
}

// DatabaseDSN returns the lib/pq connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DatabaseHost, c.DatabasePort, c.DatabaseUserName, c.DatabasePassword, c.DatabaseName, c.DatabaseSSLMode)
}
