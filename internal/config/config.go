package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Vsphere  *vsphereConfig
	Sync     *syncConfig
	Database *dbConfig
	Service  *svcConfig
}

type vsphereConfig struct {
	URL      string `envconfig:"VMTAG_SYNC_VSPHERE_URL" default:""`
	Username string `envconfig:"VMTAG_SYNC_VSPHERE_USERNAME" default:""`
	Password string `envconfig:"VMTAG_SYNC_VSPHERE_PASSWORD" default:""`
	Insecure bool   `envconfig:"VMTAG_SYNC_VSPHERE_INSECURE" default:"false"`
}

type syncConfig struct {
	DryRun                 bool          `envconfig:"VMTAG_SYNC_DRY_RUN" default:"false"`
	AssumeYes              bool          `envconfig:"VMTAG_SYNC_ASSUME_YES" default:"false"`
	Workers                int           `envconfig:"VMTAG_SYNC_WORKERS" default:"1"`
	CallTimeout            time.Duration `envconfig:"VMTAG_SYNC_CALL_TIMEOUT" default:"30s"`
	MaxConsecutiveFailures int           `envconfig:"VMTAG_SYNC_MAX_CONSECUTIVE_FAILURES" default:"5"`
	EntityColumn           string        `envconfig:"VMTAG_SYNC_ENTITY_COLUMN" default:"Name"`
	Sheet                  string        `envconfig:"VMTAG_SYNC_SHEET" default:""`
	EventsFile             string        `envconfig:"VMTAG_SYNC_EVENTS_FILE" default:""`
}

type dbConfig struct {
	Type     string `envconfig:"VMTAG_SYNC_DB_TYPE" default:"sqlite"`
	Hostname string `envconfig:"VMTAG_SYNC_DB_HOST" default:"localhost"`
	Port     string `envconfig:"VMTAG_SYNC_DB_PORT" default:"5432"`
	Name     string `envconfig:"VMTAG_SYNC_DB_NAME" default:"vmtag-sync.db"`
	User     string `envconfig:"VMTAG_SYNC_DB_USER" default:"admin"`
	Password string `envconfig:"VMTAG_SYNC_DB_PASS" default:"adminpass"`
	History  bool   `envconfig:"VMTAG_SYNC_HISTORY" default:"true"`
}

type svcConfig struct {
	LogLevel       string `envconfig:"VMTAG_SYNC_LOG_LEVEL" default:"info"`
	MetricsAddress string `envconfig:"VMTAG_SYNC_METRICS_ADDRESS" default:""`
}

func New() (*Config, error) {
	if singleConfig == nil {
		cfg := new(Config)
		if err := envconfig.Process("", cfg); err != nil {
			return nil, err
		}
		singleConfig = cfg
	}
	return singleConfig, nil
}

// NewDefault returns the built-in defaults without looking at the environment.
func NewDefault() *Config {
	return &Config{
		Vsphere: &vsphereConfig{},
		Sync: &syncConfig{
			Workers:                1,
			CallTimeout:            30 * time.Second,
			MaxConsecutiveFailures: 5,
			EntityColumn:           "Name",
		},
		Database: &dbConfig{
			Type:     "sqlite",
			Hostname: "localhost",
			Port:     "5432",
			Name:     "vmtag-sync.db",
			User:     "admin",
			Password: "adminpass",
			History:  true,
		},
		Service: &svcConfig{LogLevel: "info"},
	}
}

// Load reads the environment again, ignoring any previously loaded config.
func Load() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
