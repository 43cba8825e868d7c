package internal

import (
	"fmt"

	"github.com/ddoubleg123/carrot-worker-sub002/internal/api"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/callback"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/database"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/ingest"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/publish"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/tool"
	"github.com/ilyakaznacheev/cleanenv"
)

// WorkerConfig is the struct used to contain the various user config
// supplied by file or environment.
type WorkerConfig struct {
	IngestService   ingest.Config           `yaml:"ingest"`
	Tools           tool.LocatorConfig      `yaml:"tools"`
	ToolTimeoutSecs int                     `yaml:"tool_timeout" env:"TOOL_TIMEOUT_SECONDS" env-default:"900"`
	Storage         publish.Config          `yaml:"storage"`
	Callback        callback.Config         `yaml:"callback"`
	RestConfig      api.RestConfig          `yaml:"api"`
	Services        ServiceConfig           `yaml:"docker_services"`
	Database        database.DatabaseConfig `yaml:"database"`
}

// ServiceConfig is used to enable/disable the internal initialisation
// of supporting services for the worker. Disabled by default; most
// deployments point at an existing Postgres instead.
type ServiceConfig struct {
	EnablePostgres bool `yaml:"enable_postgres" env:"SERVICE_ENABLE_POSTGRES" env-default:"false"`
}

// LoadFromFile loads a configuration file formatted in YAML in to a
// WorkerConfig struct. Environment variables still take precedence.
func (config *WorkerConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration from %s - %v", configPath, err.Error())
	}

	return nil
}

// LoadFromEnv populates the config purely from environment variables.
func (config *WorkerConfig) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration from environment - %v", err.Error())
	}

	return nil
}
