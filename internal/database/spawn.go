package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ddoubleg123/carrot-worker-sub002/pkg/docker"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
)

// DatabaseConfig is a subset of the configuration focusing solely
// on database connection items
type DatabaseConfig struct {
	User     string `yaml:"username" env:"DB_USERNAME" env-required:"true"`
	Password string `yaml:"password" env:"DB_PASSWORD" env-required:"true"`
	Name     string `yaml:"name" env:"DB_NAME" env-default:"CARROT_DB"`
	Host     string `yaml:"host" env:"DB_HOST" env-default:"0.0.0.0"`
	Port     string `yaml:"port" env:"DB_PORT" env-default:"5432"`
}

// InitialiseDockerDatabase provisions a PostgreSQL container via the Docker
// SDK so the worker can run without an externally managed database. The
// containers data directory is bind mounted in to the users home dir so
// job and asset state survives restarts.
func InitialiseDockerDatabase(dockerManager docker.DockerManager, config DatabaseConfig, onCrash func(error)) (docker.DockerContainer, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Sprintf("Cannot initialize docker db volume mount as cannot find user home dir: %s", err.Error()))
	}

	dbDataPath := filepath.Join(homeDir, "carrot_db.dat")
	if err := os.MkdirAll(dbDataPath, os.ModeDir); err != nil {
		return nil, err
	}

	containerConfig := &container.Config{
		Image: "postgres:14.1-alpine",
		Env: []string{
			fmt.Sprintf("POSTGRES_PASSWORD=%s", config.Password),
			fmt.Sprintf("POSTGRES_USER=%s", config.User),
			fmt.Sprintf("POSTGRES_DB=%s", config.Name),
			fmt.Sprintf("DATABASE_HOST=%s", config.Host),
		},
		ExposedPorts: nat.PortSet{
			"5432": struct{}{},
		},
	}
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			nat.Port(config.Port): []nat.PortBinding{{
				HostIP:   config.Host,
				HostPort: config.Port,
			}},
		},
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: dbDataPath,
				Target: "/var/lib/postgresql/data",
			},
		},
	}

	db := docker.NewDockerContainer("db", "postgres:14.1-alpine", containerConfig, hostConfig)
	if err := dockerManager.SpawnContainer(db); err != nil {
		return nil, err
	}

	// Watch for container crash (teardown)
	go func() {
		st, err := dockerManager.WaitForContainer(db, docker.CRASHED)
		if st != docker.CRASHED || err != nil {
			return
		}

		onCrash(fmt.Errorf("container %s has crashed", db))
	}()

	return db, nil
}
