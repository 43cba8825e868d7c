package docker

import (
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
)

func Test_DockerManager_LazyConnection(t *testing.T) {
	// Point the docker client at a dead endpoint so the daemon is
	// guaranteed unreachable regardless of the host running the tests.
	t.Setenv("DOCKER_HOST", "tcp://127.0.0.1:1")

	t.Run("construction never touches the daemon", func(t *testing.T) {
		manager := NewDockerManager()
		assert.NotNil(t, manager)
	})

	t.Run("spawn surfaces an unreachable daemon as an error", func(t *testing.T) {
		manager := NewDockerManager()
		db := NewDockerContainer("db", "postgres:14.1-alpine", &container.Config{}, &container.HostConfig{})

		err := manager.SpawnContainer(db)
		if assert.NotNil(t, err) {
			assert.Contains(t, err.Error(), "docker daemon is not reachable")
		}
	})

	t.Run("shutdown before any spawn is a no-op", func(t *testing.T) {
		manager := NewDockerManager()
		manager.Shutdown(time.Second)
	})
}
