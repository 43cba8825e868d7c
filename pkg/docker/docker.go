// The docker package provisions and supervises the optional embedded
// service containers of the worker, currently just the PostgreSQL
// database. Connection to the docker daemon is established lazily on
// the first spawn so deployments pointing at an external database never
// touch the daemon at all.
package docker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ddoubleg123/carrot-worker-sub002/pkg/broker"
	"github.com/ddoubleg123/carrot-worker-sub002/pkg/logger"
	"github.com/docker/docker/client"
)

var dockerLogger = logger.Get("Docker")

type DockerManager interface {
	SpawnContainer(DockerContainer) error
	Shutdown(timeout time.Duration)
	CloseContainer(name string, timeout time.Duration)
	WaitForContainer(container DockerContainer, statuses ...ContainerStatus) (ContainerStatus, error)
}

type dockerContainerStatus struct {
	containerLabel string
	status         ContainerStatus
}

type dockerManager struct {
	containers map[string]DockerContainer
	cli        *client.Client
	ctx        context.Context
	ctxCancel  context.CancelFunc
	wg         *sync.WaitGroup
	broker     *broker.Broker[*dockerContainerStatus]
}

// NewDockerManager creates an idle manager. No daemon connection is
// attempted until a container is spawned; a worker which never spawns
// one can run on a host without docker installed.
func NewDockerManager() DockerManager {
	ctx, ctxCancel := context.WithCancel(context.Background())
	return &dockerManager{
		containers: make(map[string]DockerContainer),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		wg:         &sync.WaitGroup{},
	}
}

// connect dials the daemon from the environment configuration and
// verifies it is reachable. The client is cached after the first
// successful connection.
func (docker *dockerManager) connect() (*client.Client, error) {
	if docker.cli != nil {
		return docker.cli, nil
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to construct docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(docker.ctx, time.Second*5)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker daemon is not reachable: %w", err)
	}

	statusBroker := broker.NewBroker[*dockerContainerStatus]()
	go statusBroker.Start()

	docker.cli = cli
	docker.broker = statusBroker
	return cli, nil
}

func (docker *dockerManager) SpawnContainer(container DockerContainer) error {
	cli, err := docker.connect()
	if err != nil {
		return err
	}

	if _, ok := docker.containers[container.Label()]; ok {
		return fmt.Errorf("cannot spawn container %s as label is already in use", container)
	}
	docker.containers[container.Label()] = container

	docker.wg.Add(1)
	if err := container.Start(docker.ctx, cli); err != nil {
		container.Close(docker.ctx, cli, time.Second*10)
		docker.wg.Done()
		return err
	}

	go docker.monitorContainer(container, docker.wg)

	dockerLogger.Emit(logger.INFO, "Waiting for container %s to come UP\n", container)
	if _, err := docker.WaitForContainer(container, UP); err != nil {
		dockerLogger.Emit(logger.ERROR, "Container %s failed to come online: %v\n", container, err.Error())
		return err
	}

	dockerLogger.Emit(logger.SUCCESS, "Container %s is UP!\n", container)
	return nil
}

func (docker *dockerManager) Shutdown(timeout time.Duration) {
	if docker.cli == nil {
		return
	}

	for _, c := range docker.containers {
		docker.closeContainer(c, timeout)
	}

	docker.wg.Wait()
	docker.ctxCancel()
	docker.cli.Close()
}

func (docker *dockerManager) CloseContainer(name string, timeout time.Duration) {
	container, ok := docker.containers[name]
	if !ok {
		return
	}

	docker.closeContainer(container, timeout)
}

func (docker *dockerManager) WaitForContainer(container DockerContainer, statuses ...ContainerStatus) (ContainerStatus, error) {
	ch := docker.broker.Subscribe()
	defer docker.broker.Unsubscribe(ch)

	// If container is DEAD we won't ever see a status change
	if container.Status() == DEAD {
		return DEAD, fmt.Errorf("cannot wait on DEAD container %s", container)
	}

	// If container is already the state we want
	for _, s := range statuses {
		if container.Status() == s {
			return s, nil
		}
	}

	// Wait for the container to have one of the statuses we want
	for update := range ch {
		if update.containerLabel == container.Label() {
			for _, stat := range statuses {
				if stat == update.status {
					return stat, nil
				}
			}
		}
	}

	return DEAD, fmt.Errorf("wait on container %s aborted as container has closed", container)
}

func (docker *dockerManager) closeContainer(cont DockerContainer, timeout time.Duration) {
	dockerLogger.Emit(logger.STOP, "Closing container %s...\n", cont)
	cont.Close(docker.ctx, docker.cli, timeout)

	dockerLogger.Emit(logger.STOP, "Waiting for container %s to change state to DEAD...\n", cont)
	docker.WaitForContainer(cont, DEAD)
}

func (docker *dockerManager) monitorContainer(container DockerContainer, wg *sync.WaitGroup) {
	defer func() {
		dockerLogger.Emit(logger.INFO, "Container %s - Status management DETACHED\n", container)
		wg.Done()
	}()

	for {
		select {
		case stat, ok := <-container.StatusChannel():
			if !ok {
				return
			}
			dockerLogger.Emit(logger.INFO, "Container %s - Status change: %s\n", container, stat)

			docker.broker.Publish(&dockerContainerStatus{containerLabel: container.Label(), status: stat})
		case stat, ok := <-container.MessageChannel():
			if !ok {
				return
			}
			dockerLogger.Emit(logger.INFO, "%s: %s\n", container, stat)
		}
	}
}
