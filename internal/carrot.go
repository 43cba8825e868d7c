package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ddoubleg123/carrot-worker-sub002/internal/api"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/asset"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/callback"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/database"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/event"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/ingest"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/job"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/publish"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/tool"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/variant"
	"github.com/ddoubleg123/carrot-worker-sub002/pkg/docker"
	"github.com/ddoubleg123/carrot-worker-sub002/pkg/logger"
)

var log = logger.Get("Core")

type RunnableService interface {
	Run(context.Context) error
}

// workerImpl represents the top-level object for the worker, and is
// responsible for initialising embedded support services, services,
// stores, event handling, et cetera...
type workerImpl struct {
	eventBus      event.EventCoordinator
	config        WorkerConfig
	dockerManager docker.DockerManager

	db           database.Manager
	jobStore     *job.Store
	assetStore   *asset.Store
	variantStore *variant.Store
	toolLocator  tool.Locator

	restGateway    RunnableService
	ingestService  ingest.Service
	variantService *variant.Service
	notifier       *callback.Notifier
}

func New(config WorkerConfig) *workerImpl {
	log.Emit(logger.DEBUG, "Bootstrapping worker services using config: %#v\n", config)
	worker := &workerImpl{
		eventBus:     event.New(),
		config:       config,
		db:           database.New(),
		jobStore:     job.NewStore(),
		assetStore:   asset.NewStore(),
		variantStore: variant.NewStore(),
	}

	locator := tool.NewLocator(config.Tools)
	worker.toolLocator = locator
	cookies := tool.NewCookieFile(config.Tools.CookiesPath)
	runner := tool.NewRunner(locator, cookies, time.Duration(config.ToolTimeoutSecs)*time.Second)

	publisher, err := publish.New(context.Background(), config.Storage)
	if err != nil {
		panic(fmt.Sprintf("failed to construct media publisher due to error: %s", err.Error()))
	}

	worker.notifier = callback.New(config.Callback)
	worker.ingestService = ingest.New(
		config.IngestService,
		worker.db,
		worker.jobStore,
		worker.assetStore,
		publisher,
		runner,
		worker.notifier,
		worker.eventBus,
	)
	worker.variantService = variant.New(worker.db, worker.assetStore, worker.variantStore, publisher, runner)
	worker.restGateway = api.NewRestGateway(
		&config.RestConfig,
		worker.ingestService,
		worker.variantService,
		cookies,
		worker.debugReport,
		worker.eventBus,
	)

	return worker
}

// Run will start the worker by bringing up all required services and
// connections (embedded Docker services, database, service instances).
//
// This function will not return until the worker is stopped. To stop
// the worker, the provided context must be cancelled. Errors from which
// the worker cannot recover will also cause it to stop.
func (worker *workerImpl) Run(parent context.Context) error {
	worker.dockerManager = docker.NewDockerManager()
	defer worker.dockerManager.Shutdown(time.Second * 10)

	ctx, cancel := context.WithCancel(parent)
	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	if worker.config.Services.EnablePostgres {
		log.Emit(logger.INFO, "Initialising embedded database...\n")
		if _, err := database.InitialiseDockerDatabase(
			worker.dockerManager,
			worker.config.Database,
			func(err error) { crashHandler("docker-postgres", err) },
		); err != nil {
			return err
		}
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	if err := worker.db.Connect(worker.config.Database); err != nil {
		return err
	}

	wg := &sync.WaitGroup{}
	worker.spawnAsyncService(ctx, wg, worker.ingestService, "ingest-service", crashHandler)
	worker.spawnAsyncService(ctx, wg, worker.notifier, "callback-notifier", crashHandler)
	worker.spawnAsyncService(ctx, wg, worker.restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Worker services spawned!\n")

	wg.Wait()
	return nil
}

// spawnAsyncService will run the provided function/service as its own
// go-routine, ensuring that the service waitgroup is updated correctly.
func (worker *workerImpl) spawnAsyncService(context context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(context); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}

// debugReport composes the payload for the guarded debug endpoint:
// resolved tool binary paths and versions plus which optional
// integrations are live.
func (worker *workerImpl) debugReport() map[string]any {
	versions := make(map[string]string)
	for t, version := range worker.toolLocator.Versions() {
		versions[string(t)] = version
	}

	paths := make(map[string]string)
	for t, path := range worker.toolLocator.Resolved() {
		paths[string(t)] = path
	}

	return map[string]any{
		"tools":              versions,
		"toolPaths":          paths,
		"storageBucket":      worker.config.Storage.Bucket,
		"callbackConfigured": worker.config.Callback.URL != "",
		"secretConfigured":   worker.config.RestConfig.WorkerSecret != "",
	}
}
