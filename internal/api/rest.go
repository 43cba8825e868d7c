package api

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ddoubleg123/carrot-worker-sub002/internal/api/ingests"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/api/ratelimit"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/api/videos"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/event"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/http/websocket"
	"github.com/ddoubleg123/carrot-worker-sub002/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr       string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
		WorkerSecret   string `yaml:"worker_secret" env:"INGEST_WORKER_SECRET"`
		RateCap        int    `yaml:"rate_cap" env:"INGEST_RATE_CAP" env-default:"30"`
		RateWindowSecs int    `yaml:"rate_window" env:"INGEST_RATE_WINDOW_SECS" env-default:"60"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// The RestGateway is a thin-wrapper around the Echo HTTP router. Its sole
	// responsibility is to create the routes the worker exposes, manage
	// ongoing web socket connections and events, and to enforce the secret
	// guard + rate limiting middleware where applicable.
	RestGateway struct {
		*broadcaster
		config           *RestConfig
		ec               *echo.Echo
		socket           *websocket.SocketHub
		buckets          *ratelimit.BucketStore
		ingestController *ingests.Controller
		videoController  *videos.Controller
		ready            atomic.Bool
	}
)

// NewRestGateway constructs the Echo router and populates it with all
// the routes defined by the various controllers.
func NewRestGateway(
	config *RestConfig,
	ingestService ingests.Service,
	videoService videos.Service,
	cookies ingests.CookieUpdater,
	debug ingests.DebugReporter,
	eventBus event.EventCoordinator,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	validate := validator.New()
	socket := websocket.New()
	gateway := &RestGateway{
		broadcaster:      newBroadcaster(socket, ingestService),
		config:           config,
		ec:               ec,
		socket:           socket,
		buckets:          ratelimit.NewBucketStore(config.RateCap, time.Duration(config.RateWindowSecs)*time.Second),
		ingestController: ingests.New(validate, ingestService, cookies, debug),
		videoController:  videos.New(validate, videoService),
	}
	socket.WithConnectionCallback(gateway.connectionSnapshot)

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/healthz/", gateway.health)
	ec.GET("/livez/", gateway.health)
	ec.GET("/readyz/", gateway.readiness)

	ec.GET("/api/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	guarded := ec.Group("/api", workerSecretMiddleware(config.WorkerSecret), rateLimitMiddleware(gateway.buckets))
	gateway.ingestController.SetRoutes(guarded)
	gateway.videoController.SetRoutes(guarded)

	open := ec.Group("/api")
	gateway.ingestController.SetPublicRoutes(open)

	// Job events feed the activity socket so clients need not poll.
	jobEventHandler := func(ev event.Event, payload event.Payload) {
		id, ok := payload.(uuid.UUID)
		if !ok {
			return
		}

		if err := gateway.BroadcastJobUpdate(id); err != nil {
			log.Emit(logger.WARNING, "Failed to broadcast update for job %s: %v\n", id, err)
		}
	}
	eventBus.RegisterAsyncHandlerFunction(event.JOB_UPDATE, jobEventHandler)
	eventBus.RegisterAsyncHandlerFunction(event.JOB_COMPLETE, jobEventHandler)

	return gateway
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.ready.Store(true)
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	go func(ec *echo.Echo) {
		<-ctx.Done()
		gateway.ready.Store(false)
		ec.Close()
	}(gateway.ec)

	// Start websocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	// Periodically drop idle rate limit buckets
	go gateway.buckets.RunCleanup(ctx)

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}

func (gateway *RestGateway) health(ec echo.Context) error {
	return ec.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (gateway *RestGateway) readiness(ec echo.Context) error {
	if !gateway.ready.Load() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "not ready")
	}

	return ec.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
