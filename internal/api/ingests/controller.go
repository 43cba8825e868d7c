package ingests

import (
	"errors"
	"net/http"

	"github.com/ddoubleg123/carrot-worker-sub002/internal/ingest"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/job"
	"github.com/ddoubleg123/carrot-worker-sub002/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type (
	// IngestRequest is the submission body for canonical ingestion. The
	// optional ID lets the upstream application pre-allocate the job ID
	// it will poll on.
	IngestRequest struct {
		Id     *uuid.UUID `json:"id"`
		Url    string     `json:"url" validate:"required,url"`
		Type   string     `json:"type" validate:"required"`
		UserId *string    `json:"userId"`
		PostId *string    `json:"postId"`
	}

	TrimRequest struct {
		Id        *uuid.UUID `json:"id"`
		SourceUrl string     `json:"sourceUrl" validate:"required,url"`
		StartSec  float64    `json:"startSec" validate:"gte=0"`
		EndSec    float64    `json:"endSec" validate:"gte=0"`
		UserId    *string    `json:"userId"`
		PostId    *string    `json:"postId"`
	}

	AcceptedResponse struct {
		Accepted bool      `json:"accepted"`
		JobId    uuid.UUID `json:"jobId"`
	}

	// CookiesRequest carries a full replacement cookie jar for the
	// downloader, in the Netscape format it expects.
	CookiesRequest struct {
		Cookies string `json:"cookies" validate:"required"`
	}

	Service interface {
		SubmitIngest(request ingest.IngestRequest) (*job.Job, error)
		SubmitTrim(request ingest.TrimRequest) (*job.Job, error)
		Job(id uuid.UUID) (*job.Job, error)
		AllJobs() ([]*job.Job, error)
	}

	// DebugReporter supplies the runtime facts exposed on the guarded
	// debug endpoint.
	DebugReporter func() map[string]any

	// CookieUpdater replaces the downloader cookie jar.
	CookieUpdater interface {
		Update(contents string) error
	}

	// Controller is the struct which is responsible for defining the
	// routes for this controller. Additionally, it holds the reference
	// to the service used to submit and query ingest jobs.
	Controller struct {
		validate *validator.Validate
		service  Service
		cookies  CookieUpdater
		debug    DebugReporter
	}
)

var controllerLogger = logger.Get("IngestsController")

func New(validate *validator.Validate, service Service, cookies CookieUpdater, debug DebugReporter) *Controller {
	return &Controller{validate: validate, service: service, cookies: cookies, debug: debug}
}

// SetRoutes accepts the secret-guarded Echo group and sets the
// submission and debug routes on it.
func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/ingest/", controller.createIngest)
	eg.POST("/trim/", controller.createTrim)
	eg.POST("/cookies/update/", controller.updateCookies)
	eg.GET("/debug/", controller.getDebug)
}

// SetPublicRoutes sets the routes which are deliberately left outside
// the secret guard; job status polling carries no sensitive state.
func (controller *Controller) SetPublicRoutes(eg *echo.Group) {
	eg.GET("/jobs/:id/", controller.getJob)
}

// createIngest accepts a new ingestion submission. The job is accepted
// (202) as soon as it is durably queued; callers poll the job endpoint
// or listen on the activity socket for completion.
func (controller *Controller) createIngest(ec echo.Context) error {
	var request IngestRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "JSON body illegal: "+err.Error())
	}
	if err := controller.validate.Struct(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	created, err := controller.service.SubmitIngest(ingest.IngestRequest{
		ID:     request.Id,
		URL:    request.Url,
		Type:   request.Type,
		UserID: request.UserId,
		PostID: request.PostId,
	})
	if err != nil {
		if errors.Is(err, ingest.ErrUnsupportedType) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}

		controllerLogger.Errorf("Failed to accept ingest submission: %v\n", err)
		return echo.ErrInternalServerError
	}

	return ec.JSON(http.StatusAccepted, AcceptedResponse{Accepted: true, JobId: created.ID})
}

// createTrim accepts a trim submission. Inverted windows are rejected,
// never silently swapped.
func (controller *Controller) createTrim(ec echo.Context) error {
	var request TrimRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "JSON body illegal: "+err.Error())
	}
	if err := controller.validate.Struct(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	created, err := controller.service.SubmitTrim(ingest.TrimRequest{
		ID:        request.Id,
		SourceURL: request.SourceUrl,
		StartSecs: request.StartSec,
		EndSecs:   request.EndSec,
		UserID:    request.UserId,
		PostID:    request.PostId,
	})
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidTrimWindow) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}

		controllerLogger.Errorf("Failed to accept trim submission: %v\n", err)
		return echo.ErrInternalServerError
	}

	return ec.JSON(http.StatusAccepted, AcceptedResponse{Accepted: true, JobId: created.ID})
}

// getJob returns the full job row, including terminal error text and
// published media URLs where present.
func (controller *Controller) getJob(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Job ID is not a valid UUID")
	}

	found, err := controller.service.Job(id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}

		return err
	}

	return ec.JSON(http.StatusOK, found)
}

// updateCookies replaces the downloader cookie jar so subsequent
// downloads present fresh credentials.
func (controller *Controller) updateCookies(ec echo.Context) error {
	var request CookiesRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "JSON body illegal: "+err.Error())
	}
	if err := controller.validate.Struct(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := controller.cookies.Update(request.Cookies); err != nil {
		controllerLogger.Errorf("Failed to update downloader cookies: %v\n", err)
		return echo.ErrInternalServerError
	}

	return ec.JSON(http.StatusOK, map[string]bool{"updated": true})
}

func (controller *Controller) getDebug(ec echo.Context) error {
	return ec.JSON(http.StatusOK, controller.debug())
}
