package videos

import (
	"context"
	"errors"
	"net/http"

	"github.com/ddoubleg123/carrot-worker-sub002/internal/variant"
	"github.com/ddoubleg123/carrot-worker-sub002/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type (
	CreateVariantRequest struct {
		Kind         string           `json:"kind" validate:"required"`
		EditManifest variant.Manifest `json:"editManifest"`
	}

	Service interface {
		CreateVariant(ctx context.Context, userVideoID uuid.UUID, kind variant.Kind, manifest variant.Manifest) (*variant.Variant, error)
		VariantsForUserVideo(userVideoID uuid.UUID) ([]*variant.Variant, error)
	}

	Controller struct {
		validate *validator.Validate
		service  Service
	}
)

var controllerLogger = logger.Get("VideosController")

func New(validate *validator.Validate, service Service) *Controller {
	return &Controller{validate: validate, service: service}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/videos/:userVideoId/variants/", controller.createVariant)
	eg.GET("/videos/:userVideoId/variants/", controller.listVariants)
}

// createVariant renders a new rendition of a user videos canonical
// asset. The asset must be ready; a pending or failed parent yields a
// conflict rather than a broken rendition.
func (controller *Controller) createVariant(ec echo.Context) error {
	userVideoID, err := uuid.Parse(ec.Param("userVideoId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "User video ID is not a valid UUID")
	}

	var request CreateVariantRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "JSON body illegal: "+err.Error())
	}
	if err := controller.validate.Struct(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	created, err := controller.service.CreateVariant(ec.Request().Context(), userVideoID, variant.Kind(request.Kind), request.EditManifest)
	if err != nil {
		switch {
		case errors.Is(err, variant.ErrInvalidManifest):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, variant.ErrUserVideoNotFound):
			return echo.NewHTTPError(http.StatusNotFound)
		case errors.Is(err, variant.ErrAssetNotReady):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}

		controllerLogger.Errorf("Failed to create variant for user video %s: %v\n", userVideoID, err)
		return echo.ErrInternalServerError
	}

	return ec.JSON(http.StatusCreated, created)
}

func (controller *Controller) listVariants(ec echo.Context) error {
	userVideoID, err := uuid.Parse(ec.Param("userVideoId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "User video ID is not a valid UUID")
	}

	variants, err := controller.service.VariantsForUserVideo(userVideoID)
	if err != nil {
		if errors.Is(err, variant.ErrUserVideoNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}

		return err
	}

	return ec.JSON(http.StatusOK, variants)
}
