package videos_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ddoubleg123/carrot-worker-sub002/internal/api/videos"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/variant"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockService struct{ mock.Mock }

func (m *mockService) CreateVariant(ctx context.Context, userVideoID uuid.UUID, kind variant.Kind, manifest variant.Manifest) (*variant.Variant, error) {
	args := m.Called(ctx, userVideoID, kind, manifest)
	if v := args.Get(0); v != nil {
		return v.(*variant.Variant), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockService) VariantsForUserVideo(userVideoID uuid.UUID) ([]*variant.Variant, error) {
	args := m.Called(userVideoID)
	if v := args.Get(0); v != nil {
		return v.([]*variant.Variant), args.Error(1)
	}
	return nil, args.Error(1)
}

func newRouter(service videos.Service) *echo.Echo {
	e := echo.New()
	e.Pre(middleware.AddTrailingSlash())
	videos.New(validator.New(), service).SetRoutes(e.Group("/api"))
	return e
}

func performRequest(e *echo.Echo, method string, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func Test_CreateVariant(t *testing.T) {
	userVideoID := uuid.New()
	path := "/api/videos/" + userVideoID.String() + "/variants"

	t.Run("ready parent yields created variant", func(t *testing.T) {
		service := &mockService{}
		created := &variant.Variant{EditManifest: variant.Manifest{CropAspect: "9:16"}}
		service.On("CreateVariant", mock.Anything, userVideoID, variant.KindEdit, mock.Anything).Return(created, nil)

		rec := performRequest(newRouter(service), http.MethodPost, path,
			`{"kind": "edit", "editManifest": {"cropAspect": "9:16"}}`)

		require.Equal(t, http.StatusCreated, rec.Code)
		var response variant.Variant
		require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &response))
		assert.Equal(t, "9:16", response.EditManifest.CropAspect)
	})

	t.Run("unready parent is a conflict", func(t *testing.T) {
		service := &mockService{}
		service.On("CreateVariant", mock.Anything, userVideoID, mock.Anything, mock.Anything).
			Return(nil, variant.ErrAssetNotReady)

		rec := performRequest(newRouter(service), http.MethodPost, path, `{"kind": "edit"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("invalid manifest is rejected", func(t *testing.T) {
		service := &mockService{}
		service.On("CreateVariant", mock.Anything, userVideoID, mock.Anything, mock.Anything).
			Return(nil, variant.ErrInvalidManifest)

		rec := performRequest(newRouter(service), http.MethodPost, path,
			`{"kind": "clipped", "editManifest": {"trim": {"start": 30, "end": 10}}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown user video is a 404", func(t *testing.T) {
		service := &mockService{}
		service.On("CreateVariant", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, variant.ErrUserVideoNotFound)

		rec := performRequest(newRouter(service), http.MethodPost, path, `{"kind": "edit"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing kind is rejected before the service is hit", func(t *testing.T) {
		service := &mockService{}
		rec := performRequest(newRouter(service), http.MethodPost, path, `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		service.AssertNotCalled(t, "CreateVariant", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func Test_ListVariants(t *testing.T) {
	userVideoID := uuid.New()
	path := "/api/videos/" + userVideoID.String() + "/variants"

	t.Run("returns variants newest first", func(t *testing.T) {
		service := &mockService{}
		service.On("VariantsForUserVideo", userVideoID).Return([]*variant.Variant{{}, {}}, nil)

		rec := performRequest(newRouter(service), http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var response []variant.Variant
		require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &response))
		assert.Len(t, response, 2)
	})

	t.Run("unknown user video is a 404", func(t *testing.T) {
		service := &mockService{}
		service.On("VariantsForUserVideo", userVideoID).Return(nil, variant.ErrUserVideoNotFound)

		rec := performRequest(newRouter(service), http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
