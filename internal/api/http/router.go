package http

import (
	"context"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"
	"github.com/go-playground/validator/v10"

	"github.com/shortly-app/shortly/internal/models"
)

type URLService interface {
	ShortenURL(ctx context.Context, originalURL, ownerID, requestedCode string) (*models.URL, error)
	ResolveShortCode(ctx context.Context, shortCode string) (string, error)
	ShortCodeExists(ctx context.Context, shortCode string) (bool, error)
	ListUserURLs(ctx context.Context, ownerID, cursor string, limit int) (*models.URLPage, error)
}

func NewRouter(logger *httplog.Logger, urlSvc URLService, baseURL string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	validate := getValidate()

	r.Get("/ping", handlePing)

	r.Route("/api/create", func(r chi.Router) {
		r.Post("/", handleShortenURL(urlSvc, validate, baseURL))
		r.Get("/check/{slug}", handleCheckAvailability(urlSvc))
		r.Get("/my-urls", handleListUserURLs(urlSvc))
	})

	r.Get("/{shortCode}", handleRedirect(urlSvc))

	return r
}

func getValidate() *validator.Validate {
	validate := validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return validate
}
