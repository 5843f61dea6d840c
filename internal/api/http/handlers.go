package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/shortly-app/shortly/internal/database"
	"github.com/shortly-app/shortly/internal/models"
	"github.com/shortly-app/shortly/internal/service"
	"github.com/shortly-app/shortly/pkg/response"
)

// ownerIDHeader carries the opaque user identifier issued by the identity
// layer. An absent header means an anonymous request.
const ownerIDHeader = "X-User-ID"

const defaultListLimit = 10

func handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "pong")
}

type shortenRequest struct {
	URL  string `json:"url" validate:"required,url"`
	Slug string `json:"slug" validate:"omitempty,min=3,max=32"`
}

type urlResponse struct {
	ShortCode  string    `json:"short_code"`
	ShortURL   string    `json:"short_url,omitempty"`
	URL        string    `json:"url"`
	ClickCount int64     `json:"click_count"`
	CreatedAt  time.Time `json:"created_at"`
}

func toURLResponse(url *models.URL, baseURL string) urlResponse {
	resp := urlResponse{
		ShortCode:  url.ShortCode,
		URL:        url.OriginalURL,
		ClickCount: url.ClickCount,
		CreatedAt:  url.CreatedAt,
	}

	if baseURL != "" {
		resp.ShortURL = baseURL + url.ShortCode
	}

	return resp
}

func handleShortenURL(svc URLService, validate *validator.Validate, baseURL string) http.HandlerFunc {
	const op = "api.http.handleShortenURL"
	const successMsg = "The URL has been shortened successfully."

	return func(w http.ResponseWriter, r *http.Request) {
		var req shortenRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			if errors.Is(err, io.EOF) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.EmptyRequestBodyResponse)
				return
			}

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.BadRequestResponse)
			return
		}

		if req.URL != "" && !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
			req.URL = "http://" + req.URL
		}

		if err := validate.Struct(req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.ValidationErrorResponse(err))
			return
		}

		ownerID := r.Header.Get(ownerIDHeader)

		url, err := svc.ShortenURL(r.Context(), req.URL, ownerID, req.Slug)
		if err != nil {
			if errors.Is(err, database.ErrShortCodeExists) {
				render.Status(r, http.StatusConflict)
				render.JSON(w, r, response.Response{
					Status:  response.StatusError,
					Error:   "Short Code Taken",
					Message: "The requested slug is already taken. Please choose another one.",
				})
				return
			}

			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.SuccessResponse(successMsg, toURLResponse(url, baseURL)))
	}
}

func handleRedirect(svc URLService) http.HandlerFunc {
	const op = "api.http.handleRedirect"

	return func(w http.ResponseWriter, r *http.Request) {
		shortCode := chi.URLParam(r, "shortCode")

		target, err := svc.ResolveShortCode(r.Context(), shortCode)
		if err != nil {
			if errors.Is(err, database.ErrURLNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, response.ResourceNotFoundResponse)
				return
			}

			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		http.Redirect(w, r, target, http.StatusFound)
	}
}

type availabilityResponse struct {
	Available bool `json:"available"`
}

func handleCheckAvailability(svc URLService) http.HandlerFunc {
	const op = "api.http.handleCheckAvailability"

	return func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "slug")

		exists, err := svc.ShortCodeExists(r.Context(), slug)
		if err != nil {
			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		msg := "Slug is available."
		if exists {
			msg = "Slug is already taken."
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(msg, availabilityResponse{Available: !exists}))
	}
}

type listResponse struct {
	URLs       []urlResponse `json:"urls"`
	NextCursor string        `json:"next_cursor,omitempty"`
	HasMore    bool          `json:"has_more"`
}

func handleListUserURLs(svc URLService) http.HandlerFunc {
	const op = "api.http.handleListUserURLs"
	const successMsg = "The URLs were retrieved successfully."

	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.Header.Get(ownerIDHeader)
		if ownerID == "" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.UnauthorizedResponse)
			return
		}

		limit := defaultListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.BadRequestResponse)
				return
			}
			limit = n
		}

		cursor := r.URL.Query().Get("cursor")

		page, err := svc.ListUserURLs(r.Context(), ownerID, cursor, limit)
		if err != nil {
			if errors.Is(err, service.ErrInvalidCursor) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.BadRequestResponse)
				return
			}

			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		data := listResponse{
			URLs:       make([]urlResponse, 0, len(page.URLs)),
			NextCursor: page.NextCursor,
			HasMore:    page.HasMore,
		}
		for i := range page.URLs {
			data.URLs = append(data.URLs, toURLResponse(&page.URLs[i], ""))
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(successMsg, data))
	}
}
