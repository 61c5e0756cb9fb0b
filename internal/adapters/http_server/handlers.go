// internal/adapters/http_server/handlers.go
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"reviewsync/internal/app"
	"reviewsync/internal/domain"
)

type Handlers struct {
	Settings *app.SettingsService
	Q        *app.QueryService
	Sync     *app.SyncTrigger
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Group(func(m chi.Router) {
		m.Use(RequireUser)
		m.Get("/v1/settings", h.getSettings)
		m.Post("/v1/settings", h.saveSettings)
		m.Get("/v1/reviews", h.listReviews)
		m.Post("/v1/reviews/sync", h.triggerSync)
		m.Get("/v1/reviews/sync/status", h.syncStatus)
	})
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// ---- wire DTOs ----

type settingsDTO struct {
	URL          *string    `json:"url"`
	Rating       *float64   `json:"rating"`
	TotalReviews *int       `json:"totalReviews"`
	LastSyncedAt *time.Time `json:"lastSyncedAt"`
	SyncStatus   string     `json:"syncStatus"`
	SyncMessage  *string    `json:"syncMessage"`
}

func settingsToDTO(st domain.Settings) settingsDTO {
	return settingsDTO{
		URL:          st.SourceURL,
		Rating:       st.Rating,
		TotalReviews: st.TotalReviews,
		LastSyncedAt: st.LastSyncedAt,
		SyncStatus:   string(st.SyncStatus),
		SyncMessage:  st.SyncMessage,
	}
}

type reviewDTO struct {
	ID     string     `json:"id"`
	Author string     `json:"author"`
	Rating int        `json:"rating"`
	Text   string     `json:"text"`
	Branch *string    `json:"branch"`
	Phone  *string    `json:"phone"`
	Date   *time.Time `json:"date"`
}

type reviewsOverviewDTO struct {
	Reviews      []reviewDTO `json:"reviews"`
	Rating       *float64    `json:"rating"`
	TotalReviews int         `json:"totalReviews"`
	LastSyncedAt *time.Time  `json:"lastSyncedAt"`
	Page         int         `json:"page"`
	LastPage     int         `json:"lastPage"`
	PerPage      int         `json:"perPage"`
	Total        int         `json:"total"`
}

func overviewToDTO(ov app.ReviewsOverview) reviewsOverviewDTO {
	out := reviewsOverviewDTO{
		Reviews:      make([]reviewDTO, 0, len(ov.Reviews)),
		Rating:       ov.Rating,
		TotalReviews: ov.TotalReviews,
		LastSyncedAt: ov.LastSyncedAt,
		Page:         ov.Page,
		LastPage:     ov.LastPage,
		PerPage:      ov.PerPage,
		Total:        ov.Total,
	}
	for _, rv := range ov.Reviews {
		out.Reviews = append(out.Reviews, reviewDTO{
			ID:     rv.ExternalID,
			Author: rv.Author,
			Rating: rv.Rating,
			Text:   rv.Text,
			Branch: rv.Branch,
			Phone:  rv.Phone,
			Date:   rv.ReviewedAt,
		})
	}
	return out
}

type syncStateDTO struct {
	Status       string     `json:"status"`
	Message      *string    `json:"message"`
	LastSyncedAt *time.Time `json:"lastSyncedAt"`
	Rating       *float64   `json:"rating"`
	TotalReviews *int       `json:"totalReviews"`
}

func syncStateToDTO(st domain.Settings) syncStateDTO {
	return syncStateDTO{
		Status:       string(st.SyncStatus),
		Message:      st.SyncMessage,
		LastSyncedAt: st.LastSyncedAt,
		Rating:       st.Rating,
		TotalReviews: st.TotalReviews,
	}
}

// ---- handlers ----

func (h *Handlers) getSettings(w http.ResponseWriter, r *http.Request) {
	st, err := h.Settings.Get(r.Context(), userID(r))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "could not load settings")
		return
	}
	writeJSON(w, http.StatusOK, settingsToDTO(st))
}

func (h *Handlers) saveSettings(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", "request body must be JSON with a url field")
		return
	}
	u, err := url.Parse(body.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeProblem(w, http.StatusUnprocessableEntity, "Invalid URL", "url must be an absolute http(s) URL")
		return
	}

	st, err := h.Settings.Save(r.Context(), userID(r), body.URL)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "could not save settings")
		return
	}
	writeJSON(w, http.StatusOK, settingsToDTO(st))
}

func (h *Handlers) listReviews(w http.ResponseWriter, r *http.Request) {
	page := 1
	if ps := r.URL.Query().Get("page"); ps != "" {
		p, err := strconv.Atoi(ps)
		if err != nil || p < 1 {
			writeProblem(w, http.StatusBadRequest, "Invalid page", "page must be a positive integer")
			return
		}
		page = p
	}
	perPage := 20
	if ls := r.URL.Query().Get("per_page"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l < 1 {
			writeProblem(w, http.StatusBadRequest, "Invalid per_page", "per_page must be a positive integer")
			return
		}
		perPage = l
	}

	ov, err := h.Q.ListReviews(r.Context(), userID(r), page, perPage)
	if err != nil {
		if errors.Is(err, domain.ErrNotConfigured) {
			writeProblem(w, http.StatusUnprocessableEntity, "Not Configured", "set a source URL first")
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "could not load reviews")
		return
	}
	writeJSON(w, http.StatusOK, overviewToDTO(ov))
}

func (h *Handlers) triggerSync(w http.ResponseWriter, r *http.Request) {
	st, err := h.Sync.Trigger(r.Context(), userID(r))
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, syncStateToDTO(st))
	case errors.Is(err, domain.ErrNotConfigured):
		writeProblem(w, http.StatusUnprocessableEntity, "Not Configured", "set a source URL first")
	case errors.Is(err, domain.ErrSyncInProgress):
		// Body carries the in-flight state so clients can keep polling.
		writeJSON(w, http.StatusConflict, syncStateToDTO(st))
	default:
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "could not start sync")
	}
}

func (h *Handlers) syncStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.Sync.Status(r.Context(), userID(r))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "could not load sync status")
		return
	}
	writeJSON(w, http.StatusOK, syncStateToDTO(st))
}
