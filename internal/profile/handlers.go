// Package profile serves the attendee profile and the dashboard summary.
package profile

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pass-ticketing/internal/catalog"
	"github.com/noah-isme/pass-ticketing/internal/common"
	"github.com/noah-isme/pass-ticketing/internal/store"
)

type Store interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (store.Profile, error)
	UpsertProfile(ctx context.Context, p store.Profile) (store.Profile, error)
	ListActiveEvents(ctx context.Context) ([]store.Event, error)
	ListOrders(ctx context.Context, userID uuid.UUID) ([]store.OrderWithPass, error)
}

type Handler struct {
	Store  Store
	Logger zerolog.Logger
	Now    func() time.Time
}

type updateRequest struct {
	Name  *string `json:"name" validate:"omitempty,max=120"`
	Phone *string `json:"phone" validate:"omitempty,max=32"`
	Org   *string `json:"org" validate:"omitempty,max=120"`
	Year  *string `json:"year" validate:"omitempty,max=16"`
}

func (u updateRequest) profile(id uuid.UUID) (store.Profile, bool) {
	p := store.Profile{ID: id}
	set := false
	for _, f := range []struct {
		src *string
		dst *string
	}{{u.Name, &p.Name}, {u.Phone, &p.Phone}, {u.Org, &p.Org}, {u.Year, &p.Year}} {
		if f.src == nil {
			continue
		}
		if v := strings.TrimSpace(*f.src); v != "" {
			*f.dst = v
			set = true
		}
	}
	return p, set
}

// Dashboard is the signed-in landing payload. CountdownMS refers to the
// earliest active event.
type Dashboard struct {
	Profile     *store.Profile        `json:"profile"`
	Events      []store.Event         `json:"events"`
	MyPasses    []store.OrderWithPass `json:"my_passes"`
	CountdownMS *int64                `json:"countdown_ms"`
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "profile store not configured", nil)
		return uuid.Nil, false
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid user identity", nil)
		return uuid.Nil, false
	}
	return id, true
}

// Get handles GET /api/profile.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	p, err := h.Store.GetProfile(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "PROFILE_NOT_FOUND", "Profile not found", nil)
			return
		}
		h.Logger.Error().Err(err).Str("user_id", id.String()).Msg("get profile")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "Failed to fetch profile", nil)
		return
	}
	common.JSON(w, http.StatusOK, p)
}

// Update handles PUT /api/profile. Provided fields are upserted; omitted ones keep their value.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	var in updateRequest
	if err := common.DecodeAndValidate(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	p, set := in.profile(id)
	if !set {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "At least one of name, phone, org, year is required", nil)
		return
	}
	updated, err := h.Store.UpsertProfile(r.Context(), p)
	if err != nil {
		h.Logger.Error().Err(err).Str("user_id", id.String()).Msg("upsert profile")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "Failed to update profile", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"updated": updated})
}

// Dashboard handles GET /api/dashboard.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	var out Dashboard
	p, err := h.Store.GetProfile(ctx, id)
	switch {
	case err == nil:
		out.Profile = &p
	case !errors.Is(err, store.ErrNotFound):
		h.dashboardFailed(w, id, err)
		return
	}
	if out.Events, err = h.Store.ListActiveEvents(ctx); err != nil {
		h.dashboardFailed(w, id, err)
		return
	}
	if out.MyPasses, err = h.Store.ListOrders(ctx, id); err != nil {
		h.dashboardFailed(w, id, err)
		return
	}
	if out.Events == nil {
		out.Events = []store.Event{}
	}
	if out.MyPasses == nil {
		out.MyPasses = []store.OrderWithPass{}
	}
	if len(out.Events) > 0 {
		out.CountdownMS = catalog.Countdown(out.Events[0].StartDate, h.now())
	}
	common.JSON(w, http.StatusOK, out)
}

func (h *Handler) dashboardFailed(w http.ResponseWriter, id uuid.UUID, err error) {
	h.Logger.Error().Err(err).Str("user_id", id.String()).Msg("load dashboard")
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "Failed to fetch dashboard data", nil)
}
