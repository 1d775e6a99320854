package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tripbook/internal/apperr"
	"github.com/starford/tripbook/internal/trip"
	"github.com/starford/tripbook/internal/tripstore"
)

const maxBodyBytes = 1 << 20

// Sharer sends a copy of a trip to a recipient.
type Sharer interface {
	Share(ctx context.Context, recipient string, doc *trip.Document) (string, error)
}

// Handler holds API route handlers.
type Handler struct {
	store  *tripstore.Store
	sharer Sharer
}

// NewHandler creates a new Handler. sharer may be nil, which disables the
// share endpoint.
func NewHandler(store *tripstore.Store, sharer Sharer) *Handler {
	return &Handler{store: store, sharer: sharer}
}

// ListTrips handles GET /api/trips.
//
//	@Summary		List every stored trip
//	@Tags			trips
//	@Produce		json
//	@Success		200		{object}	TripListResponse
//	@Security		BearerAuth
//	@Router			/trips [get]
func (h *Handler) ListTrips(w http.ResponseWriter, r *http.Request) {
	resp := TripListResponse{Trips: []*trip.Document{}, Skipped: []SkippedRecord{}}
	for doc, err := range h.store.List(r.Context()) {
		if err != nil {
			var rerr *tripstore.RecordError
			if errors.As(err, &rerr) {
				slog.Warn("list trips: skipping record", slog.String("id", rerr.ID), slog.String("error", err.Error()))
				resp.Skipped = append(resp.Skipped, SkippedRecord{ID: rerr.ID, Error: apperr.ErrCorruptRecord.Error()})
				continue
			}
			writeStoreError(w, "list trips", "", err)
			return
		}
		resp.Trips = append(resp.Trips, doc)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTrip handles GET /api/trips/{id}.
//
//	@Summary		Get a single trip
//	@Tags			trips
//	@Produce		json
//	@Param			id		path		string	true	"Trip id"
//	@Success		200		{object}	trip.Document
//	@Failure		404		{object}	errResponse
//	@Failure		500		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/trips/{id} [get]
func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, "get trip", id, err)
		return
	}
	setETag(w, doc.Version)
	writeJSON(w, http.StatusOK, doc)
}

// CreateTrip handles POST /api/trips.
//
//	@Summary		Create a trip
//	@Tags			trips
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateTripRequest	false	"Initial field values"
//	@Success		201		{object}	trip.Document
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/trips [post]
func (h *Handler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}

	var req CreateTripRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
			return
		}
	}

	for name := range req.Fields {
		if _, err := trip.ParseField(name); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
			return
		}
	}
	// Apply in document order so the start date lands before the end date
	// is checked against it.
	var patches []trip.Patch
	for _, f := range trip.Fields {
		raw, ok := req.Fields[string(f)]
		if !ok {
			continue
		}
		p, err := trip.ParsePatch(string(f), raw)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
			return
		}
		patches = append(patches, p)
	}

	id, err := h.store.Create(r.Context(), patches...)
	if err != nil {
		writeStoreError(w, "create trip", "", err)
		return
	}
	doc, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, "create trip", id, err)
		return
	}
	w.Header().Set("Location", "/api/trips/"+id)
	setETag(w, doc.Version)
	writeJSON(w, http.StatusCreated, doc)
}

// SetField handles PUT /api/trips/{id}/fields/{field}.
//
// The body is the new JSON value of the field. If-Match carries the version
// the client last saw; ?create=true starts a missing trip from the empty
// template instead of returning 404.
//
//	@Summary		Replace one field of a trip
//	@Tags			trips
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string	true	"Trip id"
//	@Param			field		path		string	true	"Field name"
//	@Param			If-Match	header		string	false	"Version for optimistic concurrency"
//	@Param			create		query		bool	false	"Create the trip if missing"
//	@Success		200			{object}	trip.Document
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Failure		422			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/trips/{id}/fields/{field} [put]
func (h *Handler) SetField(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	id := chi.URLParam(r, "id")
	field := chi.URLParam(r, "field")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	patch, err := trip.ParsePatch(field, body)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
		return
	}

	var opts []tripstore.MergeOption
	version, ok, err := ifMatchVersion(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if ok {
		opts = append(opts, tripstore.IfVersion(version))
	}
	if r.URL.Query().Get("create") == "true" {
		opts = append(opts, tripstore.CreateIfMissing())
	}

	doc, err := h.store.MergeField(r.Context(), id, patch, opts...)
	if err != nil {
		writeStoreError(w, "set field", id, err)
		return
	}
	setETag(w, doc.Version)
	writeJSON(w, http.StatusOK, doc)
}

// DeleteTrip handles DELETE /api/trips/{id}.
//
//	@Summary		Delete a trip
//	@Tags			trips
//	@Param			id	path	string	true	"Trip id"
//	@Success		204	"Trip deleted or already absent"
//	@Security		BearerAuth
//	@Router			/trips/{id} [delete]
func (h *Handler) DeleteTrip(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		writeStoreError(w, "delete trip", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SeedTrip handles POST /api/trips/{id}/seed.
//
// It fills the outfit plan (one day per trip day) and the starter packing
// list when those are still empty.
//
//	@Summary		Fill empty outfit and packing collections
//	@Tags			trips
//	@Produce		json
//	@Param			id	path		string	true	"Trip id"
//	@Success		200	{object}	trip.Document
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/trips/{id}/seed [post]
func (h *Handler) SeedTrip(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, "seed trip", id, err)
		return
	}
	for _, p := range trip.SeedPatches(doc) {
		doc, err = h.store.MergeField(r.Context(), id, p, tripstore.IfVersion(doc.Version))
		if err != nil {
			writeStoreError(w, "seed trip", id, err)
			return
		}
	}
	setETag(w, doc.Version)
	writeJSON(w, http.StatusOK, doc)
}

// ShareTrip handles POST /api/trips/{id}/share.
//
//	@Summary		Send a copy of the trip to someone
//	@Tags			trips
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Trip id"
//	@Param			body	body		ShareRequest	true	"Recipient"
//	@Success		201		{object}	ShareResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/trips/{id}/share [post]
func (h *Handler) ShareTrip(w http.ResponseWriter, r *http.Request) {
	if h.sharer == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("sharing is not configured"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	id := chi.URLParam(r, "id")

	var req ShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	doc, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, "share trip", id, err)
		return
	}
	shareID, err := h.sharer.Share(r.Context(), req.Recipient, doc)
	if err != nil {
		writeStoreError(w, "share trip", id, err)
		return
	}
	slog.Info("trip shared", slog.String("id", id), slog.String("share_id", shareID))
	writeJSON(w, http.StatusCreated, ShareResponse{ShareID: shareID})
}
