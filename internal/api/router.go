package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tripbook/internal/tripstore"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sharer, if nil, makes the share endpoint answer 503.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// imagesDir is where uploaded destination images are written.
func NewRouter(store *tripstore.Store, sharer Sharer, authEnabled bool, token string, sseHandler http.Handler, imagesDir string) chi.Router {
	h := NewHandler(store, sharer)
	ih := NewImageHandler(imagesDir, store)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/trips", h.ListTrips)
	r.Post("/trips", h.CreateTrip)
	r.Route("/trips/{id}", func(r chi.Router) {
		r.Get("/", h.GetTrip)
		r.Delete("/", h.DeleteTrip)
		r.Put("/fields/{field}", h.SetField)
		r.Post("/seed", h.SeedTrip)
		r.Post("/share", h.ShareTrip)
		r.Post("/image", ih.Upload)
	})

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

// NewImageRouter serves uploaded images. It is mounted outside /api so that
// image URLs stored in trips work in plain <img> tags.
func NewImageRouter(imagesDir string) chi.Router {
	ih := NewImageHandler(imagesDir, nil)
	r := chi.NewRouter()
	r.Get("/{filename}", ih.ServeFile)
	return r
}
