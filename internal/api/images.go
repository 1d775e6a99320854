package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/starford/tripbook/internal/imagetype"
	"github.com/starford/tripbook/internal/trip"
	"github.com/starford/tripbook/internal/tripstore"
)

// ImagePathPrefix is the URL prefix images are served under.
const ImagePathPrefix = "/images/"

const maxImageBytes = 20 << 20

// ImageHandler stores destination images and serves them back.
type ImageHandler struct {
	dir   string
	store *tripstore.Store
}

// NewImageHandler creates a handler keeping images in dir.
func NewImageHandler(dir string, store *tripstore.Store) *ImageHandler {
	return &ImageHandler{dir: dir, store: store}
}

// safeName validates that name is a plain file name and returns its path
// under the images directory.
func (h *ImageHandler) safeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") || strings.HasPrefix(cleaned, ".") {
		return "", fmt.Errorf("invalid filename: %s", name)
	}
	return filepath.Join(h.dir, cleaned), nil
}

// ServeFile handles GET /images/{filename}.
func (h *ImageHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	abs, err := h.safeName(chi.URLParam(r, "filename"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, statErr := os.Stat(abs); os.IsNotExist(statErr) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, abs)
}

// Upload handles POST /api/trips/{id}/image (multipart/form-data, field
// "file"). The content must match the file extension. The file is stored
// under a fresh name and the trip's imageUrl points at it.
//
//	@Summary		Upload the destination image of a trip
//	@Tags			trips
//	@Accept			mpfd
//	@Produce		json
//	@Param			id		path		string	true	"Trip id"
//	@Param			file	formData	file	true	"Image"
//	@Success		200		{object}	trip.Document
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/trips/{id}/image [post]
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.store.Get(r.Context(), id); err != nil {
		writeStoreError(w, "upload image", id, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes)
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	ext := imagetype.Canonical(filepath.Ext(header.Filename))
	if ext == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("unsupported image type "+strings.ToLower(filepath.Ext(header.Filename))))
		return
	}
	head := make([]byte, imagetype.SniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}
	head = head[:n]
	if err := imagetype.Check(head, ext); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	name := id + "-" + uuid.NewString() + ext
	abs, err := h.safeName(name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to create images dir"))
		return
	}
	dst, err := os.Create(abs)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to create file"))
		return
	}
	if _, err := io.Copy(dst, io.MultiReader(bytes.NewReader(head), file)); err != nil {
		_ = dst.Close()
		_ = os.Remove(abs)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to write file"))
		return
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(abs)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to write file"))
		return
	}

	doc, err := h.store.MergeField(r.Context(), id, trip.SetImageURL(ImagePathPrefix+name))
	if err != nil {
		_ = os.Remove(abs)
		writeStoreError(w, "upload image", id, err)
		return
	}
	slog.Debug("image stored", slog.String("id", id), slog.String("file", name))
	setETag(w, doc.Version)
	writeJSON(w, http.StatusOK, doc)
}
