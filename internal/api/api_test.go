package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tripbook/internal/apperr"
	"github.com/starford/tripbook/internal/kv"
	"github.com/starford/tripbook/internal/mirror"
	"github.com/starford/tripbook/internal/trip"
	"github.com/starford/tripbook/internal/tripstore"
)

type fakeSharer struct {
	recipient string
	doc       *trip.Document
	err       error
}

func (f *fakeSharer) Share(_ context.Context, recipient string, doc *trip.Document) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if recipient == "" {
		return "", fmt.Errorf("recipient is required: %w", apperr.ErrValidation)
	}
	f.recipient, f.doc = recipient, doc
	return "share-1", nil
}

type testEnvironment struct {
	store     *tripstore.Store
	backend   kv.Backend
	router    http.Handler
	imagesDir string
	sharer    *fakeSharer
}

// testEnv builds a router over an in-memory store. An empty authToken means
// auth is disabled.
func testEnv(t *testing.T, authToken string) *testEnvironment {
	t.Helper()
	return testEnvFull(t, authToken, nil)
}

func testEnvFull(t *testing.T, authToken string, sseHandler http.Handler) *testEnvironment {
	t.Helper()
	backend := kv.NewMemory()
	store := tripstore.New(backend)
	sharer := &fakeSharer{}
	imagesDir := filepath.Join(t.TempDir(), "images")
	router := NewRouter(store, sharer, authToken != "", authToken, sseHandler, imagesDir)
	return &testEnvironment{store: store, backend: backend, router: router, imagesDir: imagesDir, sharer: sharer}
}

func (e *testEnvironment) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeTrip(t *testing.T, w *httptest.ResponseRecorder) *trip.Document {
	t.Helper()
	doc, err := trip.Decode(w.Body.Bytes())
	if err != nil {
		t.Fatalf("decode trip: %v; body = %s", err, w.Body.String())
	}
	return doc
}

func TestCreateAndGetTrip(t *testing.T) {
	env := testEnv(t, "")

	w := env.do(t, http.MethodPost, "/trips",
		`{"fields":{"title":"Paris","destination":"Paris, France","startDate":"2025-04-01","endDate":"2025-04-03"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	created := decodeTrip(t, w)
	if !strings.HasPrefix(created.ID, trip.KeyPrefix) {
		t.Errorf("id = %q", created.ID)
	}
	if got := w.Header().Get("ETag"); got != `"1"` {
		t.Errorf("ETag = %q, want \"1\"", got)
	}
	if got := w.Header().Get("Location"); got != "/api/trips/"+created.ID {
		t.Errorf("Location = %q", got)
	}

	w = env.do(t, http.MethodGet, "/trips/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	got := decodeTrip(t, w)
	if got.Destination != "Paris, France" || got.StartDate.String() != "2025-04-01" {
		t.Errorf("got %+v", got)
	}
	if got.Flights == nil || len(got.Flights) != 0 {
		t.Errorf("flights = %v, want empty", got.Flights)
	}
}

func TestCreateTripEmptyBody(t *testing.T) {
	env := testEnv(t, "")
	w := env.do(t, http.MethodPost, "/trips", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestCreateTripRejects(t *testing.T) {
	env := testEnv(t, "")
	cases := map[string]struct {
		body string
		want int
	}{
		"bad json":          {`{"fields":`, http.StatusBadRequest},
		"unknown field":     {`{"fields":{"weather":"sunny"}}`, http.StatusUnprocessableEntity},
		"wrong type":        {`{"fields":{"flights":"DL100"}}`, http.StatusUnprocessableEntity},
		"dates reversed":    {`{"fields":{"startDate":"2025-05-05","endDate":"2025-05-01"}}`, http.StatusUnprocessableEntity},
		"invalid highlight": {`{"fields":{"highlights":[{"kind":"text"}]}}`, http.StatusUnprocessableEntity},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/trips", tc.body)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d; body = %s", w.Code, tc.want, w.Body.String())
			}
		})
	}

	w := env.do(t, http.MethodGet, "/trips", "")
	var resp TripListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Trips) != 0 {
		t.Errorf("rejected creates stored %d trips", len(resp.Trips))
	}
}

func TestSetFieldWithOptimisticLocking(t *testing.T) {
	env := testEnv(t, "")
	id, err := env.store.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	path := "/trips/" + id + "/fields/flights"

	w := env.do(t, http.MethodPut, path, `[{"airline":"DL","flightNumber":"100"}]`, "If-Match", `"1"`)
	if w.Code != http.StatusOK {
		t.Fatalf("set status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("ETag"); got != `"2"` {
		t.Errorf("ETag = %q, want \"2\"", got)
	}

	// Stale version.
	w = env.do(t, http.MethodPut, "/trips/"+id+"/fields/lodgings", `[{"hotelName":"H"}]`, "If-Match", `"1"`)
	if w.Code != http.StatusConflict {
		t.Errorf("stale set = %d, want 409", w.Code)
	}

	w = env.do(t, http.MethodGet, "/trips/"+id, "")
	got := decodeTrip(t, w)
	if len(got.Flights) != 1 || len(got.Lodgings) != 0 {
		t.Errorf("got flights=%v lodgings=%v", got.Flights, got.Lodgings)
	}
}

func TestSetFieldWithoutIfMatch(t *testing.T) {
	env := testEnv(t, "")
	id, _ := env.store.Create(context.Background(), trip.SetTitle("Rome"))

	w := env.do(t, http.MethodPut, "/trips/"+id+"/fields/destination", `"Rome, Italy"`)
	if w.Code != http.StatusOK {
		t.Fatalf("set = %d, body = %s", w.Code, w.Body.String())
	}
	got := decodeTrip(t, w)
	if got.Title != "Rome" || got.Destination != "Rome, Italy" {
		t.Errorf("got %+v", got)
	}
}

func TestSetFieldErrors(t *testing.T) {
	env := testEnv(t, "")
	id, _ := env.store.Create(context.Background())

	cases := []struct {
		name, path, body string
		header           []string
		want             int
	}{
		{"missing trip", "/trips/trip_ghost/fields/title", `"x"`, nil, http.StatusNotFound},
		{"unknown field", "/trips/" + id + "/fields/weather", `"x"`, nil, http.StatusUnprocessableEntity},
		{"id is not a field", "/trips/" + id + "/fields/id", `"trip_other"`, nil, http.StatusUnprocessableEntity},
		{"unknown key", "/trips/" + id + "/fields/flights", `[{"airline":"A","flightNumber":"1","seat":"2A"}]`, nil, http.StatusUnprocessableEntity},
		{"bad method", "/trips/" + id + "/fields/transportation", `[{"method":"rocket"}]`, nil, http.StatusUnprocessableEntity},
		{"empty body", "/trips/" + id + "/fields/title", ``, nil, http.StatusUnprocessableEntity},
		{"bad if-match", "/trips/" + id + "/fields/title", `"x"`, []string{"If-Match", "abc"}, http.StatusBadRequest},
		{"invalid id", "/trips/note_1/fields/title", `"x"`, nil, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, http.MethodPut, tc.path, tc.body, tc.header...)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d; body = %s", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestSetFieldCreateIfMissing(t *testing.T) {
	env := testEnv(t, "")

	w := env.do(t, http.MethodPut, "/trips/trip_fresh/fields/title?create=true", `"New"`)
	if w.Code != http.StatusOK {
		t.Fatalf("create via set = %d, body = %s", w.Code, w.Body.String())
	}
	got := decodeTrip(t, w)
	if got.ID != "trip_fresh" || got.Version != 1 || got.Title != "New" {
		t.Errorf("got %+v", got)
	}
}

func TestDeleteTrip(t *testing.T) {
	env := testEnv(t, "")
	id, _ := env.store.Create(context.Background())

	for range 2 {
		w := env.do(t, http.MethodDelete, "/trips/"+id, "")
		if w.Code != http.StatusNoContent {
			t.Fatalf("delete = %d, want 204", w.Code)
		}
	}
	w := env.do(t, http.MethodGet, "/trips/"+id, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
}

func TestListTripsSkipsCorrupt(t *testing.T) {
	env := testEnv(t, "")
	ctx := context.Background()
	good, _ := env.store.Create(ctx, trip.SetTitle("good"))
	_ = env.backend.Set(ctx, "trip_broken", []byte("{not json"))

	w := env.do(t, http.MethodGet, "/trips", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var resp struct {
		Trips   []json.RawMessage `json:"trips"`
		Skipped []SkippedRecord   `json:"skipped"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Trips) != 1 || !bytes.Contains(resp.Trips[0], []byte(good)) {
		t.Errorf("trips = %s", w.Body.String())
	}
	if len(resp.Skipped) != 1 || resp.Skipped[0].ID != "trip_broken" {
		t.Errorf("skipped = %+v", resp.Skipped)
	}

	w = env.do(t, http.MethodGet, "/trips/trip_broken", "")
	if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), "corrupt record") {
		t.Errorf("get corrupt = %d %s", w.Code, w.Body.String())
	}
}

func TestListTripsEmpty(t *testing.T) {
	env := testEnv(t, "")
	w := env.do(t, http.MethodGet, "/trips", "")
	if strings.TrimSpace(w.Body.String()) != `{"trips":[],"skipped":[]}` {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestSeedTrip(t *testing.T) {
	env := testEnv(t, "")
	id, _ := env.store.Create(context.Background(),
		trip.SetStartDate(trip.NewDate(2025, time.April, 28)),
		trip.SetEndDate(trip.NewDate(2025, time.May, 1)),
	)

	w := env.do(t, http.MethodPost, "/trips/"+id+"/seed", "")
	if w.Code != http.StatusOK {
		t.Fatalf("seed = %d, body = %s", w.Code, w.Body.String())
	}
	got := decodeTrip(t, w)
	if len(got.Outfits) != 4 || got.Outfits[0].DateLabel != "Mon, Apr 28" {
		t.Errorf("outfits = %+v", got.Outfits)
	}
	if len(got.PackingItems) != 4 {
		t.Errorf("packing = %+v", got.PackingItems)
	}
	if got.Version != 3 {
		t.Errorf("version = %d, want 3", got.Version)
	}

	// Seeding again changes nothing.
	w = env.do(t, http.MethodPost, "/trips/"+id+"/seed", "")
	if again := decodeTrip(t, w); again.Version != 3 {
		t.Errorf("second seed wrote: version %d", again.Version)
	}
}

func TestShareTrip(t *testing.T) {
	env := testEnv(t, "")
	id, _ := env.store.Create(context.Background(), trip.SetDestination("Oslo"))

	w := env.do(t, http.MethodPost, "/trips/"+id+"/share", `{"recipient":"friend@example.com"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("share = %d, body = %s", w.Code, w.Body.String())
	}
	var resp ShareResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.ShareID != "share-1" {
		t.Errorf("share id = %q", resp.ShareID)
	}
	if env.sharer.recipient != "friend@example.com" || env.sharer.doc.Destination != "Oslo" {
		t.Errorf("sharer got %q %+v", env.sharer.recipient, env.sharer.doc)
	}

	w = env.do(t, http.MethodPost, "/trips/"+id+"/share", `{"recipient":""}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty recipient = %d, want 422", w.Code)
	}
	w = env.do(t, http.MethodPost, "/trips/trip_ghost/share", `{"recipient":"a@b.c"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing trip = %d, want 404", w.Code)
	}

	env.sharer.err = fmt.Errorf("boom: %w", mirror.ErrRemote)
	w = env.do(t, http.MethodPost, "/trips/"+id+"/share", `{"recipient":"a@b.c"}`)
	if w.Code != http.StatusBadGateway {
		t.Errorf("remote failure = %d, want 502", w.Code)
	}
}

func TestShareTripNotConfigured(t *testing.T) {
	store := tripstore.New(kv.NewMemory())
	router := NewRouter(store, nil, false, "", nil, t.TempDir())
	id, _ := store.Create(context.Background())

	req := httptest.NewRequest(http.MethodPost, "/trips/"+id+"/share", strings.NewReader(`{"recipient":"a@b.c"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("share without mirror = %d, want 503", w.Code)
	}
}

func TestStorageFailureIs500(t *testing.T) {
	store := tripstore.New(brokenBackend{})
	router := NewRouter(store, nil, false, "", nil, t.TempDir())

	for _, path := range []string{"/trips", "/trips/trip_a"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), "internal error") {
			t.Errorf("%s = %d %s", path, w.Code, w.Body.String())
		}
	}
}

type brokenBackend struct{}

var errBroken = errors.New("backend unavailable")

func (brokenBackend) Get(context.Context, string) ([]byte, error)    { return nil, errBroken }
func (brokenBackend) Set(context.Context, string, []byte) error      { return errBroken }
func (brokenBackend) Remove(context.Context, string) error           { return errBroken }
func (brokenBackend) Keys(context.Context, string) ([]string, error) { return nil, errBroken }
func (brokenBackend) Close() error                                    { return nil }

// Auth.

func TestAuthMiddleware_ValidToken(t *testing.T) {
	env := testEnv(t, "secret123")
	w := env.do(t, http.MethodPost, "/trips", `{}`, "Authorization", "Bearer secret123")
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	env := testEnv(t, "secret123")
	w := env.do(t, http.MethodGet, "/trips", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate header")
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	env := testEnv(t, "secret123")
	w := env.do(t, http.MethodGet, "/trips", "", "Authorization", "Bearer wrong")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	env := testEnv(t, "")
	w := env.do(t, http.MethodGet, "/trips", "")
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth.

// blockingSSE writes stream headers and blocks until the client goes away.
var blockingSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	env := testEnvFull(t, "secret", blockingSSE)
	w := env.do(t, http.MethodGet, "/events", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	env := testEnvFull(t, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

// Images.

var jpegBytes = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x01, 0x00, 0x00, 0x01}

func uploadImage(t *testing.T, router http.Handler, id, filename string, content []byte, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.Copy(part, bytes.NewReader(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/trips/"+id+"/image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUploadAndServeImage(t *testing.T) {
	env := testEnv(t, "")
	id, _ := env.store.Create(context.Background())

	w := uploadImage(t, env.router, id, "eiffel.JPG", jpegBytes)
	if w.Code != http.StatusOK {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	doc := decodeTrip(t, w)
	if !strings.HasPrefix(doc.ImageURL, ImagePathPrefix+id+"-") || !strings.HasSuffix(doc.ImageURL, ".jpg") {
		t.Fatalf("imageUrl = %q", doc.ImageURL)
	}

	name := strings.TrimPrefix(doc.ImageURL, ImagePathPrefix)
	data, err := os.ReadFile(filepath.Join(env.imagesDir, name))
	if err != nil || !bytes.Equal(data, jpegBytes) {
		t.Fatalf("file on disk = %q, %v", data, err)
	}

	images := NewImageRouter(env.imagesDir)
	req := httptest.NewRequest(http.MethodGet, "/"+name, nil)
	rec := httptest.NewRecorder()
	images.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !bytes.Equal(rec.Body.Bytes(), jpegBytes) {
		t.Errorf("serve = %d %q", rec.Code, rec.Body.String())
	}
}

func TestUploadImageRejects(t *testing.T) {
	env := testEnv(t, "")
	id, _ := env.store.Create(context.Background())

	if w := uploadImage(t, env.router, id, "notes.txt", []byte("x")); w.Code != http.StatusBadRequest {
		t.Errorf("txt upload = %d, want 400", w.Code)
	}
	if w := uploadImage(t, env.router, id, "eiffel.jpg", []byte("fake-jpeg")); w.Code != http.StatusBadRequest {
		t.Errorf("text named .jpg = %d, want 400", w.Code)
	}
	if w := uploadImage(t, env.router, id, "eiffel.png", jpegBytes); w.Code != http.StatusBadRequest {
		t.Errorf("jpeg named .png = %d, want 400", w.Code)
	}
	if w := uploadImage(t, env.router, "trip_ghost", "a.jpg", jpegBytes); w.Code != http.StatusNotFound {
		t.Errorf("missing trip = %d, want 404", w.Code)
	}
	got, err := env.store.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if got.ImageURL != "" {
		t.Errorf("rejected uploads set imageUrl = %q", got.ImageURL)
	}
	entries, _ := os.ReadDir(env.imagesDir)
	if len(entries) != 0 {
		t.Errorf("rejected uploads left %d files", len(entries))
	}
}

func TestUploadImage_MissingFileField(t *testing.T) {
	env := testEnv(t, "")
	id, _ := env.store.Create(context.Background())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("wrong", "data")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/trips/"+id+"/image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing field = %d, want 400", w.Code)
	}
}

func TestUploadImage_AuthProtected(t *testing.T) {
	env := testEnv(t, "secret")
	id, _ := env.store.Create(context.Background())

	if w := uploadImage(t, env.router, id, "x.jpg", jpegBytes); w.Code != http.StatusUnauthorized {
		t.Errorf("upload no auth = %d, want 401", w.Code)
	}
	if w := uploadImage(t, env.router, id, "x.jpg", jpegBytes, "Authorization", "Bearer secret"); w.Code != http.StatusOK {
		t.Errorf("upload with auth = %d, want 200", w.Code)
	}
}

func TestServeImage_NotFoundAndTraversal(t *testing.T) {
	ih := NewImageHandler(t.TempDir(), nil)
	r := chi.NewRouter()
	r.Get("/images/{filename}", ih.ServeFile)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/images/nope.png", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing image = %d, want 404", w.Code)
	}

	for _, name := range []string{"../secret.json", "../../etc/passwd", ".hidden"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/images/"+name, nil))
		if w.Code == http.StatusOK {
			t.Errorf("%q should not return 200", name)
		}
	}
}
