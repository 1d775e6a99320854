package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/tripbook/internal/apperr"
	"github.com/starford/tripbook/internal/trip"
)

func TestShare(t *testing.T) {
	var got map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/trips", r.URL.Path)
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"remote-42"}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "s3cret", time.Second)
	c.now = func() time.Time { return time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC) }

	doc := trip.New("trip_abc")
	doc.Destination = "Paris"
	id, err := c.Share(context.Background(), " friend@example.com ", doc)
	require.NoError(t, err)
	assert.Equal(t, "remote-42", id)

	assert.JSONEq(t, `"friend@example.com"`, string(got["recipient"]))
	assert.JSONEq(t, `"2025-04-01T12:00:00Z"`, string(got["sharedAt"]))
	var shared trip.Document
	require.NoError(t, json.Unmarshal(got["tripData"], &shared))
	assert.Equal(t, "trip_abc", shared.ID)
	assert.Equal(t, "Paris", shared.Destination)
}

func TestShareRequiresRecipient(t *testing.T) {
	c := New("http://127.0.0.1:1", "", time.Second)
	_, err := c.Share(context.Background(), "   ", trip.New("trip_a"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestShareRemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "", time.Second).Share(context.Background(), "a@b.c", trip.New("trip_a"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemote))
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestShareMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "", time.Second).Share(context.Background(), "a@b.c", trip.New("trip_a"))
	assert.ErrorIs(t, err, ErrRemote)
}

func TestShareUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, "", time.Second).Share(context.Background(), "a@b.c", trip.New("trip_a"))
	assert.ErrorIs(t, err, ErrRemote)
}
