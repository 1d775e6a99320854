// Package mirror exports trip snapshots to a remote document store so they
// can be shared with another person. It is a one-shot copy: nothing is read
// back and the local record is never touched.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/starford/tripbook/internal/apperr"
	"github.com/starford/tripbook/internal/trip"
)

// ErrRemote is wrapped by every failure of the remote store.
var ErrRemote = errors.New("mirror: remote failure")

// Shared is the document stored remotely for one share.
type Shared struct {
	Recipient string         `json:"recipient"`
	TripData  *trip.Document `json:"tripData"`
	SharedAt  time.Time      `json:"sharedAt"`
}

type shareResponse struct {
	ID string `json:"id"`
}

// Client posts shared trips to the remote collection.
type Client struct {
	http *resty.Client
	now  func() time.Time
}

// New creates a client for the remote store at baseURL. An empty token sends
// no Authorization header.
func New(baseURL, token string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c, now: time.Now}
}

// Share stores a snapshot of doc for recipient and returns the id the remote
// store assigned to it.
func (c *Client) Share(ctx context.Context, recipient string, doc *trip.Document) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return "", fmt.Errorf("mirror: recipient is required: %w", apperr.ErrValidation)
	}
	if doc == nil {
		return "", fmt.Errorf("mirror: no trip to share: %w", apperr.ErrValidation)
	}

	body := Shared{Recipient: recipient, TripData: doc, SharedAt: c.now().UTC()}
	var out shareResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&body).
		SetResult(&out).
		Post("/trips")
	if err != nil {
		return "", fmt.Errorf("mirror: share %s: %w: %w", doc.ID, ErrRemote, err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return "", fmt.Errorf("mirror: share %s: status %d: %s: %w",
			doc.ID, resp.StatusCode(), strings.TrimSpace(resp.String()), ErrRemote)
	}
	if out.ID == "" {
		return "", fmt.Errorf("mirror: share %s: response carries no id: %w", doc.ID, ErrRemote)
	}
	return out.ID, nil
}
