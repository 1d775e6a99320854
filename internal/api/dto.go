package api

import (
	"encoding/json"

	"github.com/starford/tripbook/internal/trip"
)

// CreateTripRequest is the request body for creating a trip. Every key of
// Fields must be a trip field name; the value is decoded as that field.
type CreateTripRequest struct {
	Fields map[string]json.RawMessage `json:"fields"`
}

// TripListResponse wraps the trip listing. Records that could not be read
// are reported in Skipped instead of failing the whole list.
type TripListResponse struct {
	Trips   []*trip.Document `json:"trips" validate:"required"`
	Skipped []SkippedRecord  `json:"skipped" validate:"required"`
}

// SkippedRecord names a stored record left out of a listing.
type SkippedRecord struct {
	ID    string `json:"id" example:"trip_0b7e2c1a-8f3d-4c55-9a61-2f1e0d9c8b7a"`
	Error string `json:"error" example:"corrupt record"`
}

// ShareRequest is the request body for sharing a trip.
type ShareRequest struct {
	Recipient string `json:"recipient" example:"friend@example.com" validate:"required"`
}

// ShareResponse carries the id the remote store gave the shared copy.
type ShareResponse struct {
	ShareID string `json:"shareId" example:"8c1bX2kq"`
}
