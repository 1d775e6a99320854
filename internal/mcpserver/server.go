// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes trip tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/tripbook/internal/apperr"
	"github.com/starford/tripbook/internal/trip"
	"github.com/starford/tripbook/internal/tripstore"
)

const schemaURI = "tripbook://trip-schema"

// Server wraps the MCP server with trip tools.
type Server struct {
	mcp       *server.MCPServer
	store     *tripstore.Store
	imagesDir string
}

// New creates a new MCP server with all trip tools registered. Images fetched
// by set_trip_image are written to imagesDir.
func New(store *tripstore.Store, imagesDir string) *Server {
	s := &Server{store: store, imagesDir: imagesDir}

	s.mcp = server.NewMCPServer(
		"Tripbook",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_trips",
		mcp.WithDescription("List every stored trip with its id, title, destination, dates and version."),
	), s.listTrips)

	s.mcp.AddTool(mcp.NewTool("get_trip",
		mcp.WithDescription("Read the full JSON document of a trip."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Trip id (trip_...)")),
	), s.getTrip)

	s.mcp.AddTool(mcp.NewTool("create_trip",
		mcp.WithDescription("Create a new trip. All arguments are optional; collections start empty. "+
			"Returns the new trip document."),
		mcp.WithString("title", mcp.Description("Trip title")),
		mcp.WithString("destination", mcp.Description("Destination, e.g. \"Lisbon, Portugal\"")),
		mcp.WithString("startDate", mcp.Description("First day, YYYY-MM-DD")),
		mcp.WithString("endDate", mcp.Description("Last day, YYYY-MM-DD")),
	), s.createTrip)

	s.mcp.AddTool(mcp.NewTool("set_trip_field",
		mcp.WithDescription("Replace one top-level field of a trip. The value is the JSON encoding of the "+
			"whole new field value. Read the schema first via get_trip_schema or the "+
			schemaURI+" resource."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Trip id")),
		mcp.WithString("field", mcp.Required(), mcp.Description("Field name, e.g. flights")),
		mcp.WithString("value", mcp.Required(), mcp.Description("JSON value, e.g. [{\"airline\":\"AF\",\"flightNumber\":\"12\"}]")),
		mcp.WithNumber("expectedVersion", mcp.Description("Version you last read; the write fails if the trip changed since")),
		mcp.WithBoolean("create", mcp.Description("Create the trip under this id if it does not exist")),
	), s.setTripField)

	s.mcp.AddTool(mcp.NewTool("seed_trip",
		mcp.WithDescription("Fill an empty outfit plan (one entry per trip day) and an empty packing list "+
			"with the starter categories."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Trip id")),
	), s.seedTrip)

	s.mcp.AddTool(mcp.NewTool("set_trip_image",
		mcp.WithDescription("Download an image (http/https URL or base64 data: URI) and make it the "+
			"trip's destination image."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Trip id")),
		mcp.WithString("url", mcp.Required(), mcp.Description("Image URL or data URI")),
	), s.setTripImage)

	s.mcp.AddTool(mcp.NewTool("delete_trip",
		mcp.WithDescription("Delete a trip. Deleting a missing trip succeeds."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Trip id")),
	), s.deleteTrip)

	s.mcp.AddTool(mcp.NewTool("get_trip_schema",
		mcp.WithDescription("Returns the trip document schema and editing rules. "+
			"Call this before setting fields."),
	), s.getTripSchema)

	s.mcp.AddResource(
		mcp.NewResource(schemaURI, "Trip Schema",
			mcp.WithResourceDescription("Trip document fields and the rules writes must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readTripSchemaResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

type tripSummary struct {
	ID          string `json:"id"`
	Version     int64  `json:"version"`
	Title       string `json:"title,omitempty"`
	Destination string `json:"destination,omitempty"`
	StartDate   string `json:"startDate,omitempty"`
	EndDate     string `json:"endDate,omitempty"`
}

type listResult struct {
	Trips   []tripSummary `json:"trips"`
	Skipped []string      `json:"skipped,omitempty"`
}

func (s *Server) listTrips(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res := listResult{Trips: []tripSummary{}}
	for doc, err := range s.store.List(ctx) {
		if err != nil {
			var rerr *tripstore.RecordError
			if errors.As(err, &rerr) {
				res.Skipped = append(res.Skipped, rerr.ID)
				continue
			}
			return toolError(err), nil
		}
		sum := tripSummary{ID: doc.ID, Version: doc.Version, Title: doc.Title, Destination: doc.Destination}
		if !doc.StartDate.IsZero() {
			sum.StartDate = doc.StartDate.String()
		}
		if !doc.EndDate.IsZero() {
			sum.EndDate = doc.EndDate.String()
		}
		res.Trips = append(res.Trips, sum)
	}
	return jsonResult(res), nil
}

func (s *Server) getTrip(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(doc), nil
}

func (s *Server) createTrip(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	var patches []trip.Patch
	for _, f := range []trip.Field{trip.FieldTitle, trip.FieldDestination, trip.FieldStartDate, trip.FieldEndDate} {
		v, ok := args[string(f)].(string)
		if !ok || v == "" {
			continue
		}
		raw, _ := json.Marshal(v)
		p, err := trip.ParsePatch(string(f), raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		patches = append(patches, p)
	}

	id, err := s.store.Create(ctx, patches...)
	if err != nil {
		return toolError(err), nil
	}
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(doc), nil
}

func (s *Server) setTripField(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	field, err := req.RequireString("field")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	value, err := req.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	patch, err := trip.ParsePatch(field, json.RawMessage(value))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var opts []tripstore.MergeOption
	args := req.GetArguments()
	if v, ok := args["expectedVersion"].(float64); ok { // JSON numbers decode as float64
		opts = append(opts, tripstore.IfVersion(int64(v)))
	}
	if v, ok := args["create"].(bool); ok && v {
		opts = append(opts, tripstore.CreateIfMissing())
	}

	doc, err := s.store.MergeField(ctx, id, patch, opts...)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(doc), nil
}

func (s *Server) seedTrip(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	for _, p := range trip.SeedPatches(doc) {
		if doc, err = s.store.MergeField(ctx, id, p, tripstore.IfVersion(doc.Version)); err != nil {
			return toolError(err), nil
		}
	}
	return jsonResult(doc), nil
}

func (s *Server) deleteTrip(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

func (s *Server) getTripSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(TripSchemaContract), nil
}

func (s *Server) readTripSchemaResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      schemaURI,
			MIMEType: "text/markdown",
			Text:     TripSchemaContract,
		},
	}, nil
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

// toolError turns a store failure into a tool error result. Storage details
// stay in the log.
func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return mcp.NewToolResultError(err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("trip not found")
	case errors.Is(err, apperr.ErrConflict):
		return mcp.NewToolResultError("version conflict: the trip changed since you read it, read it again")
	case errors.Is(err, apperr.ErrCorruptRecord):
		return mcp.NewToolResultError("trip record is corrupt")
	default:
		slog.Error("mcp: tool failed", slog.String("error", err.Error()))
		return mcp.NewToolResultError("internal error")
	}
}
