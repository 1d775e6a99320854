// Package trip defines the trip document stored under a trip_ key and the
// typed patches that replace one of its top-level fields.
package trip

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"

	"github.com/google/uuid"

	"github.com/starford/tripbook/internal/apperr"
)

// KeyPrefix starts every trip id and storage key.
const KeyPrefix = "trip_"

var idPattern = regexp.MustCompile(`^trip_[A-Za-z0-9_-]+$`)

// NewID mints a fresh trip id.
func NewID() string {
	return KeyPrefix + uuid.NewString()
}

// ValidateID rejects ids that could not have been minted by NewID or by
// older clients (trip_ followed by letters, digits, dashes and underscores).
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("trip: invalid id %q: %w", id, apperr.ErrValidation)
	}
	return nil
}

// TransportMethod is the way a transportation leg is travelled.
type TransportMethod string

const (
	MethodBus     TransportMethod = "bus"
	MethodTrain   TransportMethod = "train"
	MethodCar     TransportMethod = "car"
	MethodBicycle TransportMethod = "bicycle"
	MethodWalk    TransportMethod = "walk"
	MethodBoat    TransportMethod = "boat"
)

// TransportMethods lists every valid method.
var TransportMethods = []TransportMethod{MethodBus, MethodTrain, MethodCar, MethodBicycle, MethodWalk, MethodBoat}

// HighlightKind says which parts of a highlight are filled in.
type HighlightKind string

const (
	HighlightText  HighlightKind = "text"
	HighlightImage HighlightKind = "image"
	HighlightBoth  HighlightKind = "both"
)

// EntryID identifies an entry within its list. Older clients wrote numeric
// ids, which are kept as their decimal text.
type EntryID string

func (e *EntryID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*e = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = EntryID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("trip: entry id must be a string or number: %w", err)
	}
	*e = EntryID(n.String())
	return nil
}

// FlightEntry is one flight of the trip.
type FlightEntry struct {
	Airline      string `json:"airline"`
	FlightNumber string `json:"flightNumber"`
}

// LodgingEntry is one hotel stay.
type LodgingEntry struct {
	ID        EntryID `json:"id,omitempty"`
	HotelName string  `json:"hotelName"`
	StartDate Date    `json:"startDate"`
	EndDate   Date    `json:"endDate"`
}

// TransportEntry is one ground or sea leg.
type TransportEntry struct {
	Method        TransportMethod `json:"method"`
	To            string          `json:"to"`
	From          string          `json:"from"`
	Date          Date            `json:"date"`
	DepartureTime Clock           `json:"departureTime"`
	ArrivalTime   Clock           `json:"arrivalTime"`
	Notes         string          `json:"notes"`
}

// OutfitEntry is the outfit plan for one day.
type OutfitEntry struct {
	ID        EntryID  `json:"id,omitempty"`
	DateLabel string   `json:"dateLabel"`
	Bullets   []string `json:"bullets"`
	ImageURI  string   `json:"imageUri"`
}

// PackingCategory groups packing items under a title.
type PackingCategory struct {
	ID    EntryID       `json:"id,omitempty"`
	Title string        `json:"title"`
	Items []PackingItem `json:"items"`
}

// PackingItem is a single thing to pack.
type PackingItem struct {
	ID      EntryID `json:"id,omitempty"`
	Name    string  `json:"name"`
	Checked bool    `json:"checked"`
}

// PlaceNote is a place worth visiting with a free-form note.
type PlaceNote struct {
	ID    EntryID `json:"id,omitempty"`
	Place string  `json:"place"`
	Note  string  `json:"note"`
}

// HighlightEntry is a memory from the trip: text, an image, or both.
type HighlightEntry struct {
	ID       EntryID       `json:"id,omitempty"`
	Kind     HighlightKind `json:"kind"`
	Text     string        `json:"text"`
	ImageURI string        `json:"imageUri"`
}

// Document is the aggregate record for one trip. Every collection field is
// owned by a single editor but lives in the same stored blob.
//
// Version increases by one on every successful write and is used for
// optimistic concurrency. Records written by older clients have version 0.
type Document struct {
	ID          string `json:"id"`
	Version     int64  `json:"version"`
	Title       string `json:"title,omitempty"`
	Destination string `json:"destination,omitempty"`
	StartDate   Date   `json:"startDate,omitzero"`
	EndDate     Date   `json:"endDate,omitzero"`
	ImageURL    string `json:"imageUrl,omitempty"`

	Flights         []FlightEntry     `json:"flights"`
	Lodgings        []LodgingEntry    `json:"lodgings"`
	Transportation  []TransportEntry  `json:"transportation"`
	Outfits         []OutfitEntry     `json:"outfits"`
	PackingItems    []PackingCategory `json:"packingItems"`
	PlacesToExplore []PlaceNote       `json:"placesToExplore"`
	Highlights      []HighlightEntry  `json:"highlights"`

	// extra holds top-level keys this version does not know about, so a
	// rewrite never drops data another client put there.
	extra map[string]json.RawMessage

	// stored holds the bytes read from disk for fields whose typed form
	// encodes differently (older shapes, nested keys this version ignores).
	// Encode writes them back as they were until a patch replaces the field.
	stored map[Field]json.RawMessage
}

// New returns the empty template for id: no scalar fields set and every
// collection empty.
func New(id string) *Document {
	d := &Document{ID: id}
	d.normalize()
	return d
}

var reservedKeys = map[string]struct{}{"id": {}, "version": {}}

// MarshalJSON renders the typed view of d plus unknown top-level keys.
func (d Document) MarshalJSON() ([]byte, error) {
	return d.marshal(nil)
}

func (d Document) marshal(stored map[Field]json.RawMessage) ([]byte, error) {
	type plain Document
	out, err := json.Marshal(plain(d))
	if err != nil || len(d.extra)+len(stored) == 0 {
		return out, err
	}
	merged := make(map[string]json.RawMessage, len(d.extra)+len(Fields)+2)
	if err := json.Unmarshal(out, &merged); err != nil {
		return nil, err
	}
	for k, v := range d.extra {
		merged[k] = v
	}
	for f, v := range stored {
		merged[string(f)] = v
	}
	return json.Marshal(merged)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	type plain Document
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = Document(p)
	d.extra, d.stored = nil, nil
	d.adoptLegacy(raw)
	d.normalize()
	for k, v := range raw {
		if _, ok := reservedKeys[k]; ok {
			continue
		}
		if _, ok := fieldSet[Field(k)]; ok {
			if err := d.keepStored(Field(k), v); err != nil {
				return err
			}
			continue
		}
		if d.extra == nil {
			d.extra = make(map[string]json.RawMessage)
		}
		d.extra[k] = v
	}
	return nil
}

// keepStored remembers v for f unless the typed value already encodes to
// the same bytes.
func (d *Document) keepStored(f Field, v json.RawMessage) error {
	// Marshal compacts v the same way the encoder will on the way out.
	orig, err := json.Marshal(v)
	if err != nil {
		return err
	}
	typed, err := json.Marshal(d.Value(f))
	if err != nil {
		return err
	}
	if bytes.Equal(orig, typed) {
		return nil
	}
	if d.stored == nil {
		d.stored = make(map[Field]json.RawMessage)
	}
	d.stored[f] = orig
	return nil
}

// Decode parses a stored blob. Anything that is not a JSON object with the
// expected field types is rejected.
func Decode(data []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("trip: record is not a JSON object")
	}
	var d Document
	if err := json.Unmarshal(trimmed, &d); err != nil {
		return nil, fmt.Errorf("trip: decode: %w", err)
	}
	return &d, nil
}

// Encode serializes d for storage. Fields no patch has replaced since d was
// decoded are written with the bytes they were read with.
func Encode(d *Document) ([]byte, error) {
	out, err := d.marshal(d.stored)
	if err != nil {
		return nil, fmt.Errorf("trip: encode: %w", err)
	}
	return out, nil
}

// Extra returns the raw value of an unknown top-level key preserved from disk.
func (d *Document) Extra(key string) (json.RawMessage, bool) {
	v, ok := d.extra[key]
	return v, ok
}

// normalize replaces absent collections with empty ones so that a never
// visited screen reads as empty rather than null.
func (d *Document) normalize() {
	d.Flights = nonNil(d.Flights)
	d.Lodgings = nonNil(d.Lodgings)
	d.Transportation = nonNil(d.Transportation)
	d.Outfits = nonNil(d.Outfits)
	for i := range d.Outfits {
		d.Outfits[i].Bullets = nonNil(d.Outfits[i].Bullets)
	}
	d.PackingItems = nonNil(d.PackingItems)
	for i := range d.PackingItems {
		d.PackingItems[i].Items = nonNil(d.PackingItems[i].Items)
	}
	d.PlacesToExplore = nonNil(d.PlacesToExplore)
	d.Highlights = nonNil(d.Highlights)
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	c := *d
	c.Flights = slices.Clone(d.Flights)
	c.Lodgings = slices.Clone(d.Lodgings)
	c.Transportation = slices.Clone(d.Transportation)
	c.Outfits = cloneOutfits(d.Outfits)
	c.PackingItems = clonePacking(d.PackingItems)
	c.PlacesToExplore = slices.Clone(d.PlacesToExplore)
	c.Highlights = slices.Clone(d.Highlights)
	if d.extra != nil {
		c.extra = make(map[string]json.RawMessage, len(d.extra))
		for k, v := range d.extra {
			c.extra[k] = slices.Clone(v)
		}
	}
	if d.stored != nil {
		c.stored = make(map[Field]json.RawMessage, len(d.stored))
		for f, v := range d.stored {
			c.stored[f] = slices.Clone(v)
		}
	}
	c.normalize()
	return &c
}

func cloneOutfits(in []OutfitEntry) []OutfitEntry {
	if in == nil {
		return nil
	}
	out := make([]OutfitEntry, len(in))
	for i, o := range in {
		o.Bullets = slices.Clone(o.Bullets)
		out[i] = o
	}
	return out
}

func clonePacking(in []PackingCategory) []PackingCategory {
	if in == nil {
		return nil
	}
	out := make([]PackingCategory, len(in))
	for i, c := range in {
		c.Items = slices.Clone(c.Items)
		out[i] = c
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
