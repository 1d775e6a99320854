package trip

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/starford/tripbook/internal/apperr"
)

// Field names one top-level, independently edited part of a Document.
type Field string

const (
	FieldTitle           Field = "title"
	FieldDestination     Field = "destination"
	FieldStartDate       Field = "startDate"
	FieldEndDate         Field = "endDate"
	FieldImageURL        Field = "imageUrl"
	FieldFlights         Field = "flights"
	FieldLodgings        Field = "lodgings"
	FieldTransportation  Field = "transportation"
	FieldOutfits         Field = "outfits"
	FieldPackingItems    Field = "packingItems"
	FieldPlacesToExplore Field = "placesToExplore"
	FieldHighlights      Field = "highlights"
)

// Fields lists every mergeable field in document order.
var Fields = []Field{
	FieldTitle, FieldDestination, FieldStartDate, FieldEndDate, FieldImageURL,
	FieldFlights, FieldLodgings, FieldTransportation, FieldOutfits,
	FieldPackingItems, FieldPlacesToExplore, FieldHighlights,
}

var fieldSet = func() map[Field]struct{} {
	m := make(map[Field]struct{}, len(Fields))
	for _, f := range Fields {
		m[f] = struct{}{}
	}
	return m
}()

// ParseField maps a wire name to a Field.
func ParseField(name string) (Field, error) {
	if _, ok := fieldSet[Field(name)]; !ok {
		return "", fmt.Errorf("trip: unknown field %q: %w", name, apperr.ErrValidation)
	}
	return Field(name), nil
}

// Value returns the current value of f in d.
func (d *Document) Value(f Field) any {
	switch f {
	case FieldTitle:
		return d.Title
	case FieldDestination:
		return d.Destination
	case FieldStartDate:
		return d.StartDate
	case FieldEndDate:
		return d.EndDate
	case FieldImageURL:
		return d.ImageURL
	case FieldFlights:
		return d.Flights
	case FieldLodgings:
		return d.Lodgings
	case FieldTransportation:
		return d.Transportation
	case FieldOutfits:
		return d.Outfits
	case FieldPackingItems:
		return d.PackingItems
	case FieldPlacesToExplore:
		return d.PlacesToExplore
	case FieldHighlights:
		return d.Highlights
	}
	return nil
}

// Patch replaces exactly one top-level field of a Document. Build one with
// the Set* constructors or ParsePatch.
type Patch struct {
	field    Field
	check    func() error
	apply    func(*Document)
	datesMay bool
}

// Field returns the field the patch replaces.
func (p Patch) Field() Field { return p.field }

// Validate checks the new value on its own.
func (p Patch) Validate() error {
	if p.apply == nil {
		return fmt.Errorf("trip: empty patch: %w", apperr.ErrValidation)
	}
	if p.check == nil {
		return nil
	}
	if err := p.check(); err != nil {
		return fmt.Errorf("trip: %s: %w: %w", p.field, apperr.ErrValidation, err)
	}
	return nil
}

// Apply validates the value and replaces the field in d. Changing either trip
// date re-checks that the start is not after the end.
func (p Patch) Apply(d *Document) error {
	if err := p.Validate(); err != nil {
		return err
	}
	next := d.Clone()
	p.apply(next)
	delete(next.stored, p.field)
	next.normalize()
	if p.datesMay {
		if err := next.checkDates(); err != nil {
			return fmt.Errorf("trip: %s: %w: %w", p.field, apperr.ErrValidation, err)
		}
	}
	*d = *next
	return nil
}

func stringPatch(f Field, v string, set func(*Document, string)) Patch {
	return Patch{field: f, apply: func(d *Document) { set(d, v) }}
}

func SetTitle(v string) Patch {
	return stringPatch(FieldTitle, v, func(d *Document, s string) { d.Title = s })
}

func SetDestination(v string) Patch {
	return stringPatch(FieldDestination, v, func(d *Document, s string) { d.Destination = s })
}

func SetImageURL(v string) Patch {
	return stringPatch(FieldImageURL, v, func(d *Document, s string) { d.ImageURL = s })
}

func SetStartDate(v Date) Patch {
	return Patch{field: FieldStartDate, datesMay: true, apply: func(d *Document) { d.StartDate = v }}
}

func SetEndDate(v Date) Patch {
	return Patch{field: FieldEndDate, datesMay: true, apply: func(d *Document) { d.EndDate = v }}
}

func SetFlights(v []FlightEntry) Patch {
	v = slices.Clone(v)
	return Patch{field: FieldFlights, check: func() error { return validateSlice(v) }, apply: func(d *Document) { d.Flights = slices.Clone(v) }}
}

func SetLodgings(v []LodgingEntry) Patch {
	v = slices.Clone(v)
	return Patch{field: FieldLodgings, check: func() error { return validateSlice(v) }, apply: func(d *Document) { d.Lodgings = slices.Clone(v) }}
}

func SetTransportation(v []TransportEntry) Patch {
	v = slices.Clone(v)
	return Patch{field: FieldTransportation, check: func() error { return validateSlice(v) }, apply: func(d *Document) { d.Transportation = slices.Clone(v) }}
}

func SetOutfits(v []OutfitEntry) Patch {
	v = cloneOutfits(v)
	return Patch{field: FieldOutfits, check: func() error { return validateSlice(v) }, apply: func(d *Document) { d.Outfits = cloneOutfits(v) }}
}

func SetPackingItems(v []PackingCategory) Patch {
	v = clonePacking(v)
	return Patch{field: FieldPackingItems, check: func() error { return validateSlice(v) }, apply: func(d *Document) { d.PackingItems = clonePacking(v) }}
}

func SetPlacesToExplore(v []PlaceNote) Patch {
	v = slices.Clone(v)
	return Patch{field: FieldPlacesToExplore, check: func() error { return validateSlice(v) }, apply: func(d *Document) { d.PlacesToExplore = slices.Clone(v) }}
}

func SetHighlights(v []HighlightEntry) Patch {
	v = slices.Clone(v)
	return Patch{field: FieldHighlights, check: func() error { return validateSlice(v) }, apply: func(d *Document) { d.Highlights = slices.Clone(v) }}
}

// ParsePatch decodes raw as the value of the named field. Unknown fields,
// unknown object keys and wrongly typed values are validation failures.
func ParsePatch(name string, raw json.RawMessage) (Patch, error) {
	f, err := ParseField(name)
	if err != nil {
		return Patch{}, err
	}
	switch f {
	case FieldTitle:
		return decodeInto(f, raw, SetTitle)
	case FieldDestination:
		return decodeInto(f, raw, SetDestination)
	case FieldImageURL:
		return decodeInto(f, raw, SetImageURL)
	case FieldStartDate:
		return decodeInto(f, raw, SetStartDate)
	case FieldEndDate:
		return decodeInto(f, raw, SetEndDate)
	case FieldFlights:
		return decodeInto(f, raw, SetFlights)
	case FieldLodgings:
		return decodeInto(f, raw, SetLodgings)
	case FieldTransportation:
		return decodeInto(f, raw, SetTransportation)
	case FieldOutfits:
		return decodeInto(f, raw, SetOutfits)
	case FieldPackingItems:
		return decodeInto(f, raw, SetPackingItems)
	case FieldPlacesToExplore:
		return decodeInto(f, raw, SetPlacesToExplore)
	case FieldHighlights:
		return decodeInto(f, raw, SetHighlights)
	}
	return Patch{}, fmt.Errorf("trip: unknown field %q: %w", name, apperr.ErrValidation)
}

func decodeInto[T any](f Field, raw json.RawMessage, build func(T) Patch) (Patch, error) {
	var v T
	if len(bytes.TrimSpace(raw)) == 0 {
		return Patch{}, fmt.Errorf("trip: %s: missing value: %w", f, apperr.ErrValidation)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return Patch{}, fmt.Errorf("trip: %s: %w: %w", f, apperr.ErrValidation, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Patch{}, fmt.Errorf("trip: %s: trailing data after value: %w", f, apperr.ErrValidation)
	}
	return build(v), nil
}
