package trip

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

func transportMethodRule() validation.Rule {
	in := make([]any, len(TransportMethods))
	for i, m := range TransportMethods {
		in[i] = m
	}
	return validation.In(in...).Error("must be one of bus, train, car, bicycle, walk, boat")
}

// Validate validates a flight entry.
func (f FlightEntry) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Airline, validation.Required),
		validation.Field(&f.FlightNumber, validation.Required),
	)
}

// Validate validates a lodging entry.
func (l LodgingEntry) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.HotelName, validation.Required),
		validation.Field(&l.EndDate, validation.By(notBefore(l.StartDate))),
	)
}

// Validate validates a transportation leg.
func (t TransportEntry) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Method, validation.Required, transportMethodRule()),
	)
}

// Validate validates an outfit entry.
func (o OutfitEntry) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.DateLabel, validation.Required),
	)
}

// Validate validates a packing category and its items.
func (c PackingCategory) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Title, validation.Required),
		validation.Field(&c.Items),
	)
}

// Validate validates a packing item.
func (i PackingItem) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.Name, validation.Required),
	)
}

// Validate validates a place note.
func (p PlaceNote) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Place, validation.Required),
	)
}

// Validate requires the parts that the highlight kind promises.
func (h HighlightEntry) Validate() error {
	hasText := h.Kind == HighlightText || h.Kind == HighlightBoth
	hasImage := h.Kind == HighlightImage || h.Kind == HighlightBoth
	return validation.ValidateStruct(&h,
		validation.Field(&h.Kind, validation.Required,
			validation.In(HighlightText, HighlightImage, HighlightBoth).Error("must be one of text, image, both")),
		validation.Field(&h.Text, validation.When(hasText, validation.Required)),
		validation.Field(&h.ImageURI, validation.When(hasImage, validation.Required)),
	)
}

func (d *Document) checkDates() error {
	if d.StartDate.IsZero() || d.EndDate.IsZero() {
		return nil
	}
	if d.StartDate.After(d.EndDate) {
		return fmt.Errorf("startDate %s is after endDate %s", d.StartDate, d.EndDate)
	}
	return nil
}

func notBefore(start Date) validation.RuleFunc {
	return func(value any) error {
		end, _ := value.(Date)
		if start.IsZero() || end.IsZero() {
			return nil
		}
		if end.Before(start) {
			return errors.New("must not be before startDate")
		}
		return nil
	}
}

// validateSlice validates every element and reports the first failing index
// the way ozzo reports nested fields (e.g. "1: (airline: cannot be blank.)").
func validateSlice[T validation.Validatable](items []T) error {
	errs := validation.Errors{}
	for i, it := range items {
		if err := it.Validate(); err != nil {
			errs[fmt.Sprint(i)] = err
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}
