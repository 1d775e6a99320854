package trip

import "encoding/json"

// adoptLegacy fills entry fields that the first mobile client wrote under
// other names. Keys already present in the current shape win.
func (d *Document) adoptLegacy(raw map[string]json.RawMessage) {
	if v, ok := raw[string(FieldOutfits)]; ok {
		var old []struct {
			Date string `json:"date"`
		}
		if json.Unmarshal(v, &old) == nil && len(old) == len(d.Outfits) {
			for i := range d.Outfits {
				if d.Outfits[i].DateLabel == "" {
					d.Outfits[i].DateLabel = old[i].Date
				}
			}
		}
	}

	if v, ok := raw[string(FieldLodgings)]; ok {
		var old []struct {
			Hotel string `json:"hotel"`
		}
		if json.Unmarshal(v, &old) == nil && len(old) == len(d.Lodgings) {
			for i := range d.Lodgings {
				if d.Lodgings[i].HotelName == "" {
					d.Lodgings[i].HotelName = old[i].Hotel
				}
			}
		}
	}

	if v, ok := raw[string(FieldHighlights)]; ok {
		var old []struct {
			Type    HighlightKind `json:"type"`
			Content *struct {
				Text  string  `json:"text"`
				Image *string `json:"image"`
			} `json:"content"`
		}
		if json.Unmarshal(v, &old) == nil && len(old) == len(d.Highlights) {
			for i := range d.Highlights {
				h := &d.Highlights[i]
				if h.Kind == "" {
					h.Kind = old[i].Type
				}
				if c := old[i].Content; c != nil {
					if h.Text == "" {
						h.Text = c.Text
					}
					if h.ImageURI == "" && c.Image != nil {
						h.ImageURI = *c.Image
					}
				}
			}
		}
	}
}
