package trip

// maxOutfitDays bounds OutfitDays for absurd date ranges.
const maxOutfitDays = 366

// DefaultPackingCategories are the categories a new packing list starts with.
var DefaultPackingCategories = []string{"Toiletries", "Clothing", "Electronics", "Documents"}

// OutfitDays returns one empty outfit per calendar day from start to end,
// inclusive, labelled like "Mon, Jan 2". It returns nil when either date is
// unset or end is before start.
func OutfitDays(start, end Date) []OutfitEntry {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return nil
	}
	var out []OutfitEntry
	for d := start; !d.After(end) && len(out) < maxOutfitDays; d = d.AddDays(1) {
		out = append(out, OutfitEntry{
			DateLabel: d.Time().Format("Mon, Jan 2"),
			Bullets:   []string{},
		})
	}
	return out
}

// DefaultPackingList returns the starter packing categories, all empty.
func DefaultPackingList() []PackingCategory {
	out := make([]PackingCategory, len(DefaultPackingCategories))
	for i, title := range DefaultPackingCategories {
		out[i] = PackingCategory{Title: title, Items: []PackingItem{}}
	}
	return out
}

// SeedPatches returns patches that fill the outfit and packing collections of
// d when they are still empty. Collections someone already edited are left
// alone.
func SeedPatches(d *Document) []Patch {
	var out []Patch
	if len(d.Outfits) == 0 {
		if days := OutfitDays(d.StartDate, d.EndDate); len(days) > 0 {
			out = append(out, SetOutfits(days))
		}
	}
	if len(d.PackingItems) == 0 {
		out = append(out, SetPackingItems(DefaultPackingList()))
	}
	return out
}
