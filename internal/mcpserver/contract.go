package mcpserver

// TripSchemaContract describes the trip document and the rules every write
// must follow. LLM consumers should read it before editing trips.
const TripSchemaContract = `# Tripbook Trip Schema

A trip is one JSON document stored under its id (` + "`" + `trip_<uuid>` + "`" + `).
Each top-level field is edited on its own with ` + "`" + `set_trip_field` + "`" + `;
the rest of the document is left as it is.

## Fields

| Field | JSON type | Notes |
|---|---|---|
| ` + "`" + `title` + "`" + ` | string | |
| ` + "`" + `destination` + "`" + ` | string | e.g. "Paris, France" |
| ` + "`" + `startDate` + "`" + ` | string | ` + "`" + `YYYY-MM-DD` + "`" + ` |
| ` + "`" + `endDate` + "`" + ` | string | ` + "`" + `YYYY-MM-DD` + "`" + `, not before startDate |
| ` + "`" + `imageUrl` + "`" + ` | string | set by ` + "`" + `set_trip_image` + "`" + ` |
| ` + "`" + `flights` + "`" + ` | array | ` + "`" + `{airline, flightNumber}` + "`" + `, both required |
| ` + "`" + `lodgings` + "`" + ` | array | ` + "`" + `{hotelName, startDate, endDate}` + "`" + `, hotelName required |
| ` + "`" + `transportation` + "`" + ` | array | ` + "`" + `{method, to, from, date, departureTime, arrivalTime, notes}` + "`" + ` |
| ` + "`" + `outfits` + "`" + ` | array | ` + "`" + `{dateLabel, bullets, imageUri}` + "`" + `, dateLabel required |
| ` + "`" + `packingItems` + "`" + ` | array | ` + "`" + `{title, items: [{name, checked}]}` + "`" + ` |
| ` + "`" + `placesToExplore` + "`" + ` | array | ` + "`" + `{place, note}` + "`" + `, place required |
| ` + "`" + `highlights` + "`" + ` | array | ` + "`" + `{kind, text, imageUri}` + "`" + ` |

` + "`" + `id` + "`" + ` and ` + "`" + `version` + "`" + ` are managed by the store and cannot be set.

## Rules

1. **Replace, don't append.** A field value replaces the whole field. To add a
   flight, read the trip, append to its ` + "`" + `flights` + "`" + ` and write the full list back.
2. **Pass the version.** Give ` + "`" + `set_trip_field` + "`" + ` the ` + "`" + `version` + "`" + ` you read as
   ` + "`" + `expectedVersion` + "`" + `. A conflict means someone else wrote first: read again.
3. **Transport method** is one of bus, train, car, bicycle, walk, boat.
   Times are ` + "`" + `HH:MM` + "`" + ` (24h).
4. **Highlight kind** is text, image or both. Text needs ` + "`" + `text` + "`" + `, image
   needs ` + "`" + `imageUri` + "`" + `, both needs both.
5. **Unknown keys** inside entries are rejected.
6. **Entry ids.** Lodging, outfit, packing, place and highlight entries may
   carry an ` + "`" + `id` + "`" + ` string. Keep it when writing the list back.

## Example

` + "```" + `json
{
  "id": "trip_0b7e2c1a-8f3d-4c55-9a61-2f1e0d9c8b7a",
  "version": 4,
  "title": "Spring in Paris",
  "destination": "Paris, France",
  "startDate": "2025-04-01",
  "endDate": "2025-04-03",
  "flights": [{"airline": "AF", "flightNumber": "1234"}],
  "lodgings": [{"hotelName": "Hotel du Nord", "startDate": "2025-04-01", "endDate": "2025-04-03"}],
  "transportation": [{"method": "train", "from": "CDG", "to": "Gare du Nord", "date": "2025-04-01", "departureTime": "09:15", "arrivalTime": "09:50", "notes": ""}],
  "outfits": [],
  "packingItems": [{"title": "Documents", "items": [{"name": "Passport", "checked": false}]}],
  "placesToExplore": [{"place": "Musée d'Orsay", "note": "closed Mondays"}],
  "highlights": []
}
` + "```" + `
`
