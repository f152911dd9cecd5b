package session

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Export formats.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// exportVersion tags JSON exports so future importers can branch on it.
const exportVersion = "1.0"

// DefaultFields is the CSV column selection used when the caller passes none.
var DefaultFields = []string{"cardName", "rarity", "setCode", "timestamp", "price", "condition", "quantity"}

// fieldLabels maps a selectable field id to its CSV header label.
var fieldLabels = map[string]string{
	"cardName":    "Card Name",
	"rarity":      "Rarity",
	"setCode":     "Set Code",
	"setName":     "Set Name",
	"artVariant":  "Art Variant",
	"timestamp":   "Timestamp",
	"price":       "Price",
	"priceMarket": "Market Price",
	"condition":   "Condition",
	"quantity":    "Quantity",
}

// ExportPayload is a downloadable artifact.
type ExportPayload struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
}

// jsonExport is the JSON artifact: the session plus export metadata.
type jsonExport struct {
	*Session
	ExportedAt time.Time `json:"exportedAt"`
	Version    string    `json:"version"`
}

// Export renders the current session as a JSON or CSV artifact. A nil fields
// selection picks [DefaultFields]; unknown field ids and unknown formats are
// invalid input.
func (c *Controller) Export(format Format, fields []string) (ExportPayload, error) {
	snap := c.Current()
	if snap == nil {
		return ExportPayload{}, ErrNotActive
	}

	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(jsonExport{
			Session:    snap,
			ExportedAt: c.now(),
			Version:    exportVersion,
		}, "", "  ")
		if err != nil {
			return ExportPayload{}, fmt.Errorf("session: encoding export: %w", err)
		}
		return ExportPayload{
			Content:  string(data),
			Filename: exportFilename(snap.SetName, c.now(), "json"),
			MimeType: "application/json",
		}, nil

	case FormatCSV:
		content, err := renderCSV(snap, fields)
		if err != nil {
			return ExportPayload{}, err
		}
		return ExportPayload{
			Content:  content,
			Filename: exportFilename(snap.SetName, c.now(), "csv"),
			MimeType: "text/csv",
		}, nil

	default:
		return ExportPayload{}, fmt.Errorf("session: unknown export format %q", format)
	}
}

// renderCSV writes the header row from the selected field labels and one row
// per entry. Quoting follows RFC 4180: values containing a comma or a quote
// are wrapped in double quotes with embedded quotes doubled.
func renderCSV(s *Session, fields []string) (string, error) {
	if len(fields) == 0 {
		fields = DefaultFields
	}
	header := make([]string, len(fields))
	for i, f := range fields {
		label, ok := fieldLabels[f]
		if !ok {
			return "", fmt.Errorf("session: unknown export field %q", f)
		}
		header[i] = label
	}

	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("session: writing CSV header: %w", err)
	}
	row := make([]string, len(fields))
	for _, e := range s.Entries {
		for i, f := range fields {
			row[i] = fieldValue(e, f)
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("session: writing CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("session: flushing CSV: %w", err)
	}
	return b.String(), nil
}

// fieldValue renders one entry field as a CSV cell.
func fieldValue(e Entry, field string) string {
	switch field {
	case "cardName":
		return e.CardName
	case "rarity":
		return e.Rarity
	case "setCode":
		return e.SetCode
	case "setName":
		return e.SetName
	case "artVariant":
		return e.ArtVariant
	case "timestamp":
		return e.Timestamp.Format(time.RFC3339)
	case "price":
		return strconv.FormatFloat(e.Price, 'f', 2, 64)
	case "priceMarket":
		return strconv.FormatFloat(e.PriceMarket, 'f', 2, 64)
	case "condition":
		return e.Condition
	case "quantity":
		return strconv.Itoa(e.Quantity)
	default:
		return ""
	}
}

// exportFilename builds YGO_Session_<setName>_<YYYY-MM-DD>.<ext>, with
// whitespace in the set name flattened to underscores.
func exportFilename(setName string, at time.Time, ext string) string {
	name := strings.Join(strings.Fields(setName), "_")
	if name == "" {
		name = "Unknown_Set"
	}
	return fmt.Sprintf("YGO_Session_%s_%s.%s", name, at.Format("2006-01-02"), ext)
}
