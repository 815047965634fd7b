package match

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// TableRow is the flat, exportable form of a Result.
type TableRow struct {
	Name        string   `json:"name"`
	LocationID  string   `json:"location_id"`
	Floor       string   `json:"floor"`
	Status      Status   `json:"status"`
	MatchedText string   `json:"matched_text"`
	Score       float64  `json:"score"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

// Table flattens results, keeping their order.
func Table(results []Result) []TableRow {
	rows := make([]TableRow, len(results))
	for i, r := range results {
		rows[i] = TableRow{
			Name:        r.Tenant.Name,
			LocationID:  r.Tenant.LocationID,
			Floor:       r.Tenant.FloorName,
			Status:      r.Status,
			MatchedText: r.MatchedText,
			Score:       r.Score,
			Latitude:    r.Tenant.Latitude,
			Longitude:   r.Tenant.Longitude,
		}
	}
	return rows
}

// Counts returns the number of found and missing results.
func Counts(results []Result) (found, missing int) {
	for _, r := range results {
		if r.Status == Found {
			found++
		} else {
			missing++
		}
	}
	return found, missing
}

// SaveTable writes rows as indented JSON.
func SaveTable(path string, rows []TableRow) error {
	if rows == nil {
		rows = []TableRow{}
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
