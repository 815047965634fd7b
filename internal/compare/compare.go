// Package compare diffs an older tenant inventory against a freshly built
// directory.
package compare

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tenant-locator/internal/directory"
)

// ErrUnsupportedFormat is returned for inventory files other than .txt and .csv.
var ErrUnsupportedFormat = errors.New("compare: unsupported inventory format")

// Result groups tenant names. Common and New use the directory's spelling,
// Missing the inventory's.
type Result struct {
	Common  []string `json:"common"`
	New     []string `json:"new"`
	Missing []string `json:"missing"`
}

// Compare matches names case-insensitively after trimming. Blank names are
// ignored; when a name occurs more than once the last spelling wins.
func Compare(old []string, current []directory.Tenant) Result {
	oldByKey := make(map[string]string)
	for _, n := range old {
		if k := key(n); k != "" {
			oldByKey[k] = strings.TrimSpace(n)
		}
	}
	curByKey := make(map[string]string)
	for _, t := range current {
		if k := key(t.Name); k != "" {
			curByKey[k] = strings.TrimSpace(t.Name)
		}
	}

	var r Result
	for k, name := range curByKey {
		if _, ok := oldByKey[k]; ok {
			r.Common = append(r.Common, name)
		} else {
			r.New = append(r.New, name)
		}
	}
	for k, name := range oldByKey {
		if _, ok := curByKey[k]; !ok {
			r.Missing = append(r.Missing, name)
		}
	}
	sort.Strings(r.Common)
	sort.Strings(r.New)
	sort.Strings(r.Missing)
	return r
}

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// LoadInventory reads tenant names from a .txt file (one per line) or a .csv
// file. For CSV, column selects the header to use; when empty the first
// header mentioning "name", "tenant" or "store" is used, else the first
// column.
func LoadInventory(path, column string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		return strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n"), nil
	case ".csv":
		return readCSV(f, column)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func readCSV(r io.Reader, column string) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("compare: read header: %w", err)
	}
	idx, err := pickColumn(header, column)
	if err != nil {
		return nil, err
	}

	var names []string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("compare: read csv: %w", err)
		}
		if idx < len(rec) {
			names = append(names, rec[idx])
		}
	}
	return names, nil
}

func pickColumn(header []string, column string) (int, error) {
	if column != "" {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), column) {
				return i, nil
			}
		}
		return 0, fmt.Errorf("compare: column %q not found", column)
	}
	for i, h := range header {
		h = strings.ToLower(h)
		if strings.Contains(h, "name") || strings.Contains(h, "tenant") || strings.Contains(h, "store") {
			return i, nil
		}
	}
	return 0, nil
}
