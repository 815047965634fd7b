package directory

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Save writes the directory as an indented JSON array.
func Save(path string, tenants []Tenant) error {
	if tenants == nil {
		tenants = []Tenant{}
	}
	data, err := json.MarshalIndent(tenants, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads a directory previously written by Save.
func Load(path string) ([]Tenant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tenants []Tenant
	if err := json.Unmarshal(data, &tenants); err != nil {
		return nil, err
	}
	return tenants, nil
}
