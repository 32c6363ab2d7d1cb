package handlers

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadDirectory reads the static gateway directory: a JSON object mapping
// gateway ids to base URLs. An empty path yields an empty directory and
// every resolve answers not_found.
func LoadDirectory(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}
	directory := make(map[string]string)
	if err := json.Unmarshal(raw, &directory); err != nil {
		return nil, fmt.Errorf("parse directory file: %w", err)
	}
	return directory, nil
}
