package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save writes the project snapshot as JSON. Thin I/O wrapper for the CLI;
// full persistence/versioning is a separate concern.
func (p *Project) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal project: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write project snapshot: %w", err)
	}
	return nil
}

// Load reads a project snapshot written by Save.
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project snapshot: %w", err)
	}
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse project snapshot: %w", err)
	}
	return &p, nil
}

// WriteFiles materializes every project file under dir, creating
// intermediate directories as needed.
func (p *Project) WriteFiles(dir string) error {
	for _, f := range p.Files {
		target := filepath.Join(dir, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(target, []byte(f.Content), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Path, err)
		}
	}
	return nil
}
