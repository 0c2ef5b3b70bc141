package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Overlay is the optional per-repository policy file, db/format.yaml.
// It holds settings that are repository-scoped (not process-scoped, unlike
// the environment-variable Config). LoadOverlay and Save read and write
// it; no other package reads its fields, so neither setting changes how
// the DAG layer or the transaction store behaves.
type Overlay struct {
	// MaxDirEntries is a directory-entry-count warning threshold; 0 means
	// none. The DAG layer does not check it.
	MaxDirEntries int `yaml:"max_dir_entries"`
	// AllowClientCreationDate records whether begin-transaction callers may
	// override the creation-date property. The transaction store does not
	// consult it.
	AllowClientCreationDate bool `yaml:"allow_client_creation_date"`
}

// DefaultOverlay returns the overlay a freshly initialized repository uses
// in the absence of a db/format.yaml file.
func DefaultOverlay() Overlay {
	return Overlay{
		MaxDirEntries:           0,
		AllowClientCreationDate: true,
	}
}

// LoadOverlay reads and parses a db/format.yaml file. A missing file is not
// an error: callers get DefaultOverlay() back.
func LoadOverlay(path string) (Overlay, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultOverlay(), nil
	}
	if err != nil {
		return Overlay{}, fmt.Errorf("config: reading overlay %s: %w", path, err)
	}

	overlay := DefaultOverlay()
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Overlay{}, fmt.Errorf("config: parsing overlay %s: %w", path, err)
	}
	return overlay, nil
}

// Save writes the overlay to path in YAML form, creating parent directories
// as needed.
func (o Overlay) Save(path string) error {
	data, err := yaml.Marshal(o)
	if err != nil {
		return fmt.Errorf("config: marshaling overlay: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: writing overlay %s: %w", path, err)
	}
	return nil
}
