package models

import "time"

// MetadataEntry is the per-symbol record in a family's _metadata.json.
// Rewritten on every successful persist.
type MetadataEntry struct {
	LastUpdated time.Time `json:"last_updated"`
	Rows        int       `json:"rows"`
	Source      string    `json:"source"`
	FileSize    int64     `json:"file_size"`
}

// IndexEntry is the per-symbol record in a family's _index.json.
// Derived; rebuildable from the files at any time.
type IndexEntry struct {
	LastUpdated   time.Time `json:"last_updated"`
	DaysAvailable int       `json:"days_available"`
	Compressed    bool      `json:"compressed"`
}

// FamilyStats summarises one on-disk data family.
type FamilyStats struct {
	Files      int   `json:"files"`
	Rows       int   `json:"rows"`
	Bytes      int64 `json:"bytes"`
	Compressed int   `json:"compressed"`
}

// StorageStats summarises the whole store.
type StorageStats struct {
	Path     string                 `json:"path"`
	Families map[string]FamilyStats `json:"families"`
	Files    int                    `json:"files"`
	Bytes    int64                  `json:"bytes"`
}

// MaintenanceResult reports the outcome of a store housekeeping pass.
type MaintenanceResult struct {
	Operation string        `json:"operation"`
	Files     int           `json:"files"`
	Removed   int           `json:"removed,omitempty"`
	Duration  time.Duration `json:"duration"`
}
