package plugin

import (
	"slices"
	"time"

	"github.com/dshills/plughost/internal/plugin/manifest"
)

// Record is the host's view of one installed plugin.
type Record struct {
	// Manifest is nil only for directories whose manifest was unreadable
	// at reload time.
	Manifest *manifest.Manifest `json:"manifest"`

	// Path is the absolute plugin directory.
	Path string `json:"path"`

	State   State  `json:"state"`
	Enabled bool   `json:"enabled"`
	Error   string `json:"error,omitempty"`

	// Warnings are non-fatal validation findings.
	Warnings []string `json:"warnings,omitempty"`

	ActivatedAt time.Time `json:"activatedAt,omitzero"`
	InstalledAt time.Time `json:"installedAt,omitzero"`

	// key is the record identity when the manifest carries no id.
	key string

	// invalid is set when the manifest failed validation.
	invalid bool
}

// Invalid reports whether the manifest failed validation.
func (r *Record) Invalid() bool {
	return r.invalid
}

// ID returns the record identity: the manifest id, or the directory name
// when the manifest has none.
func (r *Record) ID() string {
	if r.Manifest != nil && r.Manifest.ID != "" {
		return r.Manifest.ID
	}
	return r.key
}

// Clone returns a copy safe to hand to callers.
func (r *Record) Clone() *Record {
	c := *r
	if r.Manifest != nil {
		c.Manifest = r.Manifest.Clone()
	}
	c.Warnings = slices.Clone(r.Warnings)
	return &c
}
