package source

import (
	_ "embed"
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

//go:embed kinds.toml
var kindsTOML []byte

// KindDefaults are the field values a descriptor of a kind inherits when the
// catalog leaves them empty.
type KindDefaults struct {
	URL        string `toml:"url,omitempty"`
	Page       string `toml:"page,omitempty"`
	Pattern    string `toml:"pattern,omitempty"`
	Encoding   string `toml:"encoding,omitempty"`
	DateLayout string `toml:"date_layout,omitempty"`
	MaxAgeDays int    `toml:"max_age_days,omitempty"`
}

type kindsFile struct {
	Kinds map[string]KindDefaults `toml:"kinds"`
}

func loadKindDefaults(data []byte) (map[Kind]KindDefaults, error) {
	var file kindsFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing kinds.toml: %w", err)
	}
	defaults := make(map[Kind]KindDefaults, len(file.Kinds))
	for kind, def := range file.Kinds {
		defaults[Kind(kind)] = def
	}
	return defaults, nil
}

func (d Descriptor) withDefaults(def KindDefaults) Descriptor {
	if d.URL == "" {
		d.URL = def.URL
	}
	if d.Page == "" {
		d.Page = def.Page
	}
	if d.Pattern == "" {
		d.Pattern = def.Pattern
	}
	if d.Encoding == "" {
		d.Encoding = def.Encoding
	}
	if d.DateLayout == "" {
		d.DateLayout = def.DateLayout
	}
	if d.MaxAgeDays == 0 {
		d.MaxAgeDays = def.MaxAgeDays
	}
	return d
}
