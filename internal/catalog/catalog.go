// Package catalog loads the paper catalog: which papers exist, how to fetch
// each one, and the named groupings of papers.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pders01/covers/internal/source"
)

// Paper is one catalog entry. Sources are tried in order.
type Paper struct {
	Key            string              `yaml:"-"`
	Name           string              `yaml:"name"`
	Format         string              `yaml:"format,omitempty"`
	TrimWhitespace bool                `yaml:"trim_whitespace,omitempty"`
	Sources        []source.Descriptor `yaml:"sources"`
}

// Catalog is immutable after Load.
type Catalog struct {
	Papers  map[string]*Paper   `yaml:"papers"`
	Configs map[string][]string `yaml:"configs,omitempty"`
	Default []string            `yaml:"default,omitempty"`
}

// ConfigError reports a catalog or request that references papers or
// groupings that do not exist, or a catalog that cannot be parsed.
type ConfigError struct {
	Reason string
	Keys   []string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "invalid configuration: " + e.Reason
	if len(e.Keys) > 0 {
		msg += ": " + strings.Join(e.Keys, ", ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Load reads and validates the catalog at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates catalog YAML. Unknown fields are rejected.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigError{Reason: "malformed catalog", Err: err}
	}
	if err := c.init(); err != nil {
		return nil, err
	}
	return &c, nil
}

// keyPattern restricts paper keys and group names, which end up in cache
// file names.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func (c *Catalog) init() error {
	if len(c.Papers) == 0 {
		return &ConfigError{Reason: "catalog defines no papers"}
	}

	var badKeys []string
	for key := range c.Papers {
		if !keyPattern.MatchString(key) {
			badKeys = append(badKeys, key)
		}
	}
	if len(badKeys) > 0 {
		sort.Strings(badKeys)
		return &ConfigError{Reason: "paper keys may only use letters, digits, '-' and '_'", Keys: badKeys}
	}
	var badGroups []string
	for name := range c.Configs {
		if !keyPattern.MatchString(name) {
			badGroups = append(badGroups, name)
		}
	}
	if len(badGroups) > 0 {
		sort.Strings(badGroups)
		return &ConfigError{Reason: "config names may only use letters, digits, '-' and '_'", Keys: badGroups}
	}

	var sourceless []string
	for key, p := range c.Papers {
		if p == nil {
			p = &Paper{}
			c.Papers[key] = p
		}
		p.Key = key
		if p.Name == "" {
			p.Name = key
		}
		if len(p.Sources) == 0 {
			sourceless = append(sourceless, key)
		}
	}
	if len(sourceless) > 0 {
		sort.Strings(sourceless)
		return &ConfigError{Reason: "papers without sources", Keys: sourceless}
	}

	for name, keys := range c.Configs {
		if missing := c.missing(keys); len(missing) > 0 {
			return &ConfigError{Reason: fmt.Sprintf("config %q references unknown papers", name), Keys: missing}
		}
	}
	if missing := c.missing(c.Default); len(missing) > 0 {
		return &ConfigError{Reason: "default references unknown papers", Keys: missing}
	}
	return nil
}

// Validate compiles every source descriptor with build so that catalog
// mistakes surface at load time rather than mid-run.
func (c *Catalog) Validate(build func(source.Descriptor) (source.Fetcher, error)) error {
	var errs []error
	for _, key := range c.Keys() {
		for i, d := range c.Papers[key].Sources {
			if _, err := build(d); err != nil {
				errs = append(errs, fmt.Errorf("%s source %d: %w", key, i+1, err))
			}
		}
	}
	if len(errs) > 0 {
		return &ConfigError{Reason: "invalid sources", Err: errors.Join(errs...)}
	}
	return nil
}

func (c *Catalog) missing(keys []string) []string {
	var out []string
	for _, k := range keys {
		if _, ok := c.Papers[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// Lookup returns the papers for keys in the given order. Any unknown key
// fails the whole lookup.
func (c *Catalog) Lookup(keys []string) ([]*Paper, error) {
	if len(keys) == 0 {
		return nil, &ConfigError{Reason: "no papers requested"}
	}
	if missing := c.missing(keys); len(missing) > 0 {
		return nil, &ConfigError{Reason: "unknown papers", Keys: missing}
	}
	papers := make([]*Paper, len(keys))
	for i, k := range keys {
		papers[i] = c.Papers[k]
	}
	return papers, nil
}

// Paper returns a single entry.
func (c *Catalog) Paper(key string) (*Paper, bool) {
	p, ok := c.Papers[key]
	return p, ok
}

// Group returns the keys of a named grouping.
func (c *Catalog) Group(name string) ([]string, error) {
	keys, ok := c.Configs[name]
	if !ok {
		return nil, &ConfigError{Reason: "unknown config", Keys: []string{name}}
	}
	return append([]string(nil), keys...), nil
}

// Keys returns every paper key, sorted.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.Papers))
	for k := range c.Papers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Names maps keys to display names, falling back to the key itself.
func (c *Catalog) Names(keys []string) []string {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k
		if p, ok := c.Papers[k]; ok {
			names[i] = p.Name
		}
	}
	return names
}
