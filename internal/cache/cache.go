// Package cache keeps fetched front pages on disk, one file per paper and
// calendar date, so a day's runs fetch each paper at most once.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Cache is the asset store the resolver reads from and writes to.
type Cache interface {
	// Lookup returns the path of the asset for key on date, if any.
	Lookup(key string, date time.Time) (string, bool)
	// Store persists data as the asset for key on date.
	Store(key string, date time.Time, ext string, data []byte) (string, error)
}

// Asset describes one cached front page.
type Asset struct {
	Key  string
	Date time.Time
	Path string
	Ext  string
}

// DirCache stores assets as {YYYY-MM-DD}-{key}{ext} in a single directory.
// Files are written to a temporary name and renamed into place, so
// concurrent writers of the same asset never expose a partial file.
type DirCache struct {
	dir string
}

func NewDirCache(dir string) (*DirCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &DirCache{dir: dir}, nil
}

func (c *DirCache) Dir() string { return c.dir }

func assetStem(key string, date time.Time) string {
	return date.Format(time.DateOnly) + "-" + key
}

func (c *DirCache) Lookup(key string, date time.Time) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(c.dir, globEscape(assetStem(key, date))+".*"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
			return m, true
		}
	}
	return "", false
}

func (c *DirCache) Store(key string, date time.Time, ext string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("storing %s: empty payload", key)
	}
	if ext == "" {
		ext = ".jpg"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	final := filepath.Join(c.dir, assetStem(key, date)+ext)
	if err := writeAtomic(c.dir, final, data); err != nil {
		return "", fmt.Errorf("storing %s: %w", key, err)
	}
	return final, nil
}

// Assets lists every cached asset for date.
func (c *DirCache) Assets(date time.Time) ([]Asset, error) {
	prefix := date.Format(time.DateOnly) + "-"
	matches, err := filepath.Glob(filepath.Join(c.dir, prefix+"*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	assets := make([]Asset, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		ext := filepath.Ext(base)
		assets = append(assets, Asset{
			Key:  strings.TrimSuffix(strings.TrimPrefix(base, prefix), ext),
			Date: date,
			Path: m,
			Ext:  ext,
		})
	}
	return assets, nil
}

func writeAtomic(dir, final string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func globEscape(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`)
	return r.Replace(s)
}
