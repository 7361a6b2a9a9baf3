// Package search finds papers in the catalog by key, name, format or
// source identifiers.
package search

import (
	"github.com/pders01/covers/internal/catalog"
	"github.com/pders01/covers/internal/logger"
)

// Searcher defines the minimal search API used by the CLI.
type Searcher interface {
	Search(query string, limit int) ([]*Result, error)
}

// DocCounter is implemented by engines that can report index size.
type DocCounter interface {
	DocCount() (int, error)
}

// Result is one matching paper with its relevance.
type Result struct {
	Paper   *catalog.Paper
	Score   float64
	Matches []Match
}

// Match represents where text was found
type Match struct {
	Field  string // "key", "name", "format", "sources"
	Text   string
	Weight float64
}

// New returns a bleve-backed searcher over cat. An empty indexPath keeps the
// index in memory. When the index cannot be opened the in-process scoring
// engine is used instead.
func New(cat *catalog.Catalog, indexPath string, log logger.Logger) Searcher {
	eng, err := NewBleveEngine(cat, indexPath)
	if err != nil {
		if log != nil {
			log.Warn("search index unavailable, using simple search",
				logger.String("path", indexPath), logger.Error(err))
		}
		return NewEngine(cat)
	}
	return eng
}
