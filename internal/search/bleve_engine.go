package search

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/pders01/covers/internal/catalog"
)

type BleveEngine struct {
	catalog *catalog.Catalog
	idx     bleve.Index
}

// NewBleveEngine opens or creates the index at indexPath and brings it in
// line with cat. An empty indexPath builds an in-memory index.
func NewBleveEngine(cat *catalog.Catalog, indexPath string) (*BleveEngine, error) {
	var (
		idx bleve.Index
		err error
	)

	if indexPath == "" {
		idx, err = bleve.NewMemOnly(buildIndexMapping())
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(indexPath), 0o755); mkErr != nil {
			return nil, fmt.Errorf("creating index directory: %w", mkErr)
		}
		idx, err = bleve.Open(indexPath)
		if err != nil {
			idx, err = bleve.New(indexPath, buildIndexMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("opening search index: %w", err)
	}

	be := &BleveEngine{catalog: cat, idx: idx}
	if err := be.reindexAll(); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return be, nil
}

func buildIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name

	dm := bleve.NewDocumentMapping()

	key := bleve.NewTextFieldMapping()
	key.Analyzer = standard.Name
	key.Store = true

	name := bleve.NewTextFieldMapping()
	name.Analyzer = standard.Name
	name.Store = true
	name.IncludeTermVectors = true

	format := bleve.NewTextFieldMapping()
	format.Analyzer = standard.Name
	format.Store = true

	sources := bleve.NewTextFieldMapping()
	sources.Analyzer = standard.Name
	sources.Store = false

	dm.AddFieldMappingsAt("key", key)
	dm.AddFieldMappingsAt("name", name)
	dm.AddFieldMappingsAt("format", format)
	dm.AddFieldMappingsAt("sources", sources)

	im.DefaultMapping = dm
	return im
}

func paperDoc(p *catalog.Paper) map[string]any {
	return map[string]any{
		// Underscores and dashes split keys into searchable words.
		"key":     strings.NewReplacer("_", " ", "-", " ").Replace(p.Key),
		"name":    p.Name,
		"format":  p.Format,
		"sources": sourceText(p),
	}
}

// reindexAll indexes every paper and drops documents of papers that are no
// longer in the catalog.
func (b *BleveEngine) reindexAll() error {
	batch := b.idx.NewBatch()
	for key, p := range b.catalog.Papers {
		if err := batch.Index(docIDForPaper(key), paperDoc(p)); err != nil {
			return fmt.Errorf("indexing %s: %w", key, err)
		}
	}

	stale, err := b.staleDocs()
	if err != nil {
		return err
	}
	for _, id := range stale {
		batch.Delete(id)
	}
	return b.idx.Batch(batch)
}

func (b *BleveEngine) staleDocs() ([]string, error) {
	count, err := b.idx.DocCount()
	if err != nil || count == 0 {
		return nil, err
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(count), 0, false)
	res, err := b.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("listing indexed papers: %w", err)
	}

	var stale []string
	for _, h := range res.Hits {
		if _, ok := b.catalog.Papers[strings.TrimPrefix(h.ID, "paper:")]; !ok {
			stale = append(stale, h.ID)
		}
	}
	return stale, nil
}

func (b *BleveEngine) Search(query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}
	if limit <= 0 {
		limit = len(b.catalog.Papers)
	}

	boosts := []struct {
		field  string
		match  float64
		prefix float64
	}{
		{"key", 4.0, 3.5},
		{"name", 3.5, 3.0},
		{"format", 1.0, 0.8},
		{"sources", 0.5, 0.3},
	}

	var qs []bleveQuery.Query
	for _, tok := range tokenize(query) {
		for _, f := range boosts {
			qm := bleve.NewMatchQuery(tok)
			qm.SetField(f.field)
			qm.SetBoost(f.match)
			qs = append(qs, qm)

			qp := bleve.NewPrefixQuery(tok)
			qp.SetField(f.field)
			qp.SetBoost(f.prefix)
			qs = append(qs, qp)
		}
	}
	if len(qs) == 0 {
		return []*Result{}, nil
	}

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(qs...), limit, 0, false)
	req.Fields = []string{"name", "format"}
	res, err := b.idx.Search(req)
	if err != nil {
		return nil, err
	}

	out := make([]*Result, 0, len(res.Hits))
	for _, h := range res.Hits {
		p, ok := b.catalog.Paper(strings.TrimPrefix(h.ID, "paper:"))
		if !ok {
			continue
		}
		r := &Result{Paper: p, Score: h.Score}
		for _, field := range []string{"name", "format"} {
			if text, ok := h.Fields[field].(string); ok && text != "" {
				r.Matches = append(r.Matches, Match{Field: field, Text: text})
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// DocCount reports total documents in the index.
func (b *BleveEngine) DocCount() (int, error) {
	n, err := b.idx.DocCount()
	return int(n), err
}

func (b *BleveEngine) Close() error {
	return b.idx.Close()
}

func docIDForPaper(key string) string { return "paper:" + key }
