package search

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/pders01/covers/internal/catalog"
)

// Engine scores catalog entries directly without an index.
type Engine struct {
	catalog *catalog.Catalog
}

func NewEngine(cat *catalog.Catalog) *Engine {
	return &Engine{catalog: cat}
}

// Search ranks papers against query. Queries shorter than two characters
// match nothing.
func (e *Engine) Search(query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return []*Result{}, nil
	}

	var results []*Result
	for _, key := range e.catalog.Keys() {
		p, _ := e.catalog.Paper(key)
		if r := e.searchPaper(p, terms); r != nil {
			results = append(results, r)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// DocCount is the number of papers searched.
func (e *Engine) DocCount() (int, error) {
	return len(e.catalog.Papers), nil
}

func (e *Engine) searchPaper(p *catalog.Paper, terms []string) *Result {
	var matches []Match
	var total float64

	fields := []struct {
		name   string
		text   string
		weight float64
	}{
		{"key", p.Key, 4.0},
		{"name", p.Name, 3.0},
		{"format", p.Format, 1.0},
		{"sources", sourceText(p), 0.5},
	}
	for _, f := range fields {
		if score := scoreField(f.text, terms, f.weight); score > 0 {
			matches = append(matches, Match{Field: f.name, Text: truncate(f.text, 80), Weight: score})
			total += score
		}
	}

	if total == 0 {
		return nil
	}
	return &Result{Paper: p, Score: total, Matches: matches}
}

// sourceText flattens the identifiers of every source of p.
func sourceText(p *catalog.Paper) string {
	var parts []string
	for _, d := range p.Sources {
		parts = append(parts, string(d.Kind))
		for _, s := range []string{d.Slug, d.Code, d.Country} {
			if s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " ")
}

// scoreField calculates relevance score for a field
func scoreField(text string, terms []string, weight float64) float64 {
	if text == "" {
		return 0
	}

	lower := strings.ToLower(text)
	words := tokenize(text)
	if len(words) == 0 {
		return 0
	}

	var score float64
	matched := 0

	for _, term := range terms {
		if strings.Contains(lower, term) {
			score += 2.0
			matched++
		}
		for _, word := range words {
			switch {
			case word == term:
				score += 1.5
				matched++
			case strings.HasPrefix(word, term) || strings.HasSuffix(word, term):
				score += 1.0
				matched++
			case strings.Contains(word, term):
				score += 0.5
				matched++
			}
		}
	}
	if matched == 0 {
		return 0
	}

	if len(terms) > 1 && matched > 1 {
		score *= 1.0 + float64(matched)/float64(len(terms))
	}

	tf := float64(matched) / float64(len(words))
	score *= 1.0 + math.Log(1.0+tf)

	return score * weight
}

// tokenize breaks text into lowercase searchable terms, splitting on
// anything that is not a letter or digit.
func tokenize(text string) []string {
	var terms []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 1 {
			terms = append(terms, current.String())
		}
		current.Reset()
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			current.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()

	return terms
}

func truncate(text string, maxLen int) string {
	r := []rune(text)
	if len(r) <= maxLen {
		return text
	}
	return string(r[:maxLen-1]) + "…"
}
