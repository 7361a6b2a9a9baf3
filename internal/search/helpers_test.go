package search

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pders01/covers/internal/catalog"
)

const searchCatalog = `
papers:
  nypost:
    name: New York Post
    format: tabloid
    sources:
      - type: direct
        url: "https://nypost.com/{ISO}.jpg"
      - type: freedomforum
        code: NY_NYP
  dailynews:
    name: Daily News
    format: tabloid
    sources:
      - type: freedomforum
        code: NY_DN
  wsj:
    name: The Wall Street Journal
    format: broadsheet
    sources:
      - type: kiosko
        slug: wsj
        country: us
  lemonde:
    name: Le Monde
    format: berliner
    sources:
      - type: frontpages
        slug: le-monde
`

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Parse([]byte(searchCatalog))
	require.NoError(t, err)
	return cat
}

func keys(results []*Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Paper.Key
	}
	return out
}
