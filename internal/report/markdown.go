// Package report renders run summaries and listings as terminal markdown.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/pders01/covers/internal/catalog"
	"github.com/pders01/covers/internal/delivery"
	"github.com/pders01/covers/internal/dispatch"
	"github.com/pders01/covers/internal/resolver"
	"github.com/pders01/covers/internal/search"
	"github.com/pders01/covers/internal/source"
	"github.com/pders01/covers/internal/storage"
)

// Renderer turns markdown into styled terminal output. A plain renderer
// returns the markdown unchanged, for pipes and log files.
type Renderer struct {
	plain bool
	term  *glamour.TermRenderer
}

// NewRenderer wraps at width columns. style is a glamour standard style
// name; empty picks one from the terminal background.
func NewRenderer(width int, style string, plain bool) (*Renderer, error) {
	if plain {
		return &Renderer{plain: true}, nil
	}
	if width > 120 {
		width = 120
	}
	if width < 40 {
		width = 40
	}

	styleOpt := glamour.WithAutoStyle()
	if style != "" {
		styleOpt = glamour.WithStandardStyle(style)
	}
	term, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(width))
	if err != nil {
		return nil, fmt.Errorf("creating markdown renderer: %w", err)
	}
	return &Renderer{term: term}, nil
}

func (r *Renderer) Render(md string) (string, error) {
	if r.plain {
		return md, nil
	}
	return r.term.Render(md)
}

// Delivery summarizes a delivery run.
func Delivery(rep *delivery.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Delivery %s (%s)\n\n", rep.Date.Format(time.DateOnly), rep.Mode)
	fmt.Fprintf(&b, "%d sent, %d partial, %d skipped, %d failed, %d abandoned in %s.\n\n",
		rep.Count(delivery.StatusDelivered),
		rep.Count(delivery.StatusPartial),
		rep.Count(delivery.StatusSkipped),
		rep.Count(delivery.StatusFailed),
		rep.Count(delivery.StatusAbandoned),
		rep.Took.Round(time.Millisecond))

	if len(rep.Outcomes) == 0 {
		b.WriteString("_No active subscriptions._\n")
		return b.String()
	}

	b.WriteString("| ID | Label | Destination | Status | Missing | Error |\n")
	b.WriteString("|---:|---|---|---|---|---|\n")
	for _, o := range rep.Outcomes {
		status := string(o.Status)
		if o.Deactivated {
			status += " (deactivated)"
		}
		errText := ""
		if o.Err != nil {
			errText = o.Err.Error()
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s |\n",
			o.SubscriptionID, cell(o.Label), cell(o.Destination), status,
			cell(strings.Join(o.Missing, ", ")), cell(shorten(errText, 80)))
	}

	if ids := rep.Deactivated(); len(ids) > 0 {
		fmt.Fprintf(&b, "\n**Deactivated after %d consecutive failures:** %s\n",
			storage.AutoDeactivateThreshold, joinIDs(ids))
	}
	return b.String()
}

// Prefetch summarizes a cache warm-up.
func Prefetch(date time.Time, s resolver.PrefetchSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Prefetch %s\n\n", date.Format(time.DateOnly))
	fmt.Fprintf(&b, "%d fetched, %d already cached, %d failed.\n\n", len(s.Fetched), len(s.Cached), len(s.Failed))

	if len(s.Fetched) > 0 {
		fmt.Fprintf(&b, "- **Fetched:** %s\n", strings.Join(s.Fetched, ", "))
	}
	if len(s.Cached) > 0 {
		fmt.Fprintf(&b, "- **Cached:** %s\n", strings.Join(s.Cached, ", "))
	}
	if len(s.Failed) > 0 {
		b.WriteString("\n## Failed\n\n")
		for _, f := range s.Failed {
			fmt.Fprintf(&b, "- **%s** (%s): %s\n", f.Key, f.Name, shorten(f.Err.Error(), 200))
		}
	}
	return b.String()
}

// Subscriptions lists subscriptions with their health.
func Subscriptions(subs []*storage.Subscription, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("# Subscriptions\n\n")
	if len(subs) == 0 {
		b.WriteString("_None yet. Add one with `covers subscribe`._\n")
		return b.String()
	}

	b.WriteString("| ID | Kind | Destination | Papers | Label | Active | Last posted | Errors | Last error |\n")
	b.WriteString("|---:|---|---|---|---|---|---|---:|---|\n")
	for _, s := range subs {
		posted := "never"
		if s.LastPostedAt != nil {
			posted = s.LastPostedAt.In(loc).Format("2006-01-02 15:04")
		}
		active := "yes"
		if !s.Active {
			active = "no"
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s | %s | %d | %s |\n",
			s.ID, s.Kind, cell(dispatch.Redact(s.Destination)), cell(strings.Join(s.Papers, ", ")), cell(s.Label),
			active, posted, s.ConsecutiveErrors, cell(shorten(s.LastError, 60)))
	}
	return b.String()
}

// Attempts lists the delivery history of a subscription, newest first.
func Attempts(id uint64, attempts []*storage.Attempt, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Attempts for subscription %d\n\n", id)
	if len(attempts) == 0 {
		b.WriteString("_No attempts recorded._\n")
		return b.String()
	}
	b.WriteString("| Date | At | Status | Missing | Error |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, a := range attempts {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			a.Date, a.At.In(loc).Format("15:04:05"), a.Status,
			cell(strings.Join(a.Missing, ", ")), cell(shorten(a.Error, 80)))
	}
	return b.String()
}

// Papers lists catalog entries in key order, plus the named groupings.
func Papers(cat *catalog.Catalog) string {
	var b strings.Builder
	b.WriteString("# Papers\n\n")
	b.WriteString("| Key | Name | Format | Sources |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, key := range cat.Keys() {
		p, _ := cat.Paper(key)
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", key, cell(p.Name), cell(p.Format), cell(sourceList(p.Sources)))
	}

	if len(cat.Configs) > 0 {
		b.WriteString("\n## Groups\n\n")
		for _, name := range sortedKeys(cat.Configs) {
			fmt.Fprintf(&b, "- **%s:** %s\n", name, strings.Join(cat.Configs[name], ", "))
		}
	}
	if len(cat.Default) > 0 {
		fmt.Fprintf(&b, "\nDefault: %s\n", strings.Join(cat.Default, ", "))
	}
	return b.String()
}

// SearchResults lists matching papers by relevance.
func SearchResults(query string, results []*search.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Papers matching %q\n\n", query)
	if len(results) == 0 {
		b.WriteString("_No matches._\n")
		return b.String()
	}
	b.WriteString("| Key | Name | Format | Score |\n")
	b.WriteString("|---|---|---|---:|\n")
	for _, r := range results {
		fmt.Fprintf(&b, "| %s | %s | %s | %.2f |\n", r.Paper.Key, cell(r.Paper.Name), cell(r.Paper.Format), r.Score)
	}
	return b.String()
}

func sourceList(ds []source.Descriptor) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = string(d.Kind)
	}
	return strings.Join(parts, " → ")
}

// cell makes text safe inside a markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func joinIDs(ids []uint64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("#%d", id)
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
