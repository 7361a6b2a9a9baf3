package source

import (
	"strings"
	"time"
)

// Expand substitutes date tokens and descriptor variables in tmpl.
//
//	{YYYY} 2026   {YY} 26   {MM} 02   {M} 2   {DD} 07   {D} 7
//	{MONTH} FEBRUARY   {Month} February   {month} february
//	{ISO} 2026-02-07
//
// vars maps bare names such as "slug" to values for {slug}.
func Expand(tmpl string, date time.Time, vars map[string]string) string {
	month := date.Month().String()
	pairs := []string{
		"{YYYY}", date.Format("2006"),
		"{YY}", date.Format("06"),
		"{MM}", date.Format("01"),
		"{M}", date.Format("1"),
		"{DD}", date.Format("02"),
		"{D}", date.Format("2"),
		"{MONTH}", strings.ToUpper(month),
		"{Month}", month,
		"{month}", strings.ToLower(month),
		"{ISO}", date.Format(time.DateOnly),
	}
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func (d Descriptor) vars() map[string]string {
	return map[string]string{
		"slug":    d.Slug,
		"code":    d.Code,
		"country": d.Country,
	}
}
