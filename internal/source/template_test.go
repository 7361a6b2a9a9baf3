package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpand(t *testing.T) {
	date := time.Date(2026, time.February, 7, 0, 0, 0, 0, time.UTC)
	vars := map[string]string{"slug": "new-york-post", "code": "NY_NYP", "country": "us"}

	tests := []struct {
		tmpl string
		want string
	}{
		{"{YYYY}/{MM}/{DD}", "2026/02/07"},
		{"{YY}-{M}-{D}", "26-2-7"},
		{"{MONTH}{DD}.P1_LCF.jpg", "FEBRUARY07.P1_LCF.jpg"},
		{"{Month} {month}", "February february"},
		{"{ISO}", "2026-02-07"},
		{"jpg{D}/lg/{code}.jpg", "jpg7/lg/NY_NYP.jpg"},
		{"{country}/{slug}.750.jpg", "us/new-york-post.750.jpg"},
		{"{unknown}", "{unknown}"},
		{"no tokens", "no tokens"},
	}

	for _, tt := range tests {
		t.Run(tt.tmpl, func(t *testing.T) {
			assert.Equal(t, tt.want, Expand(tt.tmpl, date, vars))
		})
	}
}
