package cache

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Layout owns the on-disk naming of downloads and composites.
type Layout struct {
	Downloads string
	Generated string
}

// NewLayout creates both directories if needed.
func NewLayout(downloads, generated string) (*Layout, error) {
	for _, dir := range []string{downloads, generated} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return &Layout{Downloads: downloads, Generated: generated}, nil
}

// CompositePath is {generated}/{YYYY-MM-DD}-{label}.jpg.
func (l *Layout) CompositePath(date time.Time, label string) string {
	return filepath.Join(l.Generated, date.Format(time.DateOnly)+"-"+label+".jpg")
}

// KeysLabel names an ad-hoc composite by its sorted paper keys.
func KeysLabel(keys []string) string {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	return strings.Join(sorted, "-")
}

// SubscriptionLabel names a subscription's daily composite.
func SubscriptionLabel(id uint64) string {
	return fmt.Sprintf("sub%d", id)
}

// PreviewLabel names the transient composite of a preview send.
func PreviewLabel(id uint64) string {
	return fmt.Sprintf("preview-%d", id)
}

// TestLabel names a transient composite with a random suffix.
func TestLabel() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("test-%08x", time.Now().UnixNano()&0xffffffff)
	}
	return "test-" + hex.EncodeToString(b[:])
}
