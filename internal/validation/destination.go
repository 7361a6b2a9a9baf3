package validation

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/pders01/covers/internal/storage"
)

var (
	webhookPattern = regexp.MustCompile(`^https://(discord\.com|discordapp\.com)/api/webhooks/`)
	emailPattern   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// DestinationValidator checks subscriber destinations before anything is
// sent to them.
type DestinationValidator struct {
	// AnyWebhookHost accepts any http(s) URL as a webhook instead of only
	// Discord webhook endpoints.
	AnyWebhookHost bool
	// AllowPrivateHosts permits localhost and private IP webhooks.
	AllowPrivateHosts bool
	MaxLength         int
}

// NewDestinationValidator accepts Discord webhooks and email addresses.
func NewDestinationValidator() *DestinationValidator {
	return &DestinationValidator{
		MaxLength: 2048,
	}
}

// NewPermissiveDestinationValidator also accepts arbitrary and local webhook
// URLs, for self-hosted receivers and tests.
func NewPermissiveDestinationValidator() *DestinationValidator {
	return &DestinationValidator{
		AnyWebhookHost:    true,
		AllowPrivateHosts: true,
		MaxLength:         2048,
	}
}

// Validate infers the destination kind and returns the trimmed destination.
func (v *DestinationValidator) Validate(input string) (storage.DestinationKind, string, error) {
	input = strings.TrimSpace(input)

	if input == "" {
		return "", "", fmt.Errorf("destination cannot be empty")
	}
	if len(input) > v.MaxLength {
		return "", "", fmt.Errorf("destination too long (max %d characters)", v.MaxLength)
	}
	if strings.ContainsAny(input, "<>\"'`") {
		return "", "", fmt.Errorf("destination contains invalid characters")
	}

	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		if err := v.validateWebhook(input); err != nil {
			return "", "", err
		}
		return storage.KindWebhook, input, nil
	}

	if strings.Contains(input, "@") {
		if !emailPattern.MatchString(input) {
			return "", "", fmt.Errorf("invalid email address %q", input)
		}
		return storage.KindEmail, input, nil
	}

	return "", "", fmt.Errorf("destination must be a webhook URL or an email address")
}

func (v *DestinationValidator) validateWebhook(input string) error {
	u, err := url.Parse(input)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook URL must have a hostname")
	}

	if !v.AnyWebhookHost {
		if !webhookPattern.MatchString(input) {
			return fmt.Errorf("webhook URL must start with https://discord.com/api/webhooks/")
		}
		return nil
	}

	if !v.AllowPrivateHosts && isPrivateHost(u.Hostname()) {
		return fmt.Errorf("private webhook hosts are not permitted")
	}
	return nil
}

func isPrivateHost(hostname string) bool {
	if hostname == "localhost" || strings.HasSuffix(hostname, ".localhost") {
		return true
	}
	ip := net.ParseIP(hostname)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
