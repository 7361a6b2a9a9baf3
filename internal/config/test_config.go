package config

import "time"

// TestConfig returns a config suitable for testing
func TestConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			Database:  ":memory:",
			Downloads: "downloads",
			Generated: "generated_images",
		},
		Fetch: FetchConfig{
			HTTPTimeout:       5 * time.Second,
			UserAgent:         "covers-test/1.0",
			Concurrency:       2,
			RequestsPerSecond: 0, // unlimited
			Burst:             1,
		},
		Compose: ComposeConfig{
			JPEGQuality: 90,
		},
		Delivery: DeliveryConfig{
			Concurrency: 2,
			Deadline:    time.Minute,
			Location:    "UTC",
		},
		Schedule: defaultConfig().Schedule,
		Webhook: WebhookConfig{
			Timeout:         5 * time.Second,
			DefaultUsername: "CoverCompare",
		},
		SMTP:    defaultConfig().SMTP,
		Log:     LogConfig{Level: "off"},
		Metrics: MetricsConfig{Job: "covers-test"},
		Viewer:  defaultConfig().Viewer,
	}
}
