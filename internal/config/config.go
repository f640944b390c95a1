package config

import "github.com/kelseyhightower/envconfig"

type Config struct {
	// ----------------------------
	// SMTP
	// ----------------------------
	SMTPHost       string `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort       int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUser       string `envconfig:"SMTP_USER" default:""`
	SMTPPassword   string `envconfig:"SMTP_PASSWORD" default:""`
	SMTPUseTLS     bool   `envconfig:"SMTP_USE_TLS" default:"false"`
	ConnectTimeout int    `envconfig:"SMTP_CONNECT_TIMEOUT_SECONDS" default:"5"`

	// ----------------------------
	// Sender identity
	// ----------------------------
	NoreplyAddress     string `envconfig:"NOREPLY_ADDRESS" default:"noreply@mailspool.local"`
	NoreplyDisplayName string `envconfig:"NOREPLY_DISPLAY_NAME" default:"Mailspool notifications"`
	TokenizedNoreply   bool   `envconfig:"TOKENIZED_NOREPLY" default:"true"`
	SupportEmail       string `envconfig:"SUPPORT_EMAIL" default:"support@mailspool.local"`
	ImageBaseURL       string `envconfig:"IMAGE_BASE_URL" default:"https://mailspool.local/static/images"`
	PhysicalAddress    string `envconfig:"PHYSICAL_ADDRESS" default:""`
	DefaultLanguage    string `envconfig:"DEFAULT_LANGUAGE" default:"en"`

	// ----------------------------
	// Delivery workers
	// ----------------------------
	WorkerCount  int `envconfig:"WORKER_COUNT" default:"1"`
	PollInterval int `envconfig:"POLL_INTERVAL_SECONDS" default:"10"`
	RateLimit    int `envconfig:"RATE_LIMIT" default:"10"`
	MaxAttempts  int `envconfig:"MAX_ATTEMPTS" default:"10"`

	// ----------------------------
	// Templates
	// ----------------------------
	TemplateDir string `envconfig:"TEMPLATE_DIR" default:"templates"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort string `envconfig:"API_PORT" default:"8080"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Database
	// ----------------------------
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
}

func Load() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return &cfg, err
}
