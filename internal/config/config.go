package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

type Config struct {
	Env      string
	Port     string
	LogLevel string

	DatabaseURL string
	// RedisURL and QueueURL are resolved from the environment-specific
	// variables; an empty value disables the upstream tier.
	RedisURL    string
	QueueURL    string
	CachePrefix string

	WebhookSecret string

	QueueConcurrency int
	QueueRatePerSec  int
	QueueMaxAttempts int
	QueueBackoff     time.Duration
	QueueName        string

	IngressDeadline    time.Duration
	IOTimeout          time.Duration
	CacheReadyDeadline time.Duration
	WarmGap            time.Duration

	EmployeeEmailDomain string
	SuperAdminEmails    map[string]struct{}
	// AllowedOrigins limits browser origins for CORS and the live socket;
	// empty allows any origin.
	AllowedOrigins []string

	DiscordWebhookURL string
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFrom        string
	AlertSMSTo        string
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	// A missing .env is normal outside local development.
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return FromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", EnvDevelopment)
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_URL", "host=localhost user=user password=password dbname=rank_sync port=5432 sslmode=disable")
	v.SetDefault("CACHE_PREFIX", "rank")
	v.SetDefault("QUEUE_NAME", "webhooks")
	v.SetDefault("QUEUE_CONCURRENCY", 3)
	v.SetDefault("QUEUE_RATE_PER_SEC", 20)
	v.SetDefault("QUEUE_MAX_ATTEMPTS", 5)
	v.SetDefault("QUEUE_BACKOFF", "2s")
	v.SetDefault("INGRESS_DEADLINE", "1s")
	v.SetDefault("IO_TIMEOUT", "5s")
	v.SetDefault("CACHE_READY_DEADLINE", "10s")
	v.SetDefault("WARM_GAP", "250ms")
	v.SetDefault("EMPLOYEE_EMAIL_DOMAIN", "@jerky.com")
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (Config, error) {
	env := strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV")))
	if env != EnvProduction {
		env = EnvDevelopment
	}
	suffix := strings.ToUpper(env)

	cfg := Config{
		Env:      env,
		Port:     v.GetString("PORT"),
		LogLevel: v.GetString("LOG_LEVEL"),

		DatabaseURL: v.GetString("DATABASE_URL"),
		// The hosting UI re-syncs a single-named variable across
		// environments, so each environment reads its own variable.
		RedisURL:    v.GetString("REDIS_URL_" + suffix),
		QueueURL:    v.GetString("QUEUE_URL_" + suffix),
		CachePrefix: v.GetString("CACHE_PREFIX"),

		WebhookSecret: v.GetString("SHOPIFY_WEBHOOK_SECRET"),

		QueueConcurrency: v.GetInt("QUEUE_CONCURRENCY"),
		QueueRatePerSec:  v.GetInt("QUEUE_RATE_PER_SEC"),
		QueueMaxAttempts: v.GetInt("QUEUE_MAX_ATTEMPTS"),
		QueueBackoff:     v.GetDuration("QUEUE_BACKOFF"),
		QueueName:        v.GetString("QUEUE_NAME"),

		IngressDeadline:    v.GetDuration("INGRESS_DEADLINE"),
		IOTimeout:          v.GetDuration("IO_TIMEOUT"),
		CacheReadyDeadline: v.GetDuration("CACHE_READY_DEADLINE"),
		WarmGap:            v.GetDuration("WARM_GAP"),

		EmployeeEmailDomain: v.GetString("EMPLOYEE_EMAIL_DOMAIN"),
		SuperAdminEmails:    parseEmails(v.GetString("SUPER_ADMIN_EMAILS")),
		AllowedOrigins:      parseList(v.GetString("ALLOWED_ORIGINS")),

		DiscordWebhookURL: v.GetString("ALERT_DISCORD_WEBHOOK_URL"),
		TwilioAccountSID:  v.GetString("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   v.GetString("TWILIO_AUTH_TOKEN"),
		TwilioFrom:        v.GetString("TWILIO_PHONE_NUMBER"),
		AlertSMSTo:        v.GetString("ALERT_SMS_TO"),
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations that cannot run safely.
func (c Config) Validate() error {
	var errs []error
	if c.Env == EnvProduction && c.WebhookSecret == "" {
		errs = append(errs, errors.New("SHOPIFY_WEBHOOK_SECRET is required in production"))
	}
	if c.QueueConcurrency <= 0 {
		errs = append(errs, errors.New("QUEUE_CONCURRENCY must be positive"))
	}
	if c.QueueRatePerSec <= 0 {
		errs = append(errs, errors.New("QUEUE_RATE_PER_SEC must be positive"))
	}
	if c.QueueMaxAttempts <= 0 {
		errs = append(errs, errors.New("QUEUE_MAX_ATTEMPTS must be positive"))
	}
	if c.IngressDeadline <= 0 {
		errs = append(errs, errors.New("INGRESS_DEADLINE must be positive"))
	}
	return errors.Join(errs...)
}

func (c Config) IsProduction() bool { return c.Env == EnvProduction }

func (c Config) SMSAlertsEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFrom != "" && c.AlertSMSTo != ""
}

func parseEmails(csv string) map[string]struct{} {
	m := make(map[string]struct{})
	for _, e := range strings.Split(csv, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			m[e] = struct{}{}
		}
	}
	return m
}

func parseList(csv string) []string {
	var out []string
	for _, s := range strings.Split(csv, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
