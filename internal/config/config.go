package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	AllowedOrigins  []string
	CallbackBaseURL string
	ProviderTimeout time.Duration
	RedisURL        string
	NatsURL         string

	Database       Database
	Mpesa          Mpesa
	Stripe         Stripe
	Reconciliation Reconciliation
}

type Database struct {
	Driver   string
	Host     string
	Port     string
	Username string
	Password string
	Name     string
	Schema   string
	// Path is the SQLite file or DSN when Driver is "sqlite".
	Path string
}

func (d Database) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		d.Username, d.Password, d.Host, d.Port, d.Name, d.Schema,
	)
}

type Mpesa struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	Passkey         string
	CountryCode     string
	TransactionType string
	CallbackToken   string
}

func (m Mpesa) Enabled() bool {
	return m.ConsumerKey != "" && m.ConsumerSecret != ""
}

type Stripe struct {
	BaseURL            string
	SecretKey          string
	WebhookSecret      string
	Currency           string
	SignatureTolerance time.Duration
}

func (s Stripe) Enabled() bool {
	return s.SecretKey != ""
}

type Reconciliation struct {
	Interval        time.Duration
	StaleAfter      time.Duration
	AbandonAfter    time.Duration
	BatchSize       int
	AmountTolerance decimal.Decimal
}

// Load reads .env files (missing files are fine) and then the process
// environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", file, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	tolerance, err := decimal.NewFromString(v.GetString("reconcile_amount_tolerance"))
	if err != nil {
		return nil, fmt.Errorf("config: RECONCILE_AMOUNT_TOLERANCE: %w", err)
	}

	cfg := &Config{
		HTTPAddr:        v.GetString("http_addr"),
		LogLevel:        v.GetString("log_level"),
		LogFormat:       v.GetString("log_format"),
		AllowedOrigins:  splitList(v.GetString("cors_allowed_origins")),
		CallbackBaseURL: strings.TrimRight(v.GetString("callback_base_url"), "/"),
		ProviderTimeout: v.GetDuration("provider_timeout"),
		RedisURL:        v.GetString("redis_url"),
		NatsURL:         v.GetString("nats_url"),
		Database: Database{
			Driver:   strings.ToLower(v.GetString("database_driver")),
			Host:     v.GetString("blueprint_db_host"),
			Port:     v.GetString("blueprint_db_port"),
			Username: v.GetString("blueprint_db_username"),
			Password: v.GetString("blueprint_db_password"),
			Name:     v.GetString("blueprint_db_database"),
			Schema:   v.GetString("blueprint_db_schema"),
			Path:     v.GetString("sqlite_path"),
		},
		Mpesa: Mpesa{
			BaseURL:         strings.TrimRight(v.GetString("mpesa_base_url"), "/"),
			ConsumerKey:     v.GetString("mpesa_consumer_key"),
			ConsumerSecret:  v.GetString("mpesa_consumer_secret"),
			ShortCode:       v.GetString("mpesa_short_code"),
			Passkey:         v.GetString("mpesa_passkey"),
			CountryCode:     v.GetString("mpesa_country_code"),
			TransactionType: v.GetString("mpesa_transaction_type"),
			CallbackToken:   v.GetString("mpesa_callback_token"),
		},
		Stripe: Stripe{
			BaseURL:            strings.TrimRight(v.GetString("stripe_api_base"), "/"),
			SecretKey:          v.GetString("stripe_secret_key"),
			WebhookSecret:      v.GetString("stripe_webhook_secret"),
			Currency:           strings.ToLower(v.GetString("stripe_currency")),
			SignatureTolerance: v.GetDuration("stripe_signature_tolerance"),
		},
		Reconciliation: Reconciliation{
			Interval:        v.GetDuration("reconcile_interval"),
			StaleAfter:      v.GetDuration("reconcile_stale_after"),
			AbandonAfter:    v.GetDuration("reconcile_abandon_after"),
			BatchSize:       v.GetInt("reconcile_batch_size"),
			AmountTolerance: tolerance,
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("cors_allowed_origins", "*")
	v.SetDefault("provider_timeout", "15s")
	v.SetDefault("database_driver", "postgres")
	v.SetDefault("blueprint_db_port", "5432")
	v.SetDefault("blueprint_db_schema", "public")
	v.SetDefault("sqlite_path", "file:payments.db?cache=shared")
	v.SetDefault("mpesa_base_url", "https://sandbox.safaricom.co.ke")
	v.SetDefault("mpesa_country_code", "254")
	v.SetDefault("mpesa_transaction_type", "CustomerPayBillOnline")
	v.SetDefault("stripe_api_base", "https://api.stripe.com")
	v.SetDefault("stripe_currency", "usd")
	v.SetDefault("stripe_signature_tolerance", "5m")
	v.SetDefault("reconcile_interval", "1m")
	v.SetDefault("reconcile_stale_after", "5m")
	v.SetDefault("reconcile_abandon_after", "24h")
	v.SetDefault("reconcile_batch_size", 50)
	v.SetDefault("reconcile_amount_tolerance", "0.01")
}

func (c *Config) Validate() error {
	var missing []string
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			missing = append(missing, "BLUEPRINT_DB_HOST")
		}
		if c.Database.Name == "" {
			missing = append(missing, "BLUEPRINT_DB_DATABASE")
		}
	case "sqlite":
		if c.Database.Path == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	default:
		return fmt.Errorf("config: unsupported DATABASE_DRIVER %q", c.Database.Driver)
	}
	if !c.Mpesa.Enabled() && !c.Stripe.Enabled() {
		missing = append(missing, "MPESA_CONSUMER_KEY/MPESA_CONSUMER_SECRET or STRIPE_SECRET_KEY")
	}
	if c.Mpesa.Enabled() {
		if c.Mpesa.ShortCode == "" {
			missing = append(missing, "MPESA_SHORT_CODE")
		}
		if c.Mpesa.Passkey == "" {
			missing = append(missing, "MPESA_PASSKEY")
		}
		if c.CallbackBaseURL == "" {
			missing = append(missing, "CALLBACK_BASE_URL")
		}
	}
	if c.Stripe.Enabled() && c.Stripe.WebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	if c.Reconciliation.BatchSize <= 0 {
		return fmt.Errorf("config: RECONCILE_BATCH_SIZE must be positive")
	}
	return nil
}

// MpesaCallbackURL is the result URL registered with every STK push.
func (c *Config) MpesaCallbackURL() string {
	callback := c.CallbackBaseURL + "/webhooks/mpesa"
	if c.Mpesa.CallbackToken != "" {
		callback += "?token=" + url.QueryEscape(c.Mpesa.CallbackToken)
	}
	return callback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
