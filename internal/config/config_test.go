package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "file:test.db")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "usd", cfg.Stripe.Currency)
	require.Equal(t, 5*time.Minute, cfg.Stripe.SignatureTolerance)
	require.Equal(t, "254", cfg.Mpesa.CountryCode)
	require.Equal(t, 50, cfg.Reconciliation.BatchSize)
	require.Equal(t, "0.01", cfg.Reconciliation.AmountTolerance.String())
	require.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	require.False(t, cfg.Mpesa.Enabled())
	require.True(t, cfg.Stripe.Enabled())
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	setBaseEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	content := "MPESA_CONSUMER_KEY=key\nMPESA_CONSUMER_SECRET=secret\nMPESA_SHORT_CODE=174379\n" +
		"MPESA_PASSKEY=passkey\nCALLBACK_BASE_URL=https://pay.example.com/\n" +
		"CORS_ALLOWED_ORIGINS=https://shop.example.com, https://admin.example.com\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Cleanup(func() {
		for _, key := range []string{"MPESA_CONSUMER_KEY", "MPESA_CONSUMER_SECRET", "MPESA_SHORT_CODE", "MPESA_PASSKEY", "CALLBACK_BASE_URL", "CORS_ALLOWED_ORIGINS"} {
			os.Unsetenv(key)
		}
	})

	cfg, err := Load(path)
	require.NoError(t, err)

	require.True(t, cfg.Mpesa.Enabled())
	require.Equal(t, "174379", cfg.Mpesa.ShortCode)
	require.Equal(t, "https://pay.example.com", cfg.CallbackBaseURL)
	require.Equal(t, []string{"https://shop.example.com", "https://admin.example.com"}, cfg.AllowedOrigins)
}

func TestLoadRejectsMissingProviderSettings(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "STRIPE_WEBHOOK_SECRET")
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DATABASE_DRIVER", "mysql")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.ErrorContains(t, err, "unsupported DATABASE_DRIVER")
}

func TestPostgresDSN(t *testing.T) {
	db := Database{Host: "localhost", Port: "5432", Username: "app", Password: "pw", Name: "payments", Schema: "public"}
	require.Equal(t, "postgres://app:pw@localhost:5432/payments?sslmode=disable&search_path=public", db.PostgresDSN())
}

func TestMpesaCallbackURL(t *testing.T) {
	cfg := &Config{CallbackBaseURL: "https://pay.example.com"}
	require.Equal(t, "https://pay.example.com/webhooks/mpesa", cfg.MpesaCallbackURL())

	cfg.Mpesa.CallbackToken = "a b&c"
	require.Equal(t, "https://pay.example.com/webhooks/mpesa?token=a+b%26c", cfg.MpesaCallbackURL())
}
