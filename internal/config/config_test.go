package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"CONFIG_FILE", "SERVER_PORT", "ENVIRONMENT", "STORE_BACKEND", "DB_SOURCE", "SQLITE_PATH",
	"FIREBASE_DB_URL", "FIREBASE_PROJECT_ID", "FIREBASE_CREDENTIALS", "GOOGLE_APPLICATION_CREDENTIALS_JSON",
	"AUTH_MODE", "DIAGNOSIS_PROVIDER", "OPENAI_API_KEY", "OPENAI_MODEL", "DIAGNOSIS_TIMEOUT",
	"LEDGER_COMMIT_TIMEOUT", "MAX_PRODUCT_LENGTH", "PAYMENT_POLL_INTERVAL", "PAYMENT_POLL_LOOKBACK",
	"INITIAL_GRANT", "SPEND_COST", "DEFAULT_SKU", "PACK_TITLE", "PACK_CREDITS", "PACK_PRICE", "PACK_CURRENCY",
}

// cleanEnv blanks every key Load reads so the host environment cannot leak in.
func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	cleanEnv(t)
	t.Setenv("DB_SOURCE", "postgres://localhost:5432/creditgate")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.Env != "development" || cfg.StoreBackend != BackendPostgres {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.DiagnosisTimeout != 30*time.Second || cfg.CommitTimeout != 5*time.Second {
		t.Errorf("timeouts = %s / %s", cfg.DiagnosisTimeout, cfg.CommitTimeout)
	}
	if cfg.OpenAIModel != "gpt-4o-mini" || cfg.MaxProductLength != 2000 || cfg.PollInterval != 0 {
		t.Errorf("cfg = %+v", cfg)
	}

	p := cfg.Policy
	pack, ok := p.Pack("")
	if p.InitialGrant != 1 || p.SpendCost != 1 || !ok || pack.Credits != 10 || pack.UnitPrice.String() != "7.99" || pack.Currency != "BRL" {
		t.Errorf("policy = %+v", p)
	}
	if !cfg.UsesFirebase() {
		t.Error("default auth mode should need firebase")
	}
}

func TestLoadRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"postgres without dsn", map[string]string{"OPENAI_API_KEY": "k"}, "DB_SOURCE"},
		{"firebase without url", map[string]string{"STORE_BACKEND": "firebase", "OPENAI_API_KEY": "k"}, "FIREBASE_DB_URL"},
		{"openai without key", map[string]string{"STORE_BACKEND": "memory"}, "OPENAI_API_KEY"},
		{"unknown backend", map[string]string{"STORE_BACKEND": "redis", "DIAGNOSIS_PROVIDER": "stub"}, "STORE_BACKEND"},
		{"dev auth in production", map[string]string{"STORE_BACKEND": "memory", "DIAGNOSIS_PROVIDER": "stub", "AUTH_MODE": "dev", "ENVIRONMENT": "production"}, "AUTH_MODE"},
		{"zero spend cost", map[string]string{"STORE_BACKEND": "memory", "DIAGNOSIS_PROVIDER": "stub", "SPEND_COST": "0"}, "spend cost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	cleanEnv(t)
	t.Setenv("STORE_BACKEND", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/credits.db")
	t.Setenv("AUTH_MODE", "dev")
	t.Setenv("DIAGNOSIS_PROVIDER", "stub")
	t.Setenv("INITIAL_GRANT", "0")
	t.Setenv("PACK_CREDITS", "25")
	t.Setenv("PAYMENT_POLL_INTERVAL", "5m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreBackend != BackendSQLite || cfg.SQLitePath != "/tmp/credits.db" || cfg.UsesFirebase() {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Policy.InitialGrant != 0 || cfg.Policy.Packs["pack-10"].Credits != 25 {
		t.Errorf("policy = %+v", cfg.Policy)
	}
	if cfg.PollInterval != 5*time.Minute || cfg.PollLookback != 24*time.Hour {
		t.Errorf("poll = %s/%s", cfg.PollInterval, cfg.PollLookback)
	}
}

func TestLoadConfigFile(t *testing.T) {
	cleanEnv(t)
	path := filepath.Join(t.TempDir(), "creditgate.yaml")
	yaml := `
store_backend: memory
diagnosis_provider: stub
auth_mode: dev
initial_grant: 3
packs:
  - sku: pack-10
    title: Pack 10
    credits: 10
    unit_price: 7.99
  - sku: pack-50
    title: Pack 50
    credits: 50
    unit_price: 29.9
    currency: BRL
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("INITIAL_GRANT", "2") // environment wins over the file

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreBackend != BackendMemory || cfg.Policy.InitialGrant != 2 {
		t.Errorf("cfg = %+v", cfg)
	}
	big, ok := cfg.Policy.Pack("pack-50")
	if !ok || big.Credits != 50 || big.UnitPrice.String() != "29.9" {
		t.Errorf("pack-50 = %+v (%v)", big, ok)
	}
	if cfg.Policy.Packs["pack-10"].Currency != "BRL" {
		t.Errorf("pack-10 currency should default, got %+v", cfg.Policy.Packs["pack-10"])
	}
}

func TestLoadRejectsBadPrice(t *testing.T) {
	cleanEnv(t)
	t.Setenv("STORE_BACKEND", BackendMemory)
	t.Setenv("AUTH_MODE", AuthDev)
	t.Setenv("DIAGNOSIS_PROVIDER", ProviderStub)

	for _, price := range []string{"abc", "0", "-1.50"} {
		t.Setenv("PACK_PRICE", price)
		if _, err := Load(); err == nil {
			t.Errorf("PACK_PRICE=%q: expected error", price)
		}
	}
}
