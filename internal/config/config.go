package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/punchamoorthee/creditgate/internal/entitlement"
	"github.com/punchamoorthee/creditgate/internal/models"
)

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendFirebase = "firebase"
	BackendMemory   = "memory"

	AuthFirebase = "firebase"
	AuthDev      = "dev"

	ProviderOpenAI = "openai"
	ProviderStub   = "stub"
)

type FirebaseConfig struct {
	DatabaseURL     string
	ProjectID       string
	CredentialsFile string
	CredentialsJSON string
}

type MercadoPagoConfig struct {
	AccessToken     string
	WebhookSecret   string
	NotificationURL string
	BackURL         string
}

type Config struct {
	Port string
	Env  string

	StoreBackend string
	DBSource     string
	SQLitePath   string
	Firebase     FirebaseConfig
	// Web is served verbatim at /api/config.
	Web models.PublicConfig

	AuthMode          string
	DiagnosisProvider string
	OpenAIKey         string
	OpenAIModel       string
	DiagnosisTimeout  time.Duration
	CommitTimeout     time.Duration
	MaxProductLength  int

	MercadoPago  MercadoPagoConfig
	PollInterval time.Duration
	PollLookback time.Duration

	FrontendOrigin string

	Policy entitlement.Policy
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("STORE_BACKEND", BackendPostgres)
	v.SetDefault("SQLITE_PATH", "creditgate.db")
	v.SetDefault("AUTH_MODE", AuthFirebase)
	v.SetDefault("DIAGNOSIS_PROVIDER", ProviderOpenAI)
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("DIAGNOSIS_TIMEOUT", "30s")
	v.SetDefault("LEDGER_COMMIT_TIMEOUT", "5s")
	v.SetDefault("MAX_PRODUCT_LENGTH", 2000)
	v.SetDefault("PAYMENT_POLL_INTERVAL", "0s")
	v.SetDefault("PAYMENT_POLL_LOOKBACK", "24h")
	v.SetDefault("FRONTEND_ORIGIN", "*")

	def := entitlement.DefaultPolicy()
	pack := def.Packs[def.DefaultSKU]
	v.SetDefault("INITIAL_GRANT", def.InitialGrant)
	v.SetDefault("SPEND_COST", def.SpendCost)
	v.SetDefault("DEFAULT_SKU", def.DefaultSKU)
	v.SetDefault("PACK_TITLE", pack.Title)
	v.SetDefault("PACK_CREDITS", pack.Credits)
	v.SetDefault("PACK_PRICE", pack.UnitPrice.String())
	v.SetDefault("PACK_CURRENCY", pack.Currency)
}

// Load reads configuration from the environment. CONFIG_FILE may name a YAML file whose keys
// (same names, any case) sit below the environment and above the defaults; only the file
// can declare extra packs, under "packs".
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port:         v.GetString("SERVER_PORT"),
		Env:          v.GetString("ENVIRONMENT"),
		StoreBackend: strings.ToLower(v.GetString("STORE_BACKEND")),
		DBSource:     v.GetString("DB_SOURCE"),
		SQLitePath:   v.GetString("SQLITE_PATH"),
		Firebase: FirebaseConfig{
			DatabaseURL:     v.GetString("FIREBASE_DB_URL"),
			ProjectID:       v.GetString("FIREBASE_PROJECT_ID"),
			CredentialsFile: v.GetString("FIREBASE_CREDENTIALS"),
			CredentialsJSON: v.GetString("GOOGLE_APPLICATION_CREDENTIALS_JSON"),
		},
		Web: models.PublicConfig{
			APIKey:            v.GetString("FIREBASE_API_KEY"),
			AuthDomain:        v.GetString("FIREBASE_AUTH_DOMAIN"),
			ProjectID:         v.GetString("FIREBASE_PROJECT_ID"),
			StorageBucket:     v.GetString("FIREBASE_STORAGE_BUCKET"),
			MessagingSenderID: v.GetString("FIREBASE_MESSAGING_SENDER_ID"),
			AppID:             v.GetString("FIREBASE_APP_ID"),
		},
		AuthMode:          strings.ToLower(v.GetString("AUTH_MODE")),
		DiagnosisProvider: strings.ToLower(v.GetString("DIAGNOSIS_PROVIDER")),
		OpenAIKey:         v.GetString("OPENAI_API_KEY"),
		OpenAIModel:       v.GetString("OPENAI_MODEL"),
		DiagnosisTimeout:  v.GetDuration("DIAGNOSIS_TIMEOUT"),
		CommitTimeout:     v.GetDuration("LEDGER_COMMIT_TIMEOUT"),
		MaxProductLength:  v.GetInt("MAX_PRODUCT_LENGTH"),
		MercadoPago: MercadoPagoConfig{
			AccessToken:     v.GetString("MP_ACCESS_TOKEN"),
			WebhookSecret:   v.GetString("MP_WEBHOOK_SECRET"),
			NotificationURL: v.GetString("MP_NOTIFICATION_URL"),
			BackURL:         v.GetString("MP_BACK_URL"),
		},
		PollInterval:   v.GetDuration("PAYMENT_POLL_INTERVAL"),
		PollLookback:   v.GetDuration("PAYMENT_POLL_LOOKBACK"),
		FrontendOrigin: v.GetString("FRONTEND_ORIGIN"),
	}

	policy, err := loadPolicy(v)
	if err != nil {
		return nil, err
	}
	cfg.Policy = policy

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// packConfig is one entry of the YAML packs list. Prices are read as text so they reach
// decimal without passing through a float.
type packConfig struct {
	SKU       string `mapstructure:"sku"`
	Title     string `mapstructure:"title"`
	Credits   int64  `mapstructure:"credits"`
	UnitPrice string `mapstructure:"unit_price"`
	Currency  string `mapstructure:"currency"`
}

func loadPolicy(v *viper.Viper) (entitlement.Policy, error) {
	p := entitlement.Policy{
		InitialGrant: v.GetInt64("INITIAL_GRANT"),
		SpendCost:    v.GetInt64("SPEND_COST"),
		DefaultSKU:   v.GetString("DEFAULT_SKU"),
		Packs:        map[string]entitlement.Pack{},
	}

	var extra []packConfig
	if err := v.UnmarshalKey("packs", &extra); err != nil {
		return p, fmt.Errorf("invalid packs: %w", err)
	}
	for _, pc := range extra {
		price, err := decimal.NewFromString(pc.UnitPrice)
		if err != nil {
			return p, fmt.Errorf("pack %q: invalid unit_price %q", pc.SKU, pc.UnitPrice)
		}
		if pc.Currency == "" {
			pc.Currency = v.GetString("PACK_CURRENCY")
		}
		p.Packs[pc.SKU] = entitlement.Pack{
			SKU:       pc.SKU,
			Title:     pc.Title,
			Credits:   pc.Credits,
			UnitPrice: price,
			Currency:  pc.Currency,
		}
	}

	// The env-described pack fills in the default SKU unless the file already declared it.
	if _, ok := p.Packs[p.DefaultSKU]; !ok {
		price, err := decimal.NewFromString(v.GetString("PACK_PRICE"))
		if err != nil {
			return p, fmt.Errorf("invalid PACK_PRICE %q", v.GetString("PACK_PRICE"))
		}
		p.Packs[p.DefaultSKU] = entitlement.Pack{
			SKU:       p.DefaultSKU,
			Title:     v.GetString("PACK_TITLE"),
			Credits:   v.GetInt64("PACK_CREDITS"),
			UnitPrice: price,
			Currency:  v.GetString("PACK_CURRENCY"),
		}
	}

	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("invalid entitlement policy: %w", err)
	}
	return p, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DBSource == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH environment variable is required")
		}
	case BackendFirebase:
		if c.Firebase.DatabaseURL == "" {
			return fmt.Errorf("FIREBASE_DB_URL environment variable is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.AuthMode {
	case AuthFirebase, AuthDev:
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}
	if c.AuthMode == AuthDev && c.Env == "production" {
		return fmt.Errorf("AUTH_MODE=dev is not allowed in production")
	}

	switch c.DiagnosisProvider {
	case ProviderOpenAI:
		if c.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable is required")
		}
	case ProviderStub:
	default:
		return fmt.Errorf("unknown DIAGNOSIS_PROVIDER %q", c.DiagnosisProvider)
	}

	if c.DiagnosisTimeout <= 0 || c.CommitTimeout <= 0 {
		return fmt.Errorf("DIAGNOSIS_TIMEOUT and LEDGER_COMMIT_TIMEOUT must be positive")
	}
	if c.MaxProductLength <= 0 {
		return fmt.Errorf("MAX_PRODUCT_LENGTH must be positive")
	}
	if c.PollInterval > 0 && c.PollLookback <= 0 {
		return fmt.Errorf("PAYMENT_POLL_LOOKBACK must be positive when polling is enabled")
	}
	return nil
}

// UsesFirebase reports whether a Firebase app has to be initialised.
func (c *Config) UsesFirebase() bool {
	return c.StoreBackend == BackendFirebase || c.AuthMode == AuthFirebase
}
