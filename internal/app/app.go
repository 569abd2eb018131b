// Package app assembles the ledger and its collaborators from configuration. It is shared by
// the API server and ledgerctl so both talk to the same backend the same way.
package app

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"

	"github.com/punchamoorthee/creditgate/internal/config"
	"github.com/punchamoorthee/creditgate/internal/firebaseapp"
	"github.com/punchamoorthee/creditgate/internal/identity"
	"github.com/punchamoorthee/creditgate/internal/ledger"
	"github.com/punchamoorthee/creditgate/internal/payment/mercadopago"
	"github.com/punchamoorthee/creditgate/internal/provider/openai"
	"github.com/punchamoorthee/creditgate/internal/provider/stub"
	"github.com/punchamoorthee/creditgate/internal/service"
	"github.com/punchamoorthee/creditgate/internal/store"
)

type App struct {
	Config *config.Config
	Store  store.BalanceStore
	Ledger *ledger.Ledger

	firebase *firebase.App
}

// Open connects the configured balance store (migrating Postgres) and builds the ledger.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	if cfg.UsesFirebase() {
		fb, err := firebaseapp.New(ctx, firebaseapp.Settings{
			CredentialsJSON: cfg.Firebase.CredentialsJSON,
			CredentialsFile: cfg.Firebase.CredentialsFile,
			ProjectID:       cfg.Firebase.ProjectID,
			DatabaseURL:     cfg.Firebase.DatabaseURL,
		})
		if err != nil {
			return nil, err
		}
		a.firebase = fb
	}

	s, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = s
	a.Ledger = ledger.New(s, cfg.Policy, cfg.CommitTimeout)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (store.BalanceStore, error) {
	cfg := a.Config
	opts := store.Options{InitialGrant: cfg.Policy.InitialGrant}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pg, err := store.NewPostgresStore(ctx, cfg.DBSource, opts)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Printf("Balance store: postgres")
		return pg, nil
	case config.BackendSQLite:
		log.Printf("Balance store: sqlite (%s)", cfg.SQLitePath)
		return store.NewSQLiteStore(cfg.SQLitePath, opts)
	case config.BackendFirebase:
		client, err := a.firebase.Database(ctx)
		if err != nil {
			return nil, fmt.Errorf("firebase database: %w", err)
		}
		log.Printf("Balance store: firebase realtime database")
		return store.NewFirebaseStore(client, opts), nil
	case config.BackendMemory:
		log.Printf("Balance store: memory (balances are lost on restart)")
		return store.NewMemoryStore(opts), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// Verifier returns the token verifier selected by AUTH_MODE.
func (a *App) Verifier(ctx context.Context) (identity.Verifier, error) {
	if a.Config.AuthMode == config.AuthDev {
		log.Printf("AUTH_MODE=dev: accepting dev-<uid> tokens")
		return identity.DevVerifier{}, nil
	}
	client, err := a.firebase.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth: %w", err)
	}
	return identity.NewFirebaseVerifier(client), nil
}

// Diagnoser returns the diagnosis provider selected by DIAGNOSIS_PROVIDER.
func (a *App) Diagnoser() service.Diagnoser {
	if a.Config.DiagnosisProvider == config.ProviderStub {
		return stub.Provider{}
	}
	return openai.NewClient(a.Config.OpenAIKey, a.Config.OpenAIModel)
}

// MercadoPago returns the payment client, or nil when no access token is configured.
func (a *App) MercadoPago() *mercadopago.Client {
	mp := a.Config.MercadoPago
	if mp.AccessToken == "" {
		return nil
	}
	return mercadopago.New(mercadopago.Options{
		AccessToken:     mp.AccessToken,
		NotificationURL: mp.NotificationURL,
		BackURL:         mp.BackURL,
	})
}

// PaymentSync wires the reconciler to MercadoPago, or returns nil without an access token.
func (a *App) PaymentSync() *service.PaymentSync {
	mp := a.MercadoPago()
	if mp == nil {
		return nil
	}
	return service.NewPaymentSync(mp, service.NewPurchaseReconciler(a.Ledger))
}

func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
