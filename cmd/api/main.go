package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/punchamoorthee/creditgate/internal/api"
	"github.com/punchamoorthee/creditgate/internal/app"
	"github.com/punchamoorthee/creditgate/internal/config"
	"github.com/punchamoorthee/creditgate/internal/service"
	"github.com/punchamoorthee/creditgate/internal/worker"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// load .env (optional)
	if err := godotenv.Load(); err != nil {
		log.Println("no .env, falling back to environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Layers
	a, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Unable to open balance store: %v", err)
	}
	defer a.Close()

	verifier, err := a.Verifier(ctx)
	if err != nil {
		log.Fatalf("Unable to initialize token verification: %v", err)
	}

	payments := a.PaymentSync()
	var checkoutProvider service.CheckoutProvider = unconfiguredCheckout{}
	if mp := a.MercadoPago(); mp != nil {
		checkoutProvider = mp
	} else {
		log.Println("MP_ACCESS_TOKEN not set: checkout and payment webhooks disabled")
	}

	handler := api.NewHandler(api.Deps{
		Diagnosis: service.NewDiagnosisService(a.Ledger, verifier, a.Diagnoser(), service.DiagnosisOptions{
			Timeout:          cfg.DiagnosisTimeout,
			MaxProductLength: cfg.MaxProductLength,
		}),
		Checkout:      service.NewCheckoutService(verifier, checkoutProvider, cfg.Policy),
		Ledger:        a.Ledger,
		Verifier:      verifier,
		Payments:      payments,
		WebhookSecret: cfg.MercadoPago.WebhookSecret,
		PublicConfig:  cfg.Web,
	})
	if payments != nil && cfg.MercadoPago.WebhookSecret == "" {
		log.Println("MP_WEBHOOK_SECRET not set: webhook signatures are not verified")
	}

	// CORS configuration
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.FrontendOrigin},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: cfg.FrontendOrigin != "*",
		MaxAge:           int((12 * time.Hour).Seconds()),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      c.Handler(api.NewRouter(handler)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.DiagnosisTimeout + cfg.CommitTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if payments != nil && cfg.PollInterval > 0 {
		go worker.RunPaymentPoller(ctx, payments, cfg.PollInterval, cfg.PollLookback)
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s, store=%s, auth=%s, provider=%s)",
			cfg.Port, cfg.Env, cfg.StoreBackend, cfg.AuthMode, cfg.DiagnosisProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DiagnosisTimeout+cfg.CommitTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
}
