package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/creditgate/internal/identity"
	"github.com/punchamoorthee/creditgate/internal/ledger"
	"github.com/punchamoorthee/creditgate/internal/models"
	"github.com/punchamoorthee/creditgate/internal/service"
)

// Metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creditgate_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "creditgate_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "endpoint"})
)

const maxBodyBytes = 64 << 10

// Deps are the collaborators the HTTP layer needs. Payments may be nil, in which case the
// webhook route is not registered.
type Deps struct {
	Diagnosis     *service.DiagnosisService
	Checkout      *service.CheckoutService
	Ledger        *ledger.Ledger
	Verifier      identity.Verifier
	Payments      *service.PaymentSync
	WebhookSecret string
	PublicConfig  models.PublicConfig
}

type Handler struct {
	diagnosis     *service.DiagnosisService
	checkout      *service.CheckoutService
	ledger        *ledger.Ledger
	verifier      identity.Verifier
	payments      *service.PaymentSync
	webhookSecret string
	web           models.PublicConfig
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		diagnosis:     d.Diagnosis,
		checkout:      d.Checkout,
		ledger:        d.Ledger,
		verifier:      d.Verifier,
		payments:      d.Payments,
		webhookSecret: d.WebhookSecret,
		web:           d.PublicConfig,
	}
}

// NewRouter wires every route, including /metrics and /health.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/config", h.PublicConfigHandler).Methods("GET")
	api.HandleFunc("/credits", h.CreditsHandler).Methods("GET")
	api.HandleFunc("/credits/history", h.HistoryHandler).Methods("GET")
	api.HandleFunc("/diagnosis", h.DiagnosisHandler).Methods("POST")
	api.HandleFunc("/anuncio", h.DiagnosisHandler).Methods("POST")
	api.HandleFunc("/checkout", h.CheckoutHandler).Methods("POST")
	api.HandleFunc("/pagamento", h.CheckoutHandler).Methods("POST")
	if h.payments != nil {
		api.HandleFunc("/webhooks/mercadopago", h.MercadoPagoWebhookHandler).Methods("POST")
	}
	return r
}

// Helpers
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func respondWithError(w http.ResponseWriter, code int, message, method, endpoint string) {
	respondWithJSON(w, code, models.ErrorResponse{Erro: message}, method, endpoint)
}
