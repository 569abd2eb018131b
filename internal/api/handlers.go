package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/punchamoorthee/creditgate/internal/domain"
	"github.com/punchamoorthee/creditgate/internal/identity"
	"github.com/punchamoorthee/creditgate/internal/models"
)

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

func (h *Handler) PublicConfigHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.web, "GET", "/api/config")
}

// CreditsHandler never rejects: callers without a valid token simply have no credits.
func (h *Handler) CreditsHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/credits"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	id := identity.Resolve(r.Context(), h.verifier, r.Header.Get("Authorization"))
	if !id.Authenticated() {
		respondWithJSON(w, http.StatusOK, models.CreditsResponse{Credits: 0}, "GET", endpoint)
		return
	}

	acct, err := h.ledger.Balance(r.Context(), id.UserID)
	if err != nil {
		log.Printf("credits for %s: %v", id.UserID, err)
		respondWithError(w, http.StatusInternalServerError, "Erro ao consultar créditos", "GET", endpoint)
		return
	}
	respondWithJSON(w, http.StatusOK, models.CreditsResponse{Credits: acct.Credits}, "GET", endpoint)
}

func (h *Handler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/credits/history"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	id, err := identity.Require(r.Context(), h.verifier, r.Header.Get("Authorization"))
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "Não autenticado", "GET", endpoint)
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			respondWithError(w, http.StatusBadRequest, "limit inválido", "GET", endpoint)
			return
		}
	}

	acct, err := h.ledger.Balance(r.Context(), id.UserID)
	if err != nil {
		log.Printf("history for %s: %v", id.UserID, err)
		respondWithError(w, http.StatusInternalServerError, "Erro ao consultar créditos", "GET", endpoint)
		return
	}
	entries, err := h.ledger.History(r.Context(), id.UserID, limit)
	if err != nil {
		log.Printf("history for %s: %v", id.UserID, err)
		respondWithError(w, http.StatusInternalServerError, "Erro ao consultar créditos", "GET", endpoint)
		return
	}
	respondWithJSON(w, http.StatusOK, models.HistoryResponse{Credits: acct.Credits, Entries: entries}, "GET", endpoint)
}

func (h *Handler) DiagnosisHandler(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Path
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req models.DiagnosisRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		respondWithError(w, http.StatusBadRequest, "JSON inválido", "POST", endpoint)
		return
	}

	out, err := h.diagnosis.Diagnose(r.Context(), r.Header.Get("Authorization"), req.Produto)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidRequest):
			respondWithError(w, http.StatusBadRequest, reason(err, "Produto não informado"), "POST", endpoint)
		case errors.Is(err, domain.ErrProvider):
			log.Printf("diagnosis failed: %v", err)
			respondWithError(w, http.StatusInternalServerError, "Erro ao gerar diagnóstico", "POST", endpoint)
		default:
			log.Printf("diagnosis failed: %v", err)
			respondWithError(w, http.StatusInternalServerError, "Erro interno", "POST", endpoint)
		}
		return
	}

	respondWithJSON(w, http.StatusOK, models.DiagnosisResponse{
		Resultado:         out.Result,
		CreditosRestantes: out.CreditsRemaining,
		AcessoCompleto:    out.Tier.Full(),
		LedgerWarning:     out.LedgerWarning,
	}, "POST", endpoint)
}

func (h *Handler) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Path
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req models.CheckoutRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		respondWithError(w, http.StatusBadRequest, "JSON inválido", "POST", endpoint)
		return
	}

	url, err := h.checkout.Checkout(r.Context(), r.Header.Get("Authorization"), req.SKU)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnauthenticated):
			respondWithError(w, http.StatusUnauthorized, "Não autenticado", "POST", endpoint)
		case errors.Is(err, domain.ErrUnknownSKU):
			respondWithError(w, http.StatusBadRequest, "Pacote desconhecido", "POST", endpoint)
		default:
			respondWithError(w, http.StatusInternalServerError, "Erro no pagamento", "POST", endpoint)
		}
		return
	}
	respondWithJSON(w, http.StatusOK, models.CheckoutResponse{CheckoutURL: url}, "POST", endpoint)
}

// decodeBody reads a JSON body into dst. An empty body is accepted only when optional.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if optional {
			return nil
		}
		return errors.New("empty body")
	}
	return json.Unmarshal(body, dst)
}

// reason extracts the text after "invalid request: ", falling back to def.
func reason(err error, def string) string {
	if s, ok := strings.CutPrefix(err.Error(), domain.ErrInvalidRequest.Error()+": "); ok && s != "" {
		return s
	}
	return def
}
