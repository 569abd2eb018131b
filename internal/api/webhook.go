package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/punchamoorthee/creditgate/internal/models"
	"github.com/punchamoorthee/creditgate/internal/payment/mercadopago"
	"github.com/punchamoorthee/creditgate/internal/service"
)

// MercadoPagoWebhookHandler accepts both webhook ("type"/"data.id") and legacy IPN
// ("topic"/"id") notifications. It answers 200 for anything redelivery cannot change and
// 500 for transient failures so MercadoPago retries.
func (h *Handler) MercadoPagoWebhookHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/webhooks/mercadopago"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var note models.PaymentNotification
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "corpo inválido", "POST", endpoint)
		return
	}
	if len(body) > 0 {
		// Ids arrive as strings or numbers depending on the notification flavour.
		if err := json.Unmarshal(body, &note); err != nil {
			var loose struct {
				Type string `json:"type"`
				Data struct {
					ID json.Number `json:"id"`
				} `json:"data"`
			}
			if json.Unmarshal(body, &loose) != nil {
				respondWithError(w, http.StatusBadRequest, "JSON inválido", "POST", endpoint)
				return
			}
			note.Type, note.Data.ID = loose.Type, loose.Data.ID.String()
		}
	}

	q := r.URL.Query()
	kind := firstNonEmpty(note.Type, q.Get("type"), q.Get("topic"))
	dataID := firstNonEmpty(q.Get("data.id"), note.Data.ID)
	if dataID == "" && q.Get("topic") == "payment" {
		dataID = q.Get("id")
	}

	if h.webhookSecret != "" {
		err := mercadopago.VerifySignature(h.webhookSecret, r.Header.Get("x-signature"), r.Header.Get("x-request-id"), dataID)
		if err != nil {
			log.Printf("webhook rejected: %v (data.id=%q)", err, dataID)
			respondWithError(w, http.StatusUnauthorized, "assinatura inválida", "POST", endpoint)
			return
		}
	}

	if kind != "payment" || dataID == "" {
		respondWithJSON(w, http.StatusOK, webhookAck(service.OutcomeIgnored), "POST", endpoint)
		return
	}

	outcome, err := h.payments.ProcessPayment(r.Context(), dataID)
	if err != nil {
		if outcome != service.OutcomeIgnored {
			log.Printf("webhook payment %s failed: %v", dataID, err)
			respondWithError(w, http.StatusInternalServerError, "falha temporária", "POST", endpoint)
			return
		}
		log.Printf("webhook payment %s ignored: %v", dataID, err)
	}
	respondWithJSON(w, http.StatusOK, webhookAck(outcome), "POST", endpoint)
}

func webhookAck(outcome service.PaymentOutcome) map[string]string {
	return map[string]string{"status": string(outcome)}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
