package models

import "github.com/punchamoorthee/creditgate/internal/domain"

// DiagnosisRequest is the payload from the client.
type DiagnosisRequest struct {
	Produto string `json:"produto"`
}

// DiagnosisResponse is the canonical response for POST /api/diagnosis.
type DiagnosisResponse struct {
	Resultado         *DiagnosisResult `json:"resultado"`
	CreditosRestantes int64            `json:"creditosRestantes"`
	AcessoCompleto    bool             `json:"acessoCompleto"`
	// LedgerWarning is set when the content was generated but the spend could not be recorded.
	LedgerWarning bool `json:"ledger_warning,omitempty"`
}

type CreditsResponse struct {
	Credits int64 `json:"credits"`
}

type CheckoutRequest struct {
	SKU string `json:"sku"`
}

type CheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
}

type HistoryResponse struct {
	Credits int64                `json:"credits"`
	Entries []domain.CreditEntry `json:"entries"`
}

// ErrorResponse keeps the `erro` envelope the web client already parses.
type ErrorResponse struct {
	Erro string `json:"erro"`
}

// PublicConfig is the Firebase web configuration served to the browser.
type PublicConfig struct {
	APIKey            string `json:"apiKey"`
	AuthDomain        string `json:"authDomain"`
	ProjectID         string `json:"projectId"`
	StorageBucket     string `json:"storageBucket"`
	MessagingSenderID string `json:"messagingSenderId"`
	AppID             string `json:"appId"`
}

// PaymentNotification is the MercadoPago webhook body. Only payment events are acted upon.
type PaymentNotification struct {
	ID     any    `json:"id"`
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}
