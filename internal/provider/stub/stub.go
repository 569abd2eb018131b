// Package stub is an offline diagnosis provider for local runs and load tests.
package stub

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/punchamoorthee/creditgate/internal/domain"
	"github.com/punchamoorthee/creditgate/internal/entitlement"
)

// Provider returns a canned diagnosis after Delay. It produces the same payload shape as
// the real model so the validator is exercised.
type Provider struct {
	Delay time.Duration
}

func (p Provider) Diagnose(ctx context.Context, product string, tier entitlement.Tier) ([]byte, error) {
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return nil, domain.NewProviderError("stub", ctx.Err())
		}
	}

	product = strings.TrimSpace(product)
	payload := map[string]any{
		"risco":   "MÉDIO",
		"porque":  "Anúncios de \"" + product + "\" competem com muitos concorrentes e público amplo demais.",
		"impacto": "Cliques de curiosos sem intenção de compra consomem o orçamento.",
		"copy":    product + " que resolve o seu problema hoje.",
	}
	if tier.Full() {
		payload["publico_alvo"] = "Adultos de 25 a 45 anos que já compram online e seguem perfis do nicho."
		payload["angulo_emocional"] = "Sensação de fazer a escolha certa sem arrependimento."
		payload["briefing_imagem"] = "Produto em uso, luz natural, fundo limpo e preço em destaque."
		payload["ctas"] = []string{"Compre agora", "Garanta o seu", "Peça pelo WhatsApp"}
		payload["copy_persuasiva"] = "Chega de gastar com o que não funciona: " + product + " entrega resultado desde o primeiro dia."
	} else {
		for _, k := range []string{"publico_alvo", "angulo_emocional", "briefing_imagem", "ctas", "copy_persuasiva"} {
			payload[k] = nil
		}
	}
	return json.Marshal(payload)
}
