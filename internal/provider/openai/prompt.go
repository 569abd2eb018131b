package openai

import (
	"fmt"
	"strings"

	"github.com/punchamoorthee/creditgate/internal/entitlement"
)

const systemPrompt = "Você age como um estrategista de tráfego pago focado em reduzir desperdício."

const reducedSchema = `{
  "risco": "ALTO | MÉDIO | BAIXO",
  "porque": "Explique claramente por que esse produto corre esse risco ao anunciar.",
  "impacto": "Explique o impacto real disso em dinheiro, cliques errados ou falta de conversão.",
  "copy": "Uma linha de copy básica e direta sobre o produto.",
  "publico_alvo": null,
  "angulo_emocional": null,
  "briefing_imagem": null,
  "ctas": null,
  "copy_persuasiva": null
}`

const fullSchema = `{
  "risco": "ALTO | MÉDIO | BAIXO",
  "porque": "Explique claramente por que esse produto corre esse risco ao anunciar.",
  "impacto": "Explique o impacto real disso em dinheiro, cliques errados ou falta de conversão.",
  "copy": "Uma linha de copy básica e direta sobre o produto.",
  "publico_alvo": "Descreva o público-alvo ideal: idade, interesses, comportamento e onde segmentar.",
  "angulo_emocional": "O gatilho emocional principal que faz esse público comprar.",
  "briefing_imagem": "Briefing da imagem ou criativo do anúncio: cena, cores, enquadramento, texto na arte.",
  "ctas": ["Três chamadas para ação curtas e diferentes"],
  "copy_persuasiva": "Gere uma copy curta, persuasiva e direta sobre esse produto."
}`

// BuildPrompt returns the user prompt for a product at the given tier. Reduced tiers are told
// to leave every paid field null.
func BuildPrompt(product string, tier entitlement.Tier) string {
	schema := reducedSchema
	if tier.Full() {
		schema = fullSchema
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Produto: %s\n\n", strings.TrimSpace(product))
	b.WriteString("Você é um especialista em anúncios pagos para microempreendedores.\n\n")
	b.WriteString("Responda APENAS em JSON válido, no formato:\n\n")
	b.WriteString(schema)
	b.WriteString("\n\nRegras:\n- Seja específico\n- Nada genérico\n- Linguagem simples e direta\n")
	if !tier.Full() {
		b.WriteString("- Os campos publico_alvo, angulo_emocional, briefing_imagem, ctas e copy_persuasiva devem ser null\n")
	}
	return b.String()
}
