package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Risk levels accepted from the provider.
const (
	RiskHigh   = "ALTO"
	RiskMedium = "MÉDIO"
	RiskLow    = "BAIXO"
)

// DiagnosisResult is the diagnosis returned to the client.
// Paid fields are nil for reduced tiers and serialize as null.
type DiagnosisResult struct {
	Risco        string `json:"risco"`
	Causa        string `json:"causa"`
	Consequencia string `json:"consequencia"`
	CopyBase     string `json:"copy_base"`

	PublicoAlvo     *string  `json:"publico_alvo"`
	AnguloEmocional *string  `json:"angulo_emocional"`
	BriefingImagem  *string  `json:"briefing_imagem"`
	CTAs            []string `json:"ctas"`
	CopyPersuasiva  *string  `json:"copy_persuasiva"`
}

// HasPaidFields reports whether any paid field is populated.
func (r *DiagnosisResult) HasPaidFields() bool {
	return r.PublicoAlvo != nil || r.AnguloEmocional != nil || r.BriefingImagem != nil ||
		r.CTAs != nil || r.CopyPersuasiva != nil
}

// Reduced returns a copy without the paid fields.
func (r *DiagnosisResult) Reduced() *DiagnosisResult {
	return &DiagnosisResult{
		Risco:        r.Risco,
		Causa:        r.Causa,
		Consequencia: r.Consequencia,
		CopyBase:     r.CopyBase,
	}
}

// providerPayload is the JSON object the model is instructed to emit.
type providerPayload struct {
	Risco           string   `json:"risco"`
	Porque          string   `json:"porque"`
	Impacto         string   `json:"impacto"`
	Copy            string   `json:"copy"`
	PublicoAlvo     string   `json:"publico_alvo"`
	AnguloEmocional string   `json:"angulo_emocional"`
	BriefingImagem  string   `json:"briefing_imagem"`
	CTAs            []string `json:"ctas"`
	CopyPersuasiva  string   `json:"copy_persuasiva"`
}

// ParseDiagnosis validates raw provider output against the schema for the requested tier.
// Reduced results never carry paid fields, even when the provider sent them.
func ParseDiagnosis(raw []byte, full bool) (*DiagnosisResult, error) {
	raw = stripCodeFence(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty diagnosis payload")
	}

	var p providerPayload
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("diagnosis payload is not valid JSON: %w", err)
	}

	risk, ok := normalizeRisk(p.Risco)
	if !ok {
		return nil, fmt.Errorf("invalid risk level %q", p.Risco)
	}

	res := &DiagnosisResult{
		Risco:        risk,
		Causa:        strings.TrimSpace(p.Porque),
		Consequencia: strings.TrimSpace(p.Impacto),
		CopyBase:     strings.TrimSpace(p.Copy),
	}
	if err := required(map[string]string{
		"porque":  res.Causa,
		"impacto": res.Consequencia,
		"copy":    res.CopyBase,
	}); err != nil {
		return nil, err
	}
	if !full {
		return res, nil
	}

	publico := strings.TrimSpace(p.PublicoAlvo)
	angulo := strings.TrimSpace(p.AnguloEmocional)
	briefing := strings.TrimSpace(p.BriefingImagem)
	persuasiva := strings.TrimSpace(p.CopyPersuasiva)
	if err := required(map[string]string{
		"publico_alvo":     publico,
		"angulo_emocional": angulo,
		"briefing_imagem":  briefing,
		"copy_persuasiva":  persuasiva,
	}); err != nil {
		return nil, err
	}

	ctas := make([]string, 0, len(p.CTAs))
	for _, c := range p.CTAs {
		if c = strings.TrimSpace(c); c != "" {
			ctas = append(ctas, c)
		}
	}
	if len(ctas) == 0 {
		return nil, fmt.Errorf("missing field ctas")
	}

	res.PublicoAlvo = &publico
	res.AnguloEmocional = &angulo
	res.BriefingImagem = &briefing
	res.CTAs = ctas
	res.CopyPersuasiva = &persuasiva
	return res, nil
}

func required(fields map[string]string) error {
	for name, v := range fields {
		if v == "" {
			return fmt.Errorf("missing field %s", name)
		}
	}
	return nil
}

func normalizeRisk(s string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ALTO":
		return RiskHigh, true
	case "MÉDIO", "MEDIO":
		return RiskMedium, true
	case "BAIXO":
		return RiskLow, true
	}
	return "", false
}

// stripCodeFence removes a surrounding ```json fence that chat models sometimes add.
func stripCodeFence(raw []byte) []byte {
	s := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(s, []byte("```")) {
		return s
	}
	s = bytes.TrimPrefix(s, []byte("```"))
	if i := bytes.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = bytes.TrimSuffix(bytes.TrimSpace(s), []byte("```"))
	return bytes.TrimSpace(s)
}
