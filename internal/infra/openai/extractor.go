// Package openai implements the rule-extraction port on the OpenAI chat
// completions API.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fiscalhub/apuracao-engine-go/internal/domain"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/observability"

	goopenai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("openai")

// Extractor calls the completion API with a fiscal-rule extraction prompt and
// parses the returned JSON array into candidate rules.
type Extractor struct {
	client  *goopenai.Client
	model   string
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewExtractor creates an extractor for the given API key and model.
func NewExtractor(apiKey, model string, metrics *observability.Metrics, logger *zap.Logger) *Extractor {
	if model == "" {
		model = goopenai.GPT4oMini
	}
	return &Extractor{
		client:  goopenai.NewClient(apiKey),
		model:   model,
		metrics: metrics,
		logger:  logger,
	}
}

// ExtractRules sends the rule-source text to the model and returns the
// candidate rules it describes. Callers treat any error as an extraction
// failure and degrade to the existing rule set.
func (e *Extractor) ExtractRules(ctx context.Context, sourceText string) ([]domain.CandidateRule, error) {
	ctx, span := tracer.Start(ctx, "Extractor.ExtractRules")
	defer span.End()

	resp, err := e.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: buildPrompt(sourceText)},
		},
	})
	if err != nil {
		return nil, &domain.ErrExtraction{Stage: "call", Err: err}
	}

	e.metrics.RecordTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return nil, &domain.ErrExtraction{Stage: "parse", Err: fmt.Errorf("empty completion")}
	}

	candidates, err := parseCandidates(resp.Choices[0].Message.Content)
	if err != nil {
		e.logger.Warn("extraction: unparsable completion",
			zap.String("model", e.model),
			zap.Error(err),
		)
		return nil, &domain.ErrExtraction{Stage: "parse", Err: err}
	}

	return candidates, nil
}

const systemPrompt = `Você é um especialista em legislação fiscal brasileira (ICMS, benefícios fiscais, substituição tributária). Você converte textos normativos e planilhas de benefícios em regras declarativas de apuração.`

func buildPrompt(sourceText string) string {
	return fmt.Sprintf(`Analise o texto abaixo e extraia cada regra fiscal como um objeto JSON.

Devolva SOMENTE um array JSON válido (sem markdown, sem comentários):
[
  {
    "name": "nome curto da regra",
    "description": "resumo de uma linha",
    "kind": "base_reduction|presumed_credit|surcharge_benefit|interstate_differential|fixed_asset_credit|substitution_tax|exemption",
    "priority": inteiro (maior = avaliada antes),
    "confidence": numero 0-100 (sua certeza de que a regra foi extraída corretamente),
    "conditions": [
      {"field": "ncm|cfop|cst|origin_uf|destination_uf|client_type|operation_value|tax_base|quantity",
       "operator": "equals|not_equals|contains|starts_with|greater_than|less_than|between",
       "value": escalar, ou lista de DOIS numeros para between,
       "logic": "and|or" (opcional, padrão and)}
    ],
    "calculations": [
      {"kind": "tax_base|rate|credit|substitution|differential",
       "formula": "halveBase|fullBase|reduceBasePercent|zeroBase|setRate|applyRate|presumedCreditPercent|fixedAssetCredit|substitutionBaseMVA|substitutionDue|differentialRate",
       "params": {"percent": 33.33, "rate": 18, "mva": 40, "internal_rate": 18, "interstate_rate": 12},
       "target": "tax_base|rate|tax_amount|credit_amount|substitution_base|substitution_rate|substitution_amount|differential_amount"}
    ]
  }
]

REGRAS:
1. Percentuais sempre em 0-100, nunca frações.
2. NUNCA invente regras que não estejam no texto.
3. Se um dado não estiver claro, reduza o confidence em vez de chutar.
4. calculations nunca pode ser vazio.

Texto:
%s`, sourceText)
}

// parseCandidates strips markdown fences and decodes the JSON array, being
// lenient about numeric fields arriving as strings.
func parseCandidates(content string) ([]domain.CandidateRule, error) {
	cleaned := strings.TrimSpace(content)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var raw []struct {
		Name         string             `json:"name"`
		Description  string             `json:"description"`
		Kind         string             `json:"kind"`
		Priority     json.Number        `json:"priority"`
		Confidence   json.Number        `json:"confidence"`
		Conditions   []domain.Condition `json:"conditions"`
		Calculations []rawCalculation   `json:"calculations"`
	}

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("JSON parse error: %w", err)
	}

	candidates := make([]domain.CandidateRule, 0, len(raw))
	for _, r := range raw {
		c := domain.CandidateRule{
			Name:        r.Name,
			Description: r.Description,
			Kind:        domain.RuleKind(r.Kind),
			Conditions:  r.Conditions,
			Priority:    int(numberToFloat(r.Priority)),
			Confidence:  numberToFloat(r.Confidence),
		}
		for _, calc := range r.Calculations {
			c.Calculations = append(c.Calculations, calc.toStep())
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// rawCalculation tolerates params arriving as strings ("18" instead of 18).
type rawCalculation struct {
	Kind    string         `json:"kind"`
	Formula string         `json:"formula"`
	Params  map[string]any `json:"params"`
	Target  string         `json:"target"`
}

func (rc rawCalculation) toStep() domain.CalculationStep {
	step := domain.CalculationStep{
		Kind:    domain.CalculationKind(rc.Kind),
		Formula: rc.Formula,
		Target:  domain.ResultField(rc.Target),
	}
	if len(rc.Params) > 0 {
		step.Params = make(map[string]float64, len(rc.Params))
		for k, v := range rc.Params {
			step.Params[k] = anyToFloat(v)
		}
	}
	return step
}

func numberToFloat(n json.Number) float64 {
	f, _ := n.Float64()
	return f
}

func anyToFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		var f float64
		fmt.Sscanf(strings.ReplaceAll(n, ",", ""), "%f", &f)
		return f
	}
	return 0
}
