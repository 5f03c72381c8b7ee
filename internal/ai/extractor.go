package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/openai/openai-go/shared/constant"
	"golang.org/x/time/rate"

	"erp-core/internal/core"
)

// Extractor pulls structured invoice data out of an uploaded document.
type Extractor interface {
	ExtractInvoice(ctx context.Context, content []byte, filename string) (*core.ExtractedInvoice, error)
}

// Agent is the OpenAI-backed extractor. Calls are throttled by a shared rate
// limiter so a burst of uploads cannot exhaust the account quota.
type Agent struct {
	client  *openai.Client
	limiter *rate.Limiter
}

func NewAgent(apiKey string) *Agent {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Agent{
		client:  &client,
		limiter: rate.NewLimiter(rate.Limit(2), 4),
	}
}

const extractPrompt = `You are an expert accounts-payable clerk in a Lebanese retail business.
Extract the supplier invoice below into structured data.
Rules:
1. Amounts must be exact decimal strings (e.g. "100.00"), never numbers.
2. Use "USD" or "LBP" for the currency; Lebanese pound amounts go in unit_cost_lbp.
3. If a value is absent, use an empty string.
4. One output line per billed item; skip subtotal and total rows.

Document (%s):
%s`

func (a *Agent) ExtractInvoice(ctx context.Context, content []byte, filename string) (*core.ExtractedInvoice, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	doc := string(content)
	if !utf8.ValidString(doc) {
		doc = base64.StdEncoding.EncodeToString(content)
	}
	prompt := fmt.Sprintf(extractPrompt, filename, doc)

	schemaJSON, err := json.Marshal(generateSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal extraction schema: %w", err)
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(schemaJSON, &schemaMap); err != nil {
		return nil, fmt.Errorf("unmarshal extraction schema: %w", err)
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(shared.ChatModelGPT4o),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(prompt),
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Type:        constant.JSONSchema("json_schema"),
					Name:        "supplier_invoice_extraction",
					Strict:      param.NewOpt(true),
					Schema:      schemaMap,
					Description: param.NewOpt("Structured supplier invoice contents"),
				},
			},
		},
	}

	resp, err := a.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai responses error: %w", err)
	}
	out := resp.OutputText()
	if out == "" {
		return nil, fmt.Errorf("empty extraction response")
	}

	var extracted core.ExtractedInvoice
	if err := json.Unmarshal([]byte(out), &extracted); err != nil {
		return nil, fmt.Errorf("parse extraction: %w", err)
	}
	extracted.Currency = strings.ToUpper(strings.TrimSpace(extracted.Currency))
	return &extracted, nil
}

func generateSchema() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v core.ExtractedInvoice
	return reflector.Reflect(v)
}
