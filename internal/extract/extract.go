// Package extract turns OCR text into the field map stored as a document's
// parsed data.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/verifin/recon-cli/internal/llm"
	"github.com/verifin/recon-cli/internal/model"
)

// FieldExtractor extracts structured fields from document text.
type FieldExtractor interface {
	Extract(ctx context.Context, kind model.DocumentKind, text string) (map[string]any, error)
}

const (
	extractTemperature = 0.1
	maxDocumentChars   = 60000
)

const systemPrompt = "You are a financial document parser for invoices and purchase orders. Output only JSON."

var expectedKeys = map[model.DocumentKind][]string{
	model.KindInvoice: {"invoice_number", "vendor", "purchase_order_reference", "total_amount", "invoice_date"},
	model.KindPO:      {"purchase_order_id", "vendor", "total_value", "order_date"},
}

// ExpectedKeys lists the field names requested for kind.
func ExpectedKeys(kind model.DocumentKind) []string {
	return expectedKeys[kind]
}

// LLMExtractor asks the model for a JSON object of the expected keys.
type LLMExtractor struct {
	caller    *llm.Caller
	model     string
	maxTokens int64
}

// NewLLMExtractor creates an LLMExtractor.
func NewLLMExtractor(caller *llm.Caller, model string, maxTokens int64) *LLMExtractor {
	return &LLMExtractor{caller: caller, model: model, maxTokens: maxTokens}
}

// Extract implements FieldExtractor. Model output that is not a JSON object
// is kept verbatim under model.RawParsedKey rather than failing the upload;
// only transport errors are returned.
func (e *LLMExtractor) Extract(ctx context.Context, kind model.DocumentKind, text string) (map[string]any, error) {
	out, err := e.caller.Complete(ctx, "extract", llm.Prompt{
		Model:       e.model,
		MaxTokens:   e.maxTokens,
		System:      systemPrompt,
		User:        buildPrompt(kind, text),
		Temperature: extractTemperature,
	})
	if err != nil {
		return nil, err
	}

	fields := ParseFields(out)
	if _, raw := fields[model.RawParsedKey]; raw {
		zap.L().Warn("extract: model output is not a JSON object",
			zap.String("kind", string(kind)),
			zap.Int("chars", len(out)),
		)
	}
	return fields, nil
}

func buildPrompt(kind model.DocumentKind, text string) string {
	if len(text) > maxDocumentChars {
		text = text[:maxDocumentChars]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Extract the fields of this %s and return valid JSON only (no explanation). ", kind.Label())
	sb.WriteString("If a field is missing, omit it or set it to null.\n\n")
	sb.WriteString("Field equivalences to understand:\n")
	sb.WriteString("- invoice_number, purchase_order_id and purchase_order_reference are document identifiers that may cross-reference each other.\n")
	sb.WriteString("- invoice_date and order_date may differ slightly; that does not imply a mismatch.\n")
	sb.WriteString("- Always extract the vendor, the total and the identifiers clearly. Give totals as plain numbers.\n\n")
	fmt.Fprintf(&sb, "Expected keys: %s\n\n", strings.Join(ExpectedKeys(kind), ", "))
	sb.WriteString("Document:\n")
	sb.WriteString(text)
	return sb.String()
}

// ParseFields decodes model output into a field map. Anything that does not
// decode to a JSON object is returned as {"raw_parsed": <text>}.
func ParseFields(out string) map[string]any {
	cleaned := llm.CleanJSON(out)

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err == nil && fields != nil {
		return fields
	}
	return map[string]any{model.RawParsedKey: strings.TrimSpace(out)}
}
