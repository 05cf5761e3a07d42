// Package summarize writes the plain-English summary stored with each
// discrepancy check.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/verifin/recon-cli/internal/discrepancy"
	"github.com/verifin/recon-cli/internal/llm"
)

// PerfectMatch is the summary of a clean report.
const PerfectMatch = "Invoice and Purchase Order match perfectly. No discrepancies found."

const fallbackHeader = "Invoice and PO do not match. Fields with discrepancies:"

// Input is what a summary is written from.
type Input struct {
	InvoiceName string
	POName      string
	Report      discrepancy.Report
}

// Summarizer produces a summary for a comparison.
type Summarizer interface {
	Summarize(ctx context.Context, in Input) (string, error)
}

// Template renders the deterministic summary: PerfectMatch for a clean
// report, otherwise one line per differing field.
func Template(r discrepancy.Report) string {
	if r.Clean() {
		return PerfectMatch
	}
	lines := []string{fallbackHeader}
	for _, e := range r.Discrepancies() {
		lines = append(lines, e.Line())
	}
	return strings.Join(lines, "\n")
}

// TemplateSummarizer never calls a model.
type TemplateSummarizer struct{}

// Summarize implements Summarizer.
func (TemplateSummarizer) Summarize(_ context.Context, in Input) (string, error) {
	return Template(in.Report), nil
}

const (
	summaryTemperature = 0.3
	summaryMaxTokens   = 300
	summarySystem      = "You are a helpful finance assistant."
)

// LLMSummarizer asks the model to describe the discrepancies. Clean reports
// and model failures fall back to Template, so Summarize never fails.
type LLMSummarizer struct {
	caller *llm.Caller
	model  string
}

// NewLLMSummarizer creates an LLMSummarizer.
func NewLLMSummarizer(caller *llm.Caller, model string) *LLMSummarizer {
	return &LLMSummarizer{caller: caller, model: model}
}

// Summarize implements Summarizer.
func (s *LLMSummarizer) Summarize(ctx context.Context, in Input) (string, error) {
	if in.Report.Clean() {
		return PerfectMatch, nil
	}

	prompt, err := buildPrompt(in)
	if err != nil {
		return Template(in.Report), nil
	}

	text, err := s.caller.Complete(ctx, "summarize", llm.Prompt{
		Model:       s.model,
		MaxTokens:   summaryMaxTokens,
		System:      summarySystem,
		User:        prompt,
		Temperature: summaryTemperature,
	})
	if err != nil || text == "" {
		zap.L().Warn("summarize: using template summary", zap.Error(err))
		return Template(in.Report), nil
	}
	return text, nil
}

func buildPrompt(in Input) (string, error) {
	details, err := json.MarshalIndent(in.Report.Discrepancies(), "", "  ")
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Summarize these discrepancies between an invoice and a purchase order in clear, natural English. ")
	sb.WriteString("Mention which fields differ and their values. Keep it concise and professional.\n\n")
	if in.InvoiceName != "" {
		fmt.Fprintf(&sb, "Invoice file: %s\n", in.InvoiceName)
	}
	if in.POName != "" {
		fmt.Fprintf(&sb, "PO file: %s\n", in.POName)
	}
	fmt.Fprintf(&sb, "\nDiscrepancies:\n%s", details)
	return sb.String(), nil
}
