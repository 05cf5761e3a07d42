package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/verifin/recon-cli/internal/llm"
	"github.com/verifin/recon-cli/internal/store"
)

const (
	sqlTemperature     = 0.0
	sqlMaxTokens       = 512
	auditTemperature   = 0.3
	auditMaxTokens     = 250
	maxRowsToSummarize = 50
)

// Audit is the outcome of a natural-language audit request.
type Audit struct {
	Request string             `json:"request"`
	SQL     string             `json:"sql,omitempty"`
	Result  *store.QueryResult `json:"result,omitempty"`
	Error   string             `json:"error,omitempty"`
	Summary string             `json:"summary"`
}

// Auditor answers free-form questions about stored documents by having the
// model write a read-only SQL query, running it and summarizing the rows.
type Auditor struct {
	caller       *llm.Caller
	store        store.Store
	sqlModel     string
	summaryModel string
}

// NewAuditor creates an Auditor.
func NewAuditor(caller *llm.Caller, st store.Store, sqlModel, summaryModel string) *Auditor {
	return &Auditor{caller: caller, store: st, sqlModel: sqlModel, summaryModel: summaryModel}
}

// Run never fails: every problem ends up as a sentence in Audit.Summary.
// Query errors and rejected statements are summarized for the user too.
func (a *Auditor) Run(ctx context.Context, request string) *Audit {
	audit := &Audit{Request: strings.TrimSpace(request)}
	if audit.Request == "" {
		audit.Error = "request is empty"
		audit.Summary = "Error while running discrepancy SQL: request is empty"
		return audit
	}

	prompt := sqlPrompt(a.store.Dialect(), audit.Request)
	prompt.Model = a.sqlModel
	raw, err := a.caller.Complete(ctx, "sql", prompt)
	if err != nil {
		audit.Error = err.Error()
		audit.Summary = fmt.Sprintf("Error while running discrepancy SQL: %v", err)
		return audit
	}
	audit.SQL = cleanSQL(raw)

	result, err := a.store.QueryReadOnly(ctx, audit.SQL)
	if err != nil {
		zap.L().Warn("reconcile: audit query failed", zap.String("sql", audit.SQL), zap.Error(err))
		audit.Error = err.Error()
	} else {
		audit.Result = result
	}

	summary, err := a.summarize(ctx, audit)
	if err != nil {
		audit.Summary = fmt.Sprintf("Error summarizing results: %v", err)
		return audit
	}
	audit.Summary = summary
	return audit
}

func (a *Auditor) summarize(ctx context.Context, audit *Audit) (string, error) {
	payload := map[string]any{"request": audit.Request, "sql": audit.SQL}
	if audit.Error != "" {
		payload["error"] = audit.Error
	}
	if audit.Result != nil {
		rows := audit.Result.Rows
		if len(rows) > maxRowsToSummarize {
			payload["total_rows"] = len(rows)
			rows = rows[:maxRowsToSummarize]
		}
		payload["columns"] = audit.Result.Columns
		payload["rows"] = rows
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}

	return a.caller.Complete(ctx, "audit-summary", llm.Prompt{
		Model:     a.summaryModel,
		MaxTokens: auditMaxTokens,
		System:    "You are a helpful finance assistant.",
		User: "You are a finance auditor. Summarize the following database discrepancy result " +
			"in clear, human-readable English for a business user. Be concise.\n\n" + string(data),
		Temperature: auditTemperature,
	})
}

func sqlPrompt(dialect store.Dialect, request string) llm.Prompt {
	var access, cast, name string
	switch dialect {
	case store.DialectPostgres:
		name = "PostgreSQL"
		access = "parsed_data is JSONB: read keys with parsed_data->>'<key>'."
		cast = "Cast numeric fields where needed: NULLIF(regexp_replace(parsed_data->>'total_amount', '[^0-9.-]', '', 'g'), '')::numeric."
	default:
		name = "SQLite"
		access = "parsed_data is JSON text: read keys with json_extract(parsed_data, '$.<key>')."
		cast = "Cast numeric fields where needed: CAST(REPLACE(json_extract(parsed_data, '$.total_amount'), ',', '') AS REAL)."
	}

	user := fmt.Sprintf(`You are a %[1]s SQL generator. %[2]s
There are two tables:

1) invoice_data:
   - id, filename, created_at
   - parsed_data (JSON with keys: invoice_number, vendor, purchase_order_reference, total_amount, invoice_date)

2) po_data:
   - id, filename, created_at
   - parsed_data (JSON with keys: purchase_order_id, vendor, total_value, order_date)

Write a SINGLE valid read-only %[1]s SELECT query (no explanation, no markdown fences) to satisfy this request:
"%[3]s"

Important:
- %[4]s
- Join invoice_data and po_data on the invoice's purchase_order_reference = the PO's purchase_order_id where appropriate.
- Never modify data.
Return only the SQL query text.`, name, access, request, cast)

	return llm.Prompt{
		System:      fmt.Sprintf("You are an expert %s query generator. Output only the SQL query.", name),
		User:        user,
		MaxTokens:   sqlMaxTokens,
		Temperature: sqlTemperature,
	}
}

func cleanSQL(raw string) string {
	return strings.Trim(llm.StripFences(raw), " \n\t`")
}
