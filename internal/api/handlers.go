package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verifin/recon-cli/internal/discrepancy"
	"github.com/verifin/recon-cli/internal/fetcher"
	"github.com/verifin/recon-cli/internal/ingest"
	"github.com/verifin/recon-cli/internal/model"
	"github.com/verifin/recon-cli/internal/reconcile"
	"github.com/verifin/recon-cli/internal/store"
)

// Ingestor turns an uploaded file into a stored document.
type Ingestor interface {
	Ingest(ctx context.Context, kind model.DocumentKind, filename, path string) (*ingest.Result, error)
}

// Reconciler checks invoices against purchase orders.
type Reconciler interface {
	DetectLatest(ctx context.Context) (*reconcile.Result, error)
	Compare(ctx context.Context, invoice, po discrepancy.Record) (*reconcile.Comparison, error)
}

// Auditor answers free-form audit requests.
type Auditor interface {
	Run(ctx context.Context, request string) *reconcile.Audit
}

// Config holds the handler dependencies. Ingestor and Auditor may be nil
// when no model is configured; their routes then answer 503.
type Config struct {
	Store      store.Store
	Ingestor   Ingestor
	Reconciler Reconciler
	Auditor    Auditor
	// Breakers reports circuit state on /health; may be nil.
	Breakers    func() map[string]string
	UploadDir   string
	MaxUploadMB int64
}

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	cfg Config
}

// NewHandlers creates Handlers.
func NewHandlers(cfg Config) *Handlers {
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 25
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	return &Handlers{cfg: cfg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, text)
}

// Health reports liveness and the state of each upstream circuit.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if h.cfg.Breakers != nil {
		resp["circuits"] = h.cfg.Breakers()
	}
	writeJSON(w, http.StatusOK, resp)
}

// UploadInvoice accepts a multipart "file" and ingests it as an invoice.
func (h *Handlers) UploadInvoice(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, model.KindInvoice)
}

// UploadPO accepts a multipart "file" and ingests it as a purchase order.
func (h *Handlers) UploadPO(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, model.KindPO)
}

func (h *Handlers) upload(w http.ResponseWriter, r *http.Request, kind model.DocumentKind) {
	label, title := "invoice", "Invoice"
	if kind == model.KindPO {
		label, title = "PO", "PO"
	}
	if h.cfg.Ingestor == nil {
		writeError(w, http.StatusServiceUnavailable, "document ingestion is not configured")
		return
	}

	limit := h.cfg.MaxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d MB", h.cfg.MaxUploadMB))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close() //nolint:errcheck

	path, err := h.saveUpload(kind, header.Filename, file)
	if err != nil {
		zap.L().Error("api: save upload", zap.String("kind", string(kind)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error while processing %s: %v", label, err))
		return
	}

	res, err := h.cfg.Ingestor.Ingest(r.Context(), kind, header.Filename, path)
	if err != nil {
		zap.L().Error("api: ingest", zap.String("kind", string(kind)), zap.String("file", header.Filename), zap.Error(err))
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Error while processing %s: %v", label, err))
		return
	}

	msg := title + " uploaded, parsed, and saved"
	if res.Duplicate {
		msg = title + " already uploaded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     msg,
		"id":          res.Document.ID,
		"duplicate":   res.Duplicate,
		"parsed_data": res.Document.Fields,
	})
}

// saveUpload writes the upload under UploadDir/<table>/ with a unique prefix
// so concurrent uploads of the same name never collide.
func (h *Handlers) saveUpload(kind model.DocumentKind, filename string, src io.Reader) (string, error) {
	dir := filepath.Join(h.cfg.UploadDir, kind.Table())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "api: create upload dir")
	}
	path := filepath.Join(dir, uuid.NewString()[:8]+"_"+fetcher.SafeName(filename))

	dst, err := os.Create(path)
	if err != nil {
		return "", eris.Wrap(err, "api: create upload file")
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return "", eris.Wrap(err, "api: write upload file")
	}
	if err := dst.Close(); err != nil {
		return "", eris.Wrap(err, "api: close upload file")
	}
	return path, nil
}

// DetectDiscrepancy checks the latest invoice against the latest PO and
// answers with the plain-text summary.
func (h *Handlers) DetectDiscrepancy(w http.ResponseWriter, r *http.Request) {
	res, err := h.cfg.Reconciler.DetectLatest(r.Context())
	if errors.Is(err, reconcile.ErrNoDocuments) {
		writeText(w, http.StatusOK, reconcile.ErrNoDocuments.Error())
		return
	}
	if err != nil {
		zap.L().Error("api: detect discrepancy", zap.Error(err))
		writeText(w, http.StatusInternalServerError, "Error while detecting discrepancies: "+err.Error())
		return
	}
	writeText(w, http.StatusOK, res.Discrepancy.Summary)
}

// RunDiscrepancySQL answers the "request" query parameter with a summary.
func (h *Handlers) RunDiscrepancySQL(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "audit queries are not configured")
		return
	}
	request := r.URL.Query().Get("request")
	if request == "" {
		writeError(w, http.StatusBadRequest, "request query parameter is required")
		return
	}
	audit := h.cfg.Auditor.Run(r.Context(), request)
	writeJSON(w, http.StatusOK, map[string]string{"summary": audit.Summary})
}

type reconcileRequest struct {
	Invoice map[string]any `json:"invoice"`
	PO      map[string]any `json:"po"`
}

// Reconcile compares an invoice and a PO posted as JSON without storing them.
func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.UseNumber()

	var req reconcileRequest
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Invoice == nil || req.PO == nil {
		writeError(w, http.StatusBadRequest, "invoice and po are required")
		return
	}

	cmp, err := h.cfg.Reconciler.Compare(r.Context(), req.Invoice, req.PO)
	if err != nil {
		zap.L().Error("api: reconcile", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

// ListDiscrepancies returns stored results, newest first. Query parameters:
// invoice_id, po_id, dirty=true, limit, offset.
func (h *Handlers) ListDiscrepancies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.DiscrepancyFilter{
		InvoiceID: q.Get("invoice_id"),
		POID:      q.Get("po_id"),
		DirtyOnly: q.Get("dirty") == "true",
		Limit:     parseIntDefault(q.Get("limit"), 50),
		Offset:    parseIntDefault(q.Get("offset"), 0),
	}

	items, err := h.cfg.Store.ListDiscrepancies(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list discrepancies", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list discrepancies")
		return
	}
	if items == nil {
		items = []model.Discrepancy{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": items, "count": len(items)})
}

// GetDiscrepancy returns one stored result.
func (h *Handlers) GetDiscrepancy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := h.cfg.Store.GetDiscrepancy(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "discrepancy not found")
		return
	}
	if err != nil {
		zap.L().Error("api: get discrepancy", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load discrepancy")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return def
	}
	return v
}
