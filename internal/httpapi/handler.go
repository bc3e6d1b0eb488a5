// Package httpapi is the HTTP front-end collaborator of spec §6: it
// decodes multipart extraction requests, drives the Pipeline Extractor,
// and maps its errors to status codes. Grounded on the teacher's
// internal/proxy.ProxyHandler (request-ID tagging, the
// writeJSONError envelope, the health/ready/stats route trio), adapted
// from a chat-completions proxy to a single multipart extraction
// endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/allaspectsdev/pdfxtract/internal/apierr"
	"github.com/allaspectsdev/pdfxtract/internal/cache"
	"github.com/allaspectsdev/pdfxtract/internal/pipeline"
	"github.com/allaspectsdev/pdfxtract/internal/schema"
	"github.com/allaspectsdev/pdfxtract/internal/template"
	"github.com/allaspectsdev/pdfxtract/internal/version"
)

// maxMultipartMemory bounds how much of a multipart request body is
// buffered in memory before spilling to temp files, matching a
// conservative default for PDF-sized uploads.
const maxMultipartMemory = 32 << 20 // 32 MB

// Handler is the HTTP handler backing the /extract, /health, /stats and
// / routes.
type Handler struct {
	extractor   *pipeline.Extractor
	cacheMgr    *cache.Manager
	templates   *template.Orchestrator
	logger      zerolog.Logger
	maxBodySize int64
	readyCheck  func(ctx context.Context) error
}

// NewHandler builds a Handler. maxBodySize of 0 means unlimited.
// readyCheck should ping every durable collaborator (the Tier-2/3 store,
// the Template Store); a nil readyCheck makes /health/ready always
// report ready.
func NewHandler(extractor *pipeline.Extractor, cacheMgr *cache.Manager, templates *template.Orchestrator, logger zerolog.Logger, maxBodySize int64, readyCheck func(ctx context.Context) error) *Handler {
	return &Handler{
		extractor:   extractor,
		cacheMgr:    cacheMgr,
		templates:   templates,
		logger:      logger,
		maxBodySize: maxBodySize,
		readyCheck:  readyCheck,
	}
}

// HandleExtract implements POST /extract: multipart `file` (PDF), form
// `label`, form `extraction_schema` (a JSON object of string to string).
func (h *Handler) HandleExtract(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.New().String()
	logger := h.logger.With().Str("request_id", requestID).Logger()

	if h.maxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	}
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		logger.Warn().Err(err).Msg("httpapi: malformed multipart body")
		writeJSONError(w, http.StatusUnprocessableEntity, "malformed multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "missing required form part: file")
		return
	}
	defer file.Close()

	label := r.FormValue("label")
	if label == "" {
		writeJSONError(w, http.StatusUnprocessableEntity, "missing required form part: label")
		return
	}

	schemaRaw := r.FormValue("extraction_schema")
	if schemaRaw == "" {
		writeJSONError(w, http.StatusUnprocessableEntity, "missing required form part: extraction_schema")
		return
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(schemaRaw), &fields); err != nil {
		writeJSONError(w, http.StatusBadRequest, "extraction_schema must be a JSON object of string to string")
		return
	}
	s, err := schema.FromMap(fields)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	pdfBytes, err := io.ReadAll(file)
	if err != nil {
		logger.Error().Err(err).Msg("httpapi: reading uploaded file")
		writeJSONError(w, http.StatusInternalServerError, "failed to read uploaded file")
		return
	}

	result, err := h.extractor.Extract(r.Context(), &pipeline.Request{
		PDFBytes: pdfBytes,
		FileName: header.Filename,
		Label:    label,
		Schema:   s,
	})
	if err != nil {
		logger.Error().Err(err).Str("label", label).Msg("httpapi: extraction failed")
		writeJSONError(w, statusForKind(apierr.KindOf(err)), err.Error())
		return
	}

	data := make(map[string]interface{}, len(result.Data))
	for name, value := range result.Data {
		if str, ok := value.String(); ok {
			data[name] = str
		} else {
			data[name] = nil
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
		"metadata": map[string]interface{}{
			"request_time":  time.Since(start).Seconds(),
			"file_name":     header.Filename,
			"file_size":     len(pdfBytes),
			"label":         label,
			"schema_fields": s.Names(),
			"_pipeline": map[string]interface{}{
				"method": result.Method,
				"steps":  result.Steps,
			},
		},
	})
}

// HandleHealth implements GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": version.Version,
	})
}

// HandleReady implements GET /health/ready: pings every durable
// collaborator, reporting 503 if any is unreachable.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.readyCheck != nil {
		if err := h.readyCheck(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ready"})
}

// HandleStats implements GET /stats: the pipeline method counters, the
// Cache Manager's tier hit/miss counters, and the Template Store's
// template/rule counts.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"pipeline": h.extractor.Stats(),
		"cache":    h.cacheMgr.Stats(),
	}
	if h.templates != nil {
		if stats, err := h.templates.Stats(); err == nil {
			resp["templates"] = stats
		} else {
			h.logger.Warn().Err(err).Msg("httpapi: template stats unavailable")
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleBanner implements GET /: an identity banner for the service.
func (h *Handler) HandleBanner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "pdfxtract",
		"version": version.Version,
	})
}

func statusForKind(kind apierr.Kind) int {
	switch kind {
	case apierr.KindBadRequest:
		return http.StatusBadRequest
	case apierr.KindUpstreamFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "pdfxtract_error",
		},
	})
}
