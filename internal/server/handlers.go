package server

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/docflow-cli/internal/consolidate"
	"github.com/sells-group/docflow-cli/internal/model"
	"github.com/sells-group/docflow-cli/internal/orchestrator"
	"github.com/sells-group/docflow-cli/internal/review"
	"github.com/sells-group/docflow-cli/internal/store"
)

// Documents

type validationErrorRequest struct {
	Field          string         `json:"field"`
	Type           string         `json:"type"`
	Message        string         `json:"message"`
	Severity       model.Severity `json:"severity"`
	RawValue       string         `json:"raw_value,omitempty"`
	ExpectedFormat string         `json:"expected_format,omitempty"`
}

type createDocumentRequest struct {
	Filename         string                   `json:"filename"`
	MediaType        string                   `json:"media_type"`
	ByteSize         int64                    `json:"byte_size,omitempty"`
	PageCount        int                      `json:"page_count,omitempty"`
	Fields           json.RawMessage          `json:"fields"`
	Confidence       *float64                 `json:"confidence,omitempty"`
	Method           string                   `json:"method,omitempty"`
	Status           model.DocumentStatus     `json:"status,omitempty"`
	ValidationErrors []validationErrorRequest `json:"validation_errors,omitempty"`
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Filename == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}
	status := req.Status
	if status == "" {
		status = model.StatusPending
	}
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status "+string(req.Status))
		return
	}

	fields := model.NewFields()
	if len(req.Fields) > 0 {
		if err := fields.UnmarshalJSON(req.Fields); err != nil {
			writeError(w, http.StatusBadRequest, "fields must be a JSON object")
			return
		}
	}

	doc, err := s.store.CreateDocument(r.Context(), &model.Document{
		Filename:       req.Filename,
		ByteSize:       req.ByteSize,
		MediaType:      req.MediaType,
		PageCount:      req.PageCount,
		Fields:         fields,
		Confidence:     req.Confidence,
		Method:         req.Method,
		Status:         status,
		OpenErrorCount: len(req.ValidationErrors),
	})
	if err != nil {
		respondError(w, err)
		return
	}

	if len(req.ValidationErrors) > 0 {
		errs := make([]model.ValidationError, len(req.ValidationErrors))
		for i, ve := range req.ValidationErrors {
			errs[i] = model.ValidationError{
				DocumentID:     doc.ID,
				Field:          ve.Field,
				Type:           ve.Type,
				Message:        ve.Message,
				Severity:       ve.Severity,
				RawValue:       ve.RawValue,
				ExpectedFormat: ve.ExpectedFormat,
			}
		}
		if err := s.store.CreateValidationErrors(r.Context(), errs); err != nil {
			respondError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.DocumentFilter{
		Status:      model.DocumentStatus(q.Get("status")),
		NeedsReview: q.Get("needs_review") == "true",
		Search:      q.Get("search"),
		Limit:       intQuery(q.Get("limit")),
		Offset:      intQuery(q.Get("offset")),
	}

	docs, counts, err := s.store.ListDocuments(r.Context(), filter)
	if err != nil {
		respondError(w, err)
		return
	}

	resp := map[string]any{"documents": docs}
	if q.Get("stats") == "true" {
		resp["stats"] = counts
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	errs, err := s.store.ListValidationErrors(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document":          doc,
		"validation_errors": errs,
	})
}

// Review actions

type approveRequest struct {
	Notes             string                `json:"notes,omitempty"`
	ConfirmOpenErrors bool                  `json:"confirm_open_errors,omitempty"`
	OverrideCritical  bool                  `json:"override_critical,omitempty"`
	CrossValidation   model.CrossValidation `json:"cross_validation,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	row, err := s.review.Approve(r.Context(), chi.URLParam(r, "id"), review.ApproveRequest{
		Notes:             req.Notes,
		ConfirmOpenErrors: req.ConfirmOpenErrors,
		OverrideCritical:  req.OverrideCritical,
		CrossValidation:   req.CrossValidation,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"master_row": row})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.review.Reject(r.Context(), chi.URLParam(r, "id"), req.Reason); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(model.StatusRejected)})
}

func (s *Server) handleAnnul(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	registryID, err := s.review.Annul(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"registry_id": registryID})
}

// Validation errors

func (s *Server) handleFixError(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CorrectedValue json.RawMessage `json:"corrected_value"`
		Notes          string          `json:"notes,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.CorrectedValue) == 0 {
		writeError(w, http.StatusBadRequest, "corrected_value is required")
		return
	}
	var corrected model.Value
	if err := corrected.UnmarshalJSON(req.CorrectedValue); err != nil {
		writeError(w, http.StatusBadRequest, "corrected_value is not valid JSON")
		return
	}
	if err := s.review.Fix(r.Context(), chi.URLParam(r, "id"), corrected, req.Notes); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"resolution": string(model.ResolutionFixed)})
}

func (s *Server) handleIgnoreError(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes           string `json:"notes,omitempty"`
		ConfirmCritical bool   `json:"confirm_critical,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if err := s.review.Ignore(r.Context(), chi.URLParam(r, "id"), req.Notes, req.ConfirmCritical); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"resolution": string(model.ResolutionIgnored)})
}

// Master dataset

func (s *Server) handleListMaster(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListMasterRows(r.Context(), intQuery(r.URL.Query().Get("limit")))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids are required")
		return
	}
	result, err := s.master.Recall(r.Context(), req.IDs)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeleteMaster(w http.ResponseWriter, r *http.Request) {
	if err := s.review.VerifyConfirmCode(r.Header.Get(ConfirmCodeHeader)); err != nil {
		respondError(w, err)
		return
	}
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	deleted, missing, err := s.master.Delete(r.Context(), req.IDs)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "missing": missing})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	transposed := r.URL.Query().Get("transposed") == "true"
	name := "master.xlsx"
	if transposed {
		name = "master-transposed.xlsx"
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if err := s.master.Export(r.Context(), w, consolidate.ExportOptions{Transposed: transposed}); err != nil {
		respondError(w, err)
	}
}

// Unprocessable registry

func (s *Server) handleListUnprocessable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := s.registry.List(r.Context(), store.UnprocessableFilter{
		Category: model.RejectionCategory(q.Get("category")),
		Search:   q.Get("search"),
		Limit:    intQuery(q.Get("limit")),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleDeleteUnprocessable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.registry.Delete(r.Context(), req.IDs)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	doc, err := s.registry.Promote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// Batch processing

const maxUploadBytes = 512 * 1024 * 1024

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files submitted")
		return
	}

	subs := make([]orchestrator.Submission, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable file "+fh.Filename)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable file "+fh.Filename)
			return
		}
		subs = append(subs, orchestrator.Submission{
			Filename:  fh.Filename,
			MediaType: uploadMediaType(fh.Filename, fh.Header.Get("Content-Type")),
			Bytes:     data,
		})
	}

	report, err := s.orch.Run(r.Context(), subs, orchestrator.Options{})
	if err != nil {
		respondError(w, err)
		return
	}

	// A lone unprocessable submission surfaces its registry id directly.
	if len(report.Outcomes) == 1 {
		out := report.Outcomes[0]
		if out.RegistryID != "" && out.DocumentID == "" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error":       out.Error,
				"registry_id": out.RegistryID,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, report)
}

func uploadMediaType(filename, declared string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); t != "" {
		return t
	}
	return "application/pdf"
}

func intQuery(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
