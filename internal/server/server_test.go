package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/docflow-cli/internal/consolidate"
	"github.com/sells-group/docflow-cli/internal/extract"
	"github.com/sells-group/docflow-cli/internal/model"
	"github.com/sells-group/docflow-cli/internal/orchestrator"
	"github.com/sells-group/docflow-cli/internal/registry"
	"github.com/sells-group/docflow-cli/internal/review"
	"github.com/sells-group/docflow-cli/internal/store"
)

// scriptedExtractor returns canned verdicts keyed by filename.
type scriptedExtractor struct {
	verdicts map[string]*extract.Verdict
	errs     map[string]error
}

func (s *scriptedExtractor) Extract(_ context.Context, in extract.Input) (*extract.Verdict, error) {
	if err, ok := s.errs[in.Filename]; ok {
		return nil, err
	}
	if v, ok := s.verdicts[in.Filename]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("no script for %s", in.Filename)
}

type testEnv struct {
	router http.Handler
	store  store.Store
}

func newTestEnv(t *testing.T, ex extract.Extractor) *testEnv {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	master := consolidate.New(s)
	rev := review.New(s, master, "4242")
	reg := registry.New(s)
	blobs, err := orchestrator.NewLocalBlobStore(t.TempDir())
	require.NoError(t, err)
	orch := orchestrator.New(s, ex, blobs)

	srv := New(s, rev, master, reg, orch)
	return &testEnv{router: srv.Router(), store: s}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &scriptedExtractor{})
	rec := env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestCreateDocument(t *testing.T) {
	env := newTestEnv(t, &scriptedExtractor{})

	rec := env.do(t, http.MethodPost, "/api/documents", map[string]any{
		"filename":   "caso.pdf",
		"media_type": "application/pdf",
		"fields":     map[string]any{"expediente": "EXP-1", "monto": 1500.5},
		"status":     "needs_review",
		"validation_errors": []map[string]any{
			{"field": "fecha", "type": "format", "message": "unparseable date", "severity": "high"},
		},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[model.Document](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.OpenErrorCount)

	rec = env.do(t, http.MethodGet, "/api/documents/"+created.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Document         model.Document          `json:"document"`
		ValidationErrors []model.ValidationError `json:"validation_errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, model.StatusNeedsReview, got.Document.Status)
	require.Len(t, got.ValidationErrors, 1)
	assert.Equal(t, "fecha", got.ValidationErrors[0].Field)
}

func TestCreateDocument_Invalid(t *testing.T) {
	env := newTestEnv(t, &scriptedExtractor{})

	rec := env.do(t, http.MethodPost, "/api/documents", map[string]any{"media_type": "application/pdf"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "filename")

	rec = env.do(t, http.MethodPost, "/api/documents", map[string]any{
		"filename": "x.pdf", "status": "bogus",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDocument_NotFound(t *testing.T) {
	env := newTestEnv(t, &scriptedExtractor{})
	rec := env.do(t, http.MethodGet, "/api/documents/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListDocuments_Stats(t *testing.T) {
	env := newTestEnv(t, &scriptedExtractor{})
	for i, status := range []string{"valid", "valid", "needs_review"} {
		rec := env.do(t, http.MethodPost, "/api/documents", map[string]any{
			"filename": fmt.Sprintf("d%d.pdf", i), "status": status,
		}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/documents?stats=true", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Documents []model.Document    `json:"documents"`
		Stats     *model.StatusCounts `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Documents, 3)
	require.NotNil(t, resp.Stats)
	assert.Equal(t, 2, resp.Stats.Valid)
	assert.Equal(t, 1, resp.Stats.NeedsReview)
}

func createValidDoc(t *testing.T, env *testEnv, filename string) string {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/documents", map[string]any{
		"filename": filename,
		"fields":   map[string]any{"expediente": "EXP-1"},
		"status":   "valid",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	return decode[model.Document](t, rec).ID
}

func TestApproveRejectLifecycle(t *testing.T) {
	env := newTestEnv(t, &scriptedExtractor{})
	id := createValidDoc(t, env, "appr.pdf")

	rec := env.do(t, http.MethodPost, "/api/documents/"+id+"/approve", map[string]any{"notes": "ok"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		MasterRow model.MasterRow `json:"master_row"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.MasterRow.Version)

	// terminal now
	rec = env.do(t, http.MethodPost, "/api/documents/"+id+"/approve", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/documents/"+id+"/reject", map[string]any{"reason": "late"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRejectRequiresReason(t *testing.T) {
	env := newTestEnv(t, &scriptedExtractor{})
	id := createValidDoc(t, env, "rej.pdf")

	rec := env.do(t, http.MethodPost, "/api/documents/"+id+"/reject", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/documents/"+id+"/reject", map[string]any{"reason": "duplicate"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAnnulCreatesRegistryEntry(t *testing.T) {
	env := newTestEnv(t, &scriptedExtractor{})
	id := createValidDoc(t, env, "anul.pdf")

	rec := env.do(t, http.MethodPost, "/api/documents/"+id+"/annul", map[string]any{"reason": "not a case"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	registryID := decode[map[string]string](t, rec)["registry_id"]
	require.NotEmpty(t, registryID)

	rec = env.do(t, http.MethodGet, "/api/unprocessable?category=manually-annulled", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Entries []model.UnprocessableEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Entries, 1)
	assert.Equal(t, registryID, list.Entries[0].ID)
}

func TestFixValidationError(t *testing.T) {
	env := newTestEnv(t, &scriptedExtractor{})
	rec := env.do(t, http.MethodPost, "/api/documents", map[string]any{
		"filename": "fix.pdf",
		"fields":   map[string]any{"fecha": "32/13/2024"},
		"status":   "needs_review",
		"validation_errors": []map[string]any{
			{"field": "fecha", "type": "format", "message": "bad date", "severity": "high"},
		},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	docID := decode[model.Document](t, rec).ID

	rec = env.do(t, http.MethodGet, "/api/documents/"+docID, nil, nil)
	var got struct {
		ValidationErrors []model.ValidationError `json:"validation_errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.ValidationErrors, 1)

	rec = env.do(t, http.MethodPost, "/api/validation-errors/"+got.ValidationErrors[0].ID+"/fix",
		map[string]any{"corrected_value": "2024-12-13", "notes": "typo"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/documents/"+docID, nil, nil)
	var after struct {
		Document model.Document `json:"document"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &after))
	assert.Zero(t, after.Document.OpenErrorCount)
	assert.True(t, after.Document.Corrected)
	v, ok := after.Document.Fields.Get("fecha")
	require.True(t, ok)
	assert.Equal(t, "2024-12-13", v.Str)
}

func TestMasterRecallAndDelete(t *testing.T) {
	env := newTestEnv(t, &scriptedExtractor{})
	id := createValidDoc(t, env, "mr.pdf")
	rec := env.do(t, http.MethodPost, "/api/documents/"+id+"/approve", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		MasterRow model.MasterRow `json:"master_row"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	rowID := resp.MasterRow.ID

	// delete without the code is forbidden
	rec = env.do(t, http.MethodDelete, "/api/master", map[string]any{"ids": []string{rowID}}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/master", map[string]any{"ids": []string{rowID}},
		map[string]string{ConfirmCodeHeader: "9999"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// recall sends the document back to review
	rec = env.do(t, http.MethodPost, "/api/master/send-to-review", map[string]any{"ids": []string{rowID, "ghost"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var recall consolidate.RecallResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recall))
	assert.Equal(t, []string{rowID}, recall.Recalled)
	assert.Equal(t, []string{"ghost"}, recall.Missing)

	doc, err := env.store.GetDocument(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNeedsReview, doc.Status)

	// re-approve, then delete with the right code
	rec = env.do(t, http.MethodPost, "/api/documents/"+id+"/approve", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	rec = env.do(t, http.MethodDelete, "/api/master", map[string]any{"ids": []string{resp.MasterRow.ID, "ghost"}},
		map[string]string{ConfirmCodeHeader: "4242"})
	require.Equal(t, http.StatusOK, rec.Code)
	var del struct {
		Deleted []string `json:"deleted"`
		Missing []string `json:"missing"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &del))
	assert.Len(t, del.Deleted, 1)
	assert.Equal(t, []string{"ghost"}, del.Missing)
}

func TestMasterDownload(t *testing.T) {
	env := newTestEnv(t, &scriptedExtractor{})
	id := createValidDoc(t, env, "dl.pdf")
	rec := env.do(t, http.MethodPost, "/api/documents/"+id+"/approve", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/master/download", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "master.xlsx")

	wb, err := xlsx.OpenBinary(rec.Body.Bytes())
	require.NoError(t, err)
	require.NotEmpty(t, wb.Sheets)
	require.NotEmpty(t, wb.Sheets[0].Rows)
	assert.Equal(t, "row", wb.Sheets[0].Rows[0].Cells[0].String())

	rec = env.do(t, http.MethodGet, "/api/master/download?transposed=true", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "master-transposed.xlsx")
}

func TestUnprocessablePromoteAndDelete(t *testing.T) {
	env := newTestEnv(t, &scriptedExtractor{})
	entry, err := env.store.CreateUnprocessable(context.Background(), &model.UnprocessableEntry{
		Filename: "borroso.pdf",
		Category: model.CategoryIllegible,
		Reason:   "scan too dark",
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/unprocessable/"+entry.ID+"/promote", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	doc := decode[model.Document](t, rec)
	assert.Equal(t, model.StatusPending, doc.Status)
	assert.Equal(t, "borroso.pdf", doc.Filename)

	// entry gone, promoting again is a 404
	rec = env.do(t, http.MethodPost, "/api/unprocessable/"+entry.ID+"/promote", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	other, err := env.store.CreateUnprocessable(context.Background(), &model.UnprocessableEntry{
		Filename: "roto.pdf", Category: model.CategoryIncomplete, Reason: "truncated",
	})
	require.NoError(t, err)
	rec = env.do(t, http.MethodDelete, "/api/unprocessable", map[string]any{"ids": []string{other.ID, "ghost"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res registry.DeleteResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, []string{other.ID}, res.Deleted)
	assert.Equal(t, []string{"ghost"}, res.Missing)
}

func multipartBody(t *testing.T, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestProcessBatch(t *testing.T) {
	fields := model.NewFields()
	fields.Set("expediente", model.StringValue("EXP-7"))
	ex := &scriptedExtractor{
		verdicts: map[string]*extract.Verdict{
			"ok.pdf": {Fields: fields, Confidence: 0.9, Status: model.StatusValid, Method: "claude-vision"},
		},
	}
	env := newTestEnv(t, ex)

	body, contentType := multipartBody(t, map[string][]byte{"ok.pdf": []byte("%PDF-1.4 data")})
	req := httptest.NewRequest(http.MethodPost, "/api/process", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var report orchestrator.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Completed)
	assert.Zero(t, report.Errored)
}

func TestProcessSingleUnprocessable(t *testing.T) {
	ex := &scriptedExtractor{
		errs: map[string]error{
			"malo.pdf": &extract.UnprocessableError{
				Category: model.CategoryIllegible,
				Reason:   "scan too dark",
			},
		},
	}
	env := newTestEnv(t, ex)

	body, contentType := multipartBody(t, map[string][]byte{"malo.pdf": []byte("noise")})
	req := httptest.NewRequest(http.MethodPost, "/api/process", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[map[string]string](t, rec)
	require.NotEmpty(t, resp["registry_id"])
	assert.True(t, strings.Contains(resp["error"], "scan too dark"))

	entry, err := env.store.GetUnprocessable(context.Background(), resp["registry_id"])
	require.NoError(t, err)
	assert.Equal(t, model.CategoryIllegible, entry.Category)
}

func TestProcessNoFiles(t *testing.T) {
	env := newTestEnv(t, &scriptedExtractor{})
	body, contentType := multipartBody(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/process", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
