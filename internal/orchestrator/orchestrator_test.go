package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docflow-cli/internal/extract"
	"github.com/sells-group/docflow-cli/internal/model"
	"github.com/sells-group/docflow-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// scriptedExtractor maps filenames to canned verdicts or errors.
type scriptedExtractor struct {
	verdicts map[string]*extract.Verdict
	errs     map[string]error
}

func (s *scriptedExtractor) Extract(ctx context.Context, in extract.Input) (*extract.Verdict, error) {
	if err, ok := s.errs[in.Filename]; ok {
		return nil, err
	}
	if v, ok := s.verdicts[in.Filename]; ok {
		return v, nil
	}
	return &extract.Verdict{Fields: model.NewFields(), Confidence: 0.9, Status: model.StatusValid, Method: "test"}, nil
}

func validVerdict(conf float64) *extract.Verdict {
	f := model.NewFields()
	f.Set("expediente", model.StringValue("EXP-1"))
	return &extract.Verdict{Fields: f, Confidence: conf, Status: model.StatusValid, Method: "test"}
}

func TestRun_MixedBatch(t *testing.T) {
	st := newTestStore(t)
	ex := &scriptedExtractor{
		verdicts: map[string]*extract.Verdict{
			"a.pdf": validVerdict(0.9),
			"b.pdf": validVerdict(0.8),
		},
		errs: map[string]error{
			"c.pdf": &extract.UnprocessableError{Category: model.CategoryInvalidFormat, Reason: "payload too large"},
		},
	}
	o := New(st, ex, nil)

	report, err := o.Run(context.Background(), []Submission{
		{Filename: "a.pdf", MediaType: "application/pdf", Bytes: []byte("a")},
		{Filename: "b.pdf", MediaType: "application/pdf", Bytes: []byte("b")},
		{Filename: "c.pdf", MediaType: "application/pdf", Bytes: []byte("c")},
	}, Options{Concurrency: 2})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Completed)
	assert.Equal(t, 1, report.Errored)
	assert.Equal(t, report.Total, report.Completed+report.Errored)

	docs, counts, err := st.ListDocuments(context.Background(), store.DocumentFilter{})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Equal(t, 2, counts.Valid)

	entries, err := st.ListUnprocessable(context.Background(), store.UnprocessableFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "c.pdf", entries[0].Filename)
	assert.Equal(t, model.CategoryInvalidFormat, entries[0].Category)
}

func TestRun_GenericFailureKeepsDocumentVisible(t *testing.T) {
	st := newTestStore(t)
	ex := &scriptedExtractor{errs: map[string]error{
		"boom.pdf": errors.New("service exploded"),
	}}
	o := New(st, ex, nil)

	report, err := o.Run(context.Background(), []Submission{
		{Filename: "boom.pdf", MediaType: "application/pdf", Bytes: []byte("x")},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errored)
	require.NotEmpty(t, report.Outcomes[0].DocumentID)
	require.NotEmpty(t, report.Outcomes[0].RegistryID)

	doc, err := st.GetDocument(context.Background(), report.Outcomes[0].DocumentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, doc.Status)
	require.NotNil(t, doc.Detail.Failed)
	assert.Equal(t, "service exploded", doc.Detail.Failed.Message)

	entries, err := st.ListUnprocessable(context.Background(), store.UnprocessableFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "boom.pdf", entries[0].Filename)
}

func TestRun_DuplicateFlaggingAndSkip(t *testing.T) {
	st := newTestStore(t)
	o := New(st, &scriptedExtractor{}, nil)
	ctx := context.Background()

	// first batch completes a.pdf
	_, err := o.Run(ctx, []Submission{
		{Filename: "a.pdf", MediaType: "application/pdf", Bytes: []byte("a")},
	}, Options{})
	require.NoError(t, err)

	// resubmission with accent/case variant gets flagged but still runs
	report, err := o.Run(ctx, []Submission{
		{Filename: "Á.pdf", MediaType: "application/pdf", Bytes: []byte("a2")},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.DuplicateFlagged)
	assert.Equal(t, 1, report.Completed)
	assert.True(t, report.Outcomes[0].DuplicateFlagged)

	// opting out skips instead
	report, err = o.Run(ctx, []Submission{
		{Filename: "A.PDF", MediaType: "application/pdf", Bytes: []byte("a3")},
	}, Options{SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total)
	assert.Equal(t, 1, report.Skipped)
	assert.True(t, report.Outcomes[0].Skipped)
}

func TestRun_WithinBatchCollision(t *testing.T) {
	st := newTestStore(t)
	o := New(st, &scriptedExtractor{}, nil)

	report, err := o.Run(context.Background(), []Submission{
		{Filename: "x.pdf", MediaType: "application/pdf", Bytes: []byte("1")},
		{Filename: "X.pdf", MediaType: "application/pdf", Bytes: []byte("2")},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.DuplicateFlagged)
	assert.False(t, report.Outcomes[0].DuplicateFlagged)
	assert.True(t, report.Outcomes[1].DuplicateFlagged)
	assert.Equal(t, 2, report.Completed)
}

func TestRun_PageEstimatePolicy(t *testing.T) {
	st := newTestStore(t)
	o := New(st, &scriptedExtractor{}, nil)

	big := make([]byte, pageEstimateBytes*10)
	var asked int
	report, err := o.Run(context.Background(), []Submission{
		{Filename: "huge.pdf", MediaType: "application/pdf", Bytes: big},
	}, Options{
		PageEstimateLimit: 5,
		AdmitPolicy: func(sub Submission, pages int) bool {
			asked = pages
			return false
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 10, asked)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Total)
}

func TestRun_PageEstimateWithoutPolicyAdmits(t *testing.T) {
	st := newTestStore(t)
	o := New(st, &scriptedExtractor{}, nil)

	big := make([]byte, pageEstimateBytes*10)
	report, err := o.Run(context.Background(), []Submission{
		{Filename: "huge.pdf", MediaType: "application/pdf", Bytes: big},
	}, Options{PageEstimateLimit: 5})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Completed)
}

func TestRun_SizeCeilingOverride(t *testing.T) {
	st := newTestStore(t)
	o := New(st, &scriptedExtractor{}, nil)

	report, err := o.Run(context.Background(), []Submission{
		{Filename: "fat.pdf", MediaType: "application/pdf", Bytes: make([]byte, 2*1024*1024)},
	}, Options{MaxFileBytes: 1024 * 1024})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errored)
	require.NotEmpty(t, report.Outcomes[0].RegistryID)

	entries, err := st.ListUnprocessable(context.Background(), store.UnprocessableFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.CategoryInvalidFormat, entries[0].Category)
	assert.Contains(t, entries[0].Reason, "1MiB")
}

func TestRun_BlobPersistence(t *testing.T) {
	st := newTestStore(t)
	dir := t.TempDir()
	blobs, err := NewLocalBlobStore(dir)
	require.NoError(t, err)
	o := New(st, &scriptedExtractor{}, blobs)

	report, err := o.Run(context.Background(), []Submission{
		{Filename: "keep.pdf", MediaType: "application/pdf", Bytes: []byte("original bytes")},
	}, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Completed)

	data, err := blobs.Load(report.Outcomes[0].DocumentID, "keep.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("original bytes"), data)
}

func TestRun_EmptyBatch(t *testing.T) {
	o := New(newTestStore(t), &scriptedExtractor{}, nil)
	report, err := o.Run(context.Background(), nil, Options{})
	require.NoError(t, err)
	assert.Zero(t, report.Total)
}

func TestRun_MissingFilenameFailsWholeCall(t *testing.T) {
	o := New(newTestStore(t), &scriptedExtractor{}, nil)
	_, err := o.Run(context.Background(), []Submission{{Bytes: []byte("x")}}, Options{})
	require.Error(t, err)
}

func TestRetryErrored(t *testing.T) {
	st := newTestStore(t)
	blobs, err := NewLocalBlobStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	// first pass fails
	failing := &scriptedExtractor{errs: map[string]error{
		"flaky.pdf": errors.New("temporary outage"),
	}}
	o := New(st, failing, blobs)
	report, err := o.Run(ctx, []Submission{
		{Filename: "flaky.pdf", MediaType: "application/pdf", Bytes: []byte("data")},
	}, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Errored)

	// the failing pass keeps the bytes; the retry needs no operator help
	docs, _, err := st.ListDocuments(ctx, store.DocumentFilter{Status: model.StatusError})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	data, err := blobs.Load(docs[0].ID, "flaky.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)

	// second pass succeeds
	o2 := New(st, &scriptedExtractor{}, blobs)
	report, err = o2.RetryErrored(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)

	docs, counts, err := st.ListDocuments(ctx, store.DocumentFilter{})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, 1, counts.Valid)
	assert.Equal(t, 0, counts.Errored)

	// the critical-error mirror goes away with the retried document
	entries, err := st.ListUnprocessable(ctx, store.UnprocessableFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProgressSnapshot(t *testing.T) {
	st := newTestStore(t)
	o := New(st, &scriptedExtractor{}, nil)

	_, err := o.Run(context.Background(), []Submission{
		{Filename: "p1.pdf", MediaType: "application/pdf", Bytes: []byte("1")},
		{Filename: "p2.pdf", MediaType: "application/pdf", Bytes: []byte("2")},
	}, Options{})
	require.NoError(t, err)

	snap := o.Progress().Snapshot()
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, snap.Total, snap.Completed+snap.Errored)
	assert.False(t, snap.StartedAt.IsZero())
}

func TestReadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.pdf"), []byte("pdf"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.json"), []byte("{}"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	subs, err := ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "application/pdf", subs[0].MediaType)
	assert.Equal(t, "application/json", subs[1].MediaType)
}
