package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docflow-cli/internal/model"
	"github.com/sells-group/docflow-cli/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return New(s), s
}

func createEntry(t *testing.T, s store.Store, filename string, cat model.RejectionCategory) *model.UnprocessableEntry {
	t.Helper()
	fields := model.NewFields()
	fields.Set("expediente", model.StringValue("EXP-9"))
	entry, err := s.CreateUnprocessable(context.Background(), &model.UnprocessableEntry{
		Filename:  filename,
		Category:  cat,
		Reason:    "document could not be read",
		CrossRefs: model.CrossRefsFromFields(fields),
		Fields:    fields,
	})
	require.NoError(t, err)
	return entry
}

func TestList_CategoryFilter(t *testing.T) {
	e, s := newTestEngine(t)
	createEntry(t, s, "a.pdf", model.CategoryIllegible)
	createEntry(t, s, "b.pdf", model.CategoryIllegible)
	createEntry(t, s, "c.pdf", model.CategoryAnnulled)

	all, err := e.List(context.Background(), store.UnprocessableFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	illegible, err := e.List(context.Background(), store.UnprocessableFilter{Category: model.CategoryIllegible})
	require.NoError(t, err)
	require.Len(t, illegible, 2)
	for _, entry := range illegible {
		assert.Equal(t, model.CategoryIllegible, entry.Category)
	}
}

func TestDelete_MissingTallied(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	const n, k = 5, 2
	ids := make([]string, 0, n+k)
	for i := 0; i < n; i++ {
		ids = append(ids, createEntry(t, s, fmt.Sprintf("d%d.pdf", i), model.CategoryIncomplete).ID)
	}
	for i := 0; i < k; i++ {
		ids = append(ids, fmt.Sprintf("ghost-%d", i))
	}

	res, err := e.Delete(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, res.Deleted, n)
	assert.Len(t, res.Missing, k)

	remaining, err := e.List(ctx, store.UnprocessableFilter{})
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestPromote(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	entry := createEntry(t, s, "promo.pdf", model.CategoryIllegible)

	doc, err := e.Promote(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, doc.Status)
	assert.Equal(t, "promo.pdf", doc.Filename)

	// snapshot carried over
	v, ok := doc.Fields.Get("expediente")
	require.True(t, ok)
	assert.Equal(t, "EXP-9", v.Str)

	// entry removed
	_, err = s.GetUnprocessable(ctx, entry.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPromote_Missing(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Promote(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMarkRetry_Budget(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	entry := createEntry(t, s, "retry.pdf", model.CategoryCriticalError)
	require.Equal(t, 3, entry.MaxRetries)

	for i := 0; i < 3; i++ {
		require.NoError(t, e.MarkRetry(ctx, entry.ID))
	}
	err := e.MarkRetry(ctx, entry.ID)
	assert.ErrorIs(t, err, ErrRetriesExhausted)

	got, err := e.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.RetryCount)
	assert.False(t, got.CanRetry())
}
