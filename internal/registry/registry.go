package registry

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docflow-cli/internal/model"
	"github.com/sells-group/docflow-cli/internal/store"
)

// ErrRetriesExhausted is returned when an entry has used up its retry budget.
var ErrRetriesExhausted = eris.New("registry: retry budget exhausted")

// Engine manages the unprocessable registry: documents that failed
// extraction or were manually annulled, kept visible until an operator
// deletes or promotes them.
type Engine struct {
	store store.Store
}

func New(st store.Store) *Engine {
	return &Engine{store: st}
}

// Get returns one entry.
func (e *Engine) Get(ctx context.Context, id string) (*model.UnprocessableEntry, error) {
	entry, err := e.store.GetUnprocessable(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: get %s", id)
	}
	return entry, nil
}

// List returns entries matching the filter, newest first.
func (e *Engine) List(ctx context.Context, filter store.UnprocessableFilter) ([]model.UnprocessableEntry, error) {
	entries, err := e.store.ListUnprocessable(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "registry: list")
	}
	return entries, nil
}

// DeleteResult tallies a bulk delete per id.
type DeleteResult struct {
	Deleted []string `json:"deleted"`
	Missing []string `json:"missing"`
}

// Delete removes entries by id. Missing ids are tallied, not fatal.
func (e *Engine) Delete(ctx context.Context, ids []string) (*DeleteResult, error) {
	res := &DeleteResult{}
	for _, id := range ids {
		err := e.store.DeleteUnprocessable(ctx, id)
		switch {
		case err == nil:
			res.Deleted = append(res.Deleted, id)
		case eris.Is(err, store.ErrNotFound):
			res.Missing = append(res.Missing, id)
		default:
			return nil, eris.Wrapf(err, "registry: delete %s", id)
		}
	}
	zap.L().Info("registry entries deleted",
		zap.Int("deleted", len(res.Deleted)),
		zap.Int("missing", len(res.Missing)),
	)
	return res, nil
}

// Promote turns an entry back into a pending document carrying whatever
// fields survived the original failure, then removes the entry. The
// document re-enters the pipeline through the normal review path.
func (e *Engine) Promote(ctx context.Context, id string) (*model.Document, error) {
	entry, err := e.store.GetUnprocessable(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: promote %s", id)
	}

	fields := entry.Fields.Clone()
	if fields == nil {
		fields = model.NewFields()
	}
	doc, err := e.store.CreateDocument(ctx, &model.Document{
		Filename:  entry.Filename,
		MediaType: "application/pdf",
		Fields:    fields,
		Status:    model.StatusPending,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "registry: promote %s", id)
	}

	if err := e.store.DeleteUnprocessable(ctx, id); err != nil {
		return nil, eris.Wrapf(err, "registry: promote %s", id)
	}

	zap.L().Info("registry entry promoted",
		zap.String("registry_id", id),
		zap.String("document_id", doc.ID),
		zap.String("filename", entry.Filename),
	)
	return doc, nil
}

// MarkRetry records one more extraction attempt against the entry's retry
// budget. It fails once the budget is spent.
func (e *Engine) MarkRetry(ctx context.Context, id string) error {
	entry, err := e.store.GetUnprocessable(ctx, id)
	if err != nil {
		return eris.Wrapf(err, "registry: mark retry %s", id)
	}
	if !entry.CanRetry() {
		return ErrRetriesExhausted
	}
	if err := e.store.IncrementUnprocessableRetry(ctx, id); err != nil {
		return eris.Wrapf(err, "registry: mark retry %s", id)
	}
	return nil
}
