package consolidate

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docflow-cli/internal/model"
	"github.com/sells-group/docflow-cli/internal/store"
)

// Engine maintains the master table: the single source of truth for
// approved, exportable rows.
type Engine struct {
	store store.Store
}

// New creates a consolidation engine.
func New(st store.Store) *Engine {
	return &Engine{store: st}
}

// Append inserts the master row for a document, or bumps its version when
// one already exists. An unchanged payload is a conflict, not an error:
// the existing row comes back with conflict=true and no version bump.
func (e *Engine) Append(ctx context.Context, doc *model.Document, payload *model.Fields, xval model.CrossValidation) (*model.MasterRow, bool, error) {
	existing, err := e.store.GetMasterRowByDocument(ctx, doc.ID)
	if err != nil {
		return nil, false, eris.Wrapf(err, "consolidate: lookup row for document %s", doc.ID)
	}

	if existing == nil {
		n, err := e.store.NextRowNumber(ctx)
		if err != nil {
			return nil, false, eris.Wrap(err, "consolidate: next row number")
		}
		row, err := e.store.InsertMasterRow(ctx, &model.MasterRow{
			DocumentID:           doc.ID,
			Row:                  payload.Clone(),
			RowNumber:            n,
			Filename:             doc.Filename,
			StatusSnapshot:       model.StatusApproved,
			CrossValidationMatch: xval.Match,
			DiscrepancyCount:     xval.DiscrepancyCount,
			Version:              1,
		})
		if err != nil {
			return nil, false, eris.Wrapf(err, "consolidate: insert row for document %s", doc.ID)
		}
		zap.L().Info("master row appended",
			zap.String("document_id", doc.ID),
			zap.Int("row_number", n),
		)
		return row, false, nil
	}

	if existing.Row.Equal(payload) &&
		existing.CrossValidationMatch == xval.Match &&
		existing.DiscrepancyCount == xval.DiscrepancyCount {
		return existing, true, nil
	}

	existing.Row = payload.Clone()
	existing.CrossValidationMatch = xval.Match
	existing.DiscrepancyCount = xval.DiscrepancyCount
	existing.Version++
	if err := e.store.UpdateMasterRow(ctx, existing); err != nil {
		return nil, false, eris.Wrapf(err, "consolidate: bump row for document %s", doc.ID)
	}
	zap.L().Info("master row re-approved",
		zap.String("document_id", doc.ID),
		zap.Int("version", existing.Version),
	)
	return existing, false, nil
}

// RecallResult tallies a recall call. Missing ids are already gone and
// reported, never fatal.
type RecallResult struct {
	Recalled []string `json:"recalled"`
	Missing  []string `json:"missing"`
}

// Recall removes the listed master rows and sends the underlying documents
// back to review. Each id is atomic: either the row is removed and its
// document reset, or both are untouched.
func (e *Engine) Recall(ctx context.Context, ids []string) (*RecallResult, error) {
	result := &RecallResult{}
	for _, id := range ids {
		row, err := e.store.GetMasterRow(ctx, id)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				result.Missing = append(result.Missing, id)
				continue
			}
			return result, eris.Wrapf(err, "consolidate: recall %s", id)
		}

		deleted, err := e.store.DeleteMasterRows(ctx, []string{id})
		if err != nil {
			return result, eris.Wrapf(err, "consolidate: recall %s", id)
		}
		if len(deleted) == 0 {
			result.Missing = append(result.Missing, id)
			continue
		}

		if err := e.store.UpdateDocumentStatus(ctx, row.DocumentID, model.StatusNeedsReview, model.StatusDetail{}); err != nil {
			// The document may have been deleted separately; the row removal
			// still stands.
			zap.L().Warn("recall: document reset failed",
				zap.String("document_id", row.DocumentID),
				zap.Error(err),
			)
		}
		result.Recalled = append(result.Recalled, id)
	}
	return result, nil
}

// Delete removes master rows without touching the underlying documents.
// Missing ids are tallied as already gone.
func (e *Engine) Delete(ctx context.Context, ids []string) (deleted, missing []string, err error) {
	got, err := e.store.DeleteMasterRows(ctx, ids)
	if err != nil {
		return nil, nil, eris.Wrap(err, "consolidate: bulk delete")
	}
	gone := make(map[string]bool, len(got))
	for _, id := range got {
		gone[id] = true
	}
	for _, id := range ids {
		if !gone[id] {
			missing = append(missing, id)
		}
	}
	return got, missing, nil
}
