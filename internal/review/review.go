package review

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docflow-cli/internal/consolidate"
	"github.com/sells-group/docflow-cli/internal/model"
	"github.com/sells-group/docflow-cli/internal/store"
)

// Sentinel errors the API layer maps onto response codes.
var (
	ErrTerminalState       = eris.New("review: document is in a terminal state")
	ErrOpenErrors          = eris.New("review: open validation errors require confirmation")
	ErrCriticalOpen        = eris.New("review: open critical errors require explicit override")
	ErrCriticalIgnore      = eris.New("review: ignoring a critical error requires confirmation")
	ErrReasonRequired      = eris.New("review: a reason is required")
	ErrConfirmCode         = eris.New("review: confirmation code mismatch")
	ErrConfirmCodeDisabled = eris.New("review: bulk delete is disabled, no confirmation code configured")
)

// Engine drives the review state machine over documents and their
// validation errors.
type Engine struct {
	store       store.Store
	master      *consolidate.Engine
	confirmCode string
	locks       *docLocks
}

// New creates a review engine. confirmCode gates privileged bulk deletes;
// empty disables them.
func New(st store.Store, master *consolidate.Engine, confirmCode string) *Engine {
	return &Engine{
		store:       st,
		master:      master,
		confirmCode: confirmCode,
		locks:       newDocLocks(),
	}
}

// Fix resolves a validation error with a corrected value, stages the value
// into the document's fields, and marks the document corrected. Status is
// untouched; approval eligibility is derived from the open-error count.
func (e *Engine) Fix(ctx context.Context, errID string, corrected model.Value, notes string) error {
	ve, err := e.store.GetValidationError(ctx, errID)
	if err != nil {
		return eris.Wrapf(err, "review: fix %s", errID)
	}

	unlock := e.locks.lock(ve.DocumentID)
	defer unlock()

	if err := e.store.ResolveValidationError(ctx, errID, model.ResolutionFixed, &corrected, notes); err != nil {
		return eris.Wrapf(err, "review: fix %s", errID)
	}

	doc, err := e.store.GetDocument(ctx, ve.DocumentID)
	if err != nil {
		return eris.Wrapf(err, "review: fix %s", errID)
	}
	if doc.Fields == nil {
		doc.Fields = model.NewFields()
	}
	doc.Fields.SetPath(ve.Field, corrected)
	doc.Corrected = true
	if err := e.refreshOpenCount(ctx, doc); err != nil {
		return err
	}

	zap.L().Info("validation error fixed",
		zap.String("error_id", errID),
		zap.String("document_id", ve.DocumentID),
		zap.String("field", ve.Field),
	)
	return nil
}

// Ignore resolves a validation error without changing the stored value.
// Critical errors need explicit confirmation.
func (e *Engine) Ignore(ctx context.Context, errID, notes string, confirmCritical bool) error {
	ve, err := e.store.GetValidationError(ctx, errID)
	if err != nil {
		return eris.Wrapf(err, "review: ignore %s", errID)
	}
	if ve.Severity == model.SeverityCritical && !confirmCritical {
		return ErrCriticalIgnore
	}

	unlock := e.locks.lock(ve.DocumentID)
	defer unlock()

	if err := e.store.ResolveValidationError(ctx, errID, model.ResolutionIgnored, nil, notes); err != nil {
		return eris.Wrapf(err, "review: ignore %s", errID)
	}

	doc, err := e.store.GetDocument(ctx, ve.DocumentID)
	if err != nil {
		return eris.Wrapf(err, "review: ignore %s", errID)
	}
	if err := e.refreshOpenCount(ctx, doc); err != nil {
		return err
	}

	zap.L().Info("validation error ignored",
		zap.String("error_id", errID),
		zap.String("document_id", ve.DocumentID),
		zap.String("severity", string(ve.Severity)),
	)
	return nil
}

// ApproveRequest carries the caller's confirmations and cross-validation
// bookkeeping for one approval.
type ApproveRequest struct {
	Notes             string
	ConfirmOpenErrors bool
	OverrideCritical  bool
	CrossValidation   model.CrossValidation
}

// Approve hands the document to consolidation and, only if the append
// succeeds, marks it approved. A failed append leaves the document
// unmodified.
func (e *Engine) Approve(ctx context.Context, docID string, req ApproveRequest) (*model.MasterRow, error) {
	unlock := e.locks.lock(docID)
	defer unlock()

	doc, err := e.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, eris.Wrapf(err, "review: approve %s", docID)
	}
	if doc.Status.Terminal() {
		return nil, ErrTerminalState
	}

	open, criticalOpen, err := e.openErrors(ctx, docID)
	if err != nil {
		return nil, err
	}
	if open > 0 && !req.ConfirmOpenErrors {
		return nil, ErrOpenErrors
	}
	if criticalOpen > 0 && !req.OverrideCritical {
		return nil, ErrCriticalOpen
	}

	// Consolidation first: all-or-nothing.
	row, conflict, err := e.master.Append(ctx, doc, doc.Fields, req.CrossValidation)
	if err != nil {
		return nil, eris.Wrapf(err, "review: approve %s", docID)
	}

	detail := model.StatusDetail{Approved: &model.ApprovedDetail{MasterRowID: row.ID}}
	if err := e.store.UpdateDocumentStatus(ctx, docID, model.StatusApproved, detail); err != nil {
		return nil, eris.Wrapf(err, "review: approve %s", docID)
	}

	zap.L().Info("document approved",
		zap.String("document_id", docID),
		zap.String("master_row_id", row.ID),
		zap.Int("version", row.Version),
		zap.Bool("conflict", conflict),
	)
	return row, nil
}

// Reject terminally rejects a document. The reason is mandatory.
func (e *Engine) Reject(ctx context.Context, docID, reason string) error {
	if reason == "" {
		return ErrReasonRequired
	}

	unlock := e.locks.lock(docID)
	defer unlock()

	doc, err := e.store.GetDocument(ctx, docID)
	if err != nil {
		return eris.Wrapf(err, "review: reject %s", docID)
	}
	if doc.Status.Terminal() {
		return ErrTerminalState
	}

	detail := model.StatusDetail{Rejected: &model.RejectedDetail{Reason: reason}}
	if err := e.store.UpdateDocumentStatus(ctx, docID, model.StatusRejected, detail); err != nil {
		return eris.Wrapf(err, "review: reject %s", docID)
	}
	zap.L().Info("document rejected", zap.String("document_id", docID), zap.String("reason", reason))
	return nil
}

// Annul copies the document's data and recoverable cross-references into a
// registry entry, then rejects the source document. Returns the registry id.
func (e *Engine) Annul(ctx context.Context, docID, reason string) (string, error) {
	if reason == "" {
		return "", ErrReasonRequired
	}

	unlock := e.locks.lock(docID)
	defer unlock()

	doc, err := e.store.GetDocument(ctx, docID)
	if err != nil {
		return "", eris.Wrapf(err, "review: annul %s", docID)
	}
	if doc.Status.Terminal() {
		return "", ErrTerminalState
	}

	entry, err := e.store.CreateUnprocessable(ctx, &model.UnprocessableEntry{
		Filename:  doc.Filename,
		Category:  model.CategoryAnnulled,
		Reason:    reason,
		CrossRefs: model.CrossRefsFromFields(doc.Fields),
		Fields:    doc.Fields.Clone(),
	})
	if err != nil {
		return "", eris.Wrapf(err, "review: annul %s", docID)
	}

	detail := model.StatusDetail{Rejected: &model.RejectedDetail{Reason: reason}}
	if err := e.store.UpdateDocumentStatus(ctx, docID, model.StatusRejected, detail); err != nil {
		return "", eris.Wrapf(err, "review: annul %s", docID)
	}

	zap.L().Info("document annulled",
		zap.String("document_id", docID),
		zap.String("registry_id", entry.ID),
	)
	return entry.ID, nil
}

// EditField stages an inline correction into the document payload prior to
// approval.
func (e *Engine) EditField(ctx context.Context, docID, field string, value model.Value) error {
	unlock := e.locks.lock(docID)
	defer unlock()

	doc, err := e.store.GetDocument(ctx, docID)
	if err != nil {
		return eris.Wrapf(err, "review: edit %s", docID)
	}
	if doc.Status.Terminal() {
		return ErrTerminalState
	}
	if doc.Fields == nil {
		doc.Fields = model.NewFields()
	}
	doc.Fields.SetPath(field, value)
	doc.Corrected = true
	if err := e.store.UpdateDocument(ctx, doc); err != nil {
		return eris.Wrapf(err, "review: edit %s", docID)
	}
	return nil
}

// Tally reports a bulk operation per-item: partial failure is the normal
// case, not an error.
type Tally struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Missing   int      `json:"missing"`
	Errors    []string `json:"errors,omitempty"`
}

func (t *Tally) record(id string, err error) {
	switch {
	case err == nil:
		t.Succeeded++
	case eris.Is(err, store.ErrNotFound):
		t.Missing++
	default:
		t.Failed++
		t.Errors = append(t.Errors, id+": "+err.Error())
	}
}

// BulkApprove applies Approve per id independently.
func (e *Engine) BulkApprove(ctx context.Context, ids []string, req ApproveRequest) *Tally {
	t := &Tally{}
	for _, id := range ids {
		_, err := e.Approve(ctx, id, req)
		t.record(id, err)
	}
	return t
}

// BulkReject applies Reject per id independently.
func (e *Engine) BulkReject(ctx context.Context, ids []string, reason string) *Tally {
	t := &Tally{}
	for _, id := range ids {
		t.record(id, e.Reject(ctx, id, reason))
	}
	return t
}

// BulkAnnul applies Annul per id independently.
func (e *Engine) BulkAnnul(ctx context.Context, ids []string, reason string) *Tally {
	t := &Tally{}
	for _, id := range ids {
		_, err := e.Annul(ctx, id, reason)
		t.record(id, err)
	}
	return t
}

// BulkDelete removes documents outright. It is gated by the short numeric
// confirmation code, verified on every invocation.
func (e *Engine) BulkDelete(ctx context.Context, ids []string, code string) (*Tally, error) {
	if err := e.VerifyConfirmCode(code); err != nil {
		return nil, err
	}
	t := &Tally{}
	for _, id := range ids {
		unlock := e.locks.lock(id)
		t.record(id, e.store.DeleteDocument(ctx, id))
		unlock()
	}
	zap.L().Info("bulk document delete",
		zap.Int("succeeded", t.Succeeded),
		zap.Int("missing", t.Missing),
		zap.Int("failed", t.Failed),
	)
	return t, nil
}

// VerifyConfirmCode checks the privileged-delete confirmation code. The
// code is never cached by callers; every destructive invocation passes it
// again.
func (e *Engine) VerifyConfirmCode(code string) error {
	if e.confirmCode == "" {
		return ErrConfirmCodeDisabled
	}
	if code != e.confirmCode {
		return ErrConfirmCode
	}
	return nil
}

func (e *Engine) openErrors(ctx context.Context, docID string) (open, critical int, err error) {
	errs, err := e.store.ListValidationErrors(ctx, docID)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "review: list errors for %s", docID)
	}
	for i := range errs {
		if errs[i].Open() {
			open++
			if errs[i].Severity == model.SeverityCritical {
				critical++
			}
		}
	}
	return open, critical, nil
}

// refreshOpenCount recomputes and persists the document's open-error count.
func (e *Engine) refreshOpenCount(ctx context.Context, doc *model.Document) error {
	open, _, err := e.openErrors(ctx, doc.ID)
	if err != nil {
		return err
	}
	doc.OpenErrorCount = open
	if err := e.store.UpdateDocument(ctx, doc); err != nil {
		return eris.Wrapf(err, "review: refresh open count for %s", doc.ID)
	}
	return nil
}
