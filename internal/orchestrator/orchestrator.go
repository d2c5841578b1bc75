package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/docflow-cli/internal/extract"
	"github.com/sells-group/docflow-cli/internal/model"
	"github.com/sells-group/docflow-cli/internal/store"
)

// MaxFileBytes is the hard size ceiling for a single submission.
const MaxFileBytes = 100 * 1024 * 1024

// pageEstimateBytes is the rough bytes-per-page heuristic used to guess
// whether a PDF will blow past the page limit before sending it anywhere.
const pageEstimateBytes = 60 * 1024

// Submission is one candidate document handed to a batch.
type Submission struct {
	Filename  string
	MediaType string
	Bytes     []byte
}

// Options configures one batch run.
type Options struct {
	// Concurrency is the worker pool width. Default 10.
	Concurrency int

	// SkipDuplicates skips submissions whose folded filename already exists
	// among completed documents instead of merely flagging them.
	SkipDuplicates bool

	// PageEstimateLimit triggers AdmitPolicy for documents estimated above
	// it. Zero disables the check.
	PageEstimateLimit int

	// MaxFileBytes caps a single submission's size. Zero falls back to the
	// package default of 100MiB.
	MaxFileBytes int64

	// AdmitPolicy decides whether an oversized-looking submission still
	// runs. Nil admits everything.
	AdmitPolicy func(sub Submission, estimatedPages int) bool
}

// Outcome records where one submission ended up.
type Outcome struct {
	Filename         string               `json:"filename"`
	DocumentID       string               `json:"document_id,omitempty"`
	RegistryID       string               `json:"registry_id,omitempty"`
	Status           model.DocumentStatus `json:"status,omitempty"`
	Error            string               `json:"error,omitempty"`
	DuplicateFlagged bool                 `json:"duplicate_flagged,omitempty"`
	Skipped          bool                 `json:"skipped,omitempty"`
}

// Report aggregates a finished batch. Completed+Errored always equals
// Total; skipped submissions never enter the queue.
type Report struct {
	Total            int       `json:"total"`
	Completed        int       `json:"completed"`
	Errored          int       `json:"errored"`
	Skipped          int       `json:"skipped"`
	DuplicateFlagged int       `json:"duplicate_flagged"`
	Outcomes         []Outcome `json:"outcomes"`
}

// Progress exposes live batch counters to observers.
type Progress struct {
	mu        sync.Mutex
	total     int
	completed int
	errored   int
	startedAt time.Time
}

// Snapshot is a read-only copy of the counters.
type Snapshot struct {
	Total     int
	Completed int
	Errored   int
	StartedAt time.Time
}

func (p *Progress) begin(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
	p.completed = 0
	p.errored = 0
	p.startedAt = time.Now()
}

func (p *Progress) complete() {
	p.mu.Lock()
	p.completed++
	p.mu.Unlock()
}

func (p *Progress) fail() {
	p.mu.Lock()
	p.errored++
	p.mu.Unlock()
}

// Snapshot returns the current counters.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{Total: p.total, Completed: p.completed, Errored: p.errored, StartedAt: p.startedAt}
}

// queue is the shared FIFO drained by the worker pool.
type queue struct {
	mu    sync.Mutex
	items []*item
}

type item struct {
	sub     Submission
	outcome *Outcome
}

func (q *queue) pop() (*item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	it := q.items[0]
	q.items = q.items[1:]
	return it, true
}

// Orchestrator drives batches of submissions through extraction into the
// store.
type Orchestrator struct {
	store     store.Store
	extractor extract.Extractor
	blobs     BlobStore
	progress  Progress
}

// New assembles an orchestrator. blobs may be nil when byte persistence is
// not wanted (tests).
func New(st store.Store, ex extract.Extractor, blobs BlobStore) *Orchestrator {
	return &Orchestrator{store: st, extractor: ex, blobs: blobs}
}

// Progress returns the live counter aggregate for the current batch.
func (o *Orchestrator) Progress() *Progress {
	return &o.progress
}

// Run processes every submission to completion. Individual failures never
// abort the batch; only malformed input fails the call.
func (o *Orchestrator) Run(ctx context.Context, subs []Submission, opts Options) (*Report, error) {
	if len(subs) == 0 {
		return &Report{}, nil
	}
	for i := range subs {
		if subs[i].Filename == "" {
			return nil, eris.New("orchestrator: submission without filename")
		}
		if subs[i].MediaType == "" {
			subs[i].MediaType = mediaTypeFor(subs[i].Filename)
		}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}

	maxBytes := opts.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = MaxFileBytes
	}

	report := &Report{Outcomes: make([]Outcome, len(subs))}
	q := &queue{}

	// Admission: dedup within the batch, flag against completed documents,
	// size and page guards. Rejected or skipped items never enter the queue.
	seen := make(map[string]bool, len(subs))
	for i := range subs {
		sub := subs[i]
		out := &report.Outcomes[i]
		out.Filename = sub.Filename

		folded := model.FoldFilename(sub.Filename)
		dup := seen[folded]
		seen[folded] = true
		if !dup {
			exists, err := o.store.FilenameExists(ctx, folded)
			if err != nil {
				return nil, eris.Wrap(err, "orchestrator: duplicate check")
			}
			dup = exists
		}
		if dup {
			out.DuplicateFlagged = true
			report.DuplicateFlagged++
			if opts.SkipDuplicates {
				out.Skipped = true
				report.Skipped++
				continue
			}
		}

		if int64(len(sub.Bytes)) > maxBytes {
			o.rejectOversize(ctx, sub, maxBytes, out)
			report.Total++
			continue
		}

		if opts.PageEstimateLimit > 0 {
			pages := len(sub.Bytes) / pageEstimateBytes
			if pages > opts.PageEstimateLimit {
				if opts.AdmitPolicy != nil && !opts.AdmitPolicy(sub, pages) {
					out.Skipped = true
					out.Error = "declined by page estimate policy"
					report.Skipped++
					continue
				}
			}
		}

		report.Total++
		q.items = append(q.items, &item{sub: sub, outcome: out})
	}

	o.progress.begin(len(q.items))

	workers := opts.Concurrency
	if n := len(q.items); n < workers {
		workers = n
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				it, ok := q.pop()
				if !ok {
					return nil
				}
				o.processOne(gctx, it.sub, it.outcome)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "orchestrator: worker pool")
	}

	for i := range report.Outcomes {
		out := &report.Outcomes[i]
		if out.Skipped {
			continue
		}
		if out.Error != "" {
			report.Errored++
		} else {
			report.Completed++
		}
	}

	zap.L().Info("batch finished",
		zap.Int("total", report.Total),
		zap.Int("completed", report.Completed),
		zap.Int("errored", report.Errored),
		zap.Int("skipped", report.Skipped),
		zap.Int("duplicate_flagged", report.DuplicateFlagged),
	)
	return report, nil
}

func oversizeReason(limit int64) string {
	return fmt.Sprintf("file exceeds the %dMiB size ceiling", limit/(1024*1024))
}

// rejectOversize routes a too-large submission straight to the registry.
func (o *Orchestrator) rejectOversize(ctx context.Context, sub Submission, limit int64, out *Outcome) {
	reason := oversizeReason(limit)
	entry, err := o.store.CreateUnprocessable(ctx, &model.UnprocessableEntry{
		Filename: sub.Filename,
		Category: model.CategoryInvalidFormat,
		Reason:   reason,
	})
	if err != nil {
		zap.L().Error("registry entry for oversize file failed",
			zap.String("filename", sub.Filename), zap.Error(err))
		out.Error = reason
		return
	}
	out.RegistryID = entry.ID
	out.Error = reason
}

// processOne drives a single dequeued submission through extraction. All
// failure paths leave the item discoverable; nothing returns an error to
// the pool.
func (o *Orchestrator) processOne(ctx context.Context, sub Submission, out *Outcome) {
	// Snapshot the bytes before handing them to the extractor so concurrent
	// reuse of the submission buffer cannot corrupt the blob.
	data := make([]byte, len(sub.Bytes))
	copy(data, sub.Bytes)

	doc, err := o.store.CreateDocument(ctx, &model.Document{
		Filename:  sub.Filename,
		ByteSize:  int64(len(data)),
		MediaType: sub.MediaType,
		Status:    model.StatusProcessing,
	})
	if err != nil {
		out.Error = err.Error()
		o.progress.fail()
		zap.L().Error("create document failed", zap.String("filename", sub.Filename), zap.Error(err))
		return
	}
	out.DocumentID = doc.ID

	verdict, err := o.extractor.Extract(ctx, extract.Input{
		Filename:  sub.Filename,
		MediaType: sub.MediaType,
		Bytes:     data,
	})
	switch {
	case err == nil:
		o.finishSuccess(ctx, doc, verdict, data, out)
	default:
		if ue, ok := extract.AsUnprocessable(err); ok {
			o.finishUnprocessable(ctx, doc, ue, data, out)
		} else {
			o.finishError(ctx, doc, err, data, out)
		}
	}
}

func (o *Orchestrator) finishSuccess(ctx context.Context, doc *model.Document, v *extract.Verdict, data []byte, out *Outcome) {
	doc.Fields = v.Fields
	doc.Confidence = &v.Confidence
	doc.Method = v.Method
	doc.Status = v.Status
	doc.Detail = model.StatusDetail{}
	if err := o.store.UpdateDocument(ctx, doc); err != nil {
		out.Error = err.Error()
		o.progress.fail()
		zap.L().Error("persist verdict failed", zap.String("document_id", doc.ID), zap.Error(err))
		return
	}
	out.Status = doc.Status
	o.saveBlob(doc.ID, doc.Filename, data)
	o.progress.complete()
	zap.L().Info("document processed",
		zap.String("document_id", doc.ID),
		zap.String("filename", doc.Filename),
		zap.String("status", string(doc.Status)),
		zap.Float64("confidence", v.Confidence),
		zap.String("method", v.Method),
	)
}

func (o *Orchestrator) finishUnprocessable(ctx context.Context, doc *model.Document, ue *extract.UnprocessableError, data []byte, out *Outcome) {
	entry, err := o.store.CreateUnprocessable(ctx, &model.UnprocessableEntry{
		Filename:  doc.Filename,
		Category:  ue.Category,
		Reason:    ue.Reason,
		CrossRefs: model.CrossRefsFromFields(ue.Fields),
		Fields:    ue.Fields,
	})
	if err != nil {
		zap.L().Error("registry entry failed", zap.String("filename", doc.Filename), zap.Error(err))
	} else {
		out.RegistryID = entry.ID
		o.saveBlob(entry.ID, doc.Filename, data)
	}

	// The registry entry replaces the placeholder record.
	if err := o.store.DeleteDocument(ctx, doc.ID); err != nil {
		zap.L().Warn("remove placeholder document failed", zap.String("document_id", doc.ID), zap.Error(err))
	}
	out.DocumentID = ""
	out.Error = ue.Error()
	o.progress.fail()
}

func (o *Orchestrator) finishError(ctx context.Context, doc *model.Document, extractErr error, data []byte, out *Outcome) {
	detail := model.StatusDetail{Failed: &model.FailedDetail{Message: extractErr.Error()}}
	if err := o.store.UpdateDocumentStatus(ctx, doc.ID, model.StatusError, detail); err != nil {
		zap.L().Error("mark document errored failed", zap.String("document_id", doc.ID), zap.Error(err))
	}
	// Keep the bytes so RetryErrored can re-run without the original file.
	o.saveBlob(doc.ID, doc.Filename, data)
	// Mirror into the registry so the failure stays visible and actionable.
	entry, err := o.store.CreateUnprocessable(ctx, &model.UnprocessableEntry{
		Filename: doc.Filename,
		Category: model.CategoryCriticalError,
		Reason:   extractErr.Error(),
	})
	if err != nil {
		zap.L().Error("registry mirror failed", zap.String("filename", doc.Filename), zap.Error(err))
	} else {
		out.RegistryID = entry.ID
	}
	out.Status = model.StatusError
	out.Error = extractErr.Error()
	o.progress.fail()
}

func (o *Orchestrator) saveBlob(id, filename string, data []byte) {
	if o.blobs == nil {
		return
	}
	if err := o.blobs.Save(id, filename, data); err != nil {
		zap.L().Warn("blob persist failed", zap.String("filename", filename), zap.Error(err))
	}
}

// RetryErrored re-admits every error-status document whose original bytes
// are still on hand. Documents without a blob are left untouched.
func (o *Orchestrator) RetryErrored(ctx context.Context, opts Options) (*Report, error) {
	docs, _, err := o.store.ListDocuments(ctx, store.DocumentFilter{Status: model.StatusError, Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: list errored")
	}

	var subs []Submission
	for _, d := range docs {
		if o.blobs == nil {
			break
		}
		data, err := o.blobs.Load(d.ID, d.Filename)
		if err != nil {
			zap.L().Warn("retry skipped, blob missing",
				zap.String("document_id", d.ID),
				zap.String("filename", d.Filename),
			)
			continue
		}
		// The stale record goes away; the rerun creates a fresh one.
		if err := o.store.DeleteDocument(ctx, d.ID); err != nil {
			zap.L().Warn("remove errored document failed", zap.String("document_id", d.ID), zap.Error(err))
			continue
		}
		o.dropErrorMirrors(ctx, d.Filename)
		subs = append(subs, Submission{Filename: d.Filename, MediaType: d.MediaType, Bytes: data})
	}
	if len(subs) == 0 {
		return &Report{}, nil
	}

	// The old filenames are back in the store's history; re-admission must
	// not self-flag.
	opts.SkipDuplicates = false
	return o.Run(ctx, subs, opts)
}

// dropErrorMirrors removes the critical-error registry entries finishError
// created for a filename that is being re-admitted. A retry that fails again
// creates a fresh mirror.
func (o *Orchestrator) dropErrorMirrors(ctx context.Context, filename string) {
	entries, err := o.store.ListUnprocessable(ctx, store.UnprocessableFilter{Category: model.CategoryCriticalError})
	if err != nil {
		zap.L().Warn("list registry mirrors failed", zap.String("filename", filename), zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.Filename != filename {
			continue
		}
		if err := o.store.DeleteUnprocessable(ctx, e.ID); err != nil {
			zap.L().Warn("remove registry mirror failed", zap.String("registry_id", e.ID), zap.Error(err))
		}
	}
}
