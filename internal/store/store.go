package store

import (
	"context"
	"errors"

	"github.com/sells-group/docflow-cli/internal/model"
)

// ErrNotFound is returned when an entity does not exist. Bulk operations
// treat it as "already gone" rather than failing the whole call.
var ErrNotFound = errors.New("store: not found")

// DocumentFilter specifies criteria for listing documents.
type DocumentFilter struct {
	Status      model.DocumentStatus `json:"status,omitempty"`
	NeedsReview bool                 `json:"needs_review,omitempty"`
	Search      string               `json:"search,omitempty"`
	Limit       int                  `json:"limit,omitempty"`
	Offset      int                  `json:"offset,omitempty"`
}

// UnprocessableFilter specifies criteria for listing registry entries.
type UnprocessableFilter struct {
	Category model.RejectionCategory `json:"category,omitempty"`
	Search   string                  `json:"search,omitempty"`
	Limit    int                     `json:"limit,omitempty"`
}

// Store defines the persistence interface for the document pipeline. All
// four collections live behind it: documents, validation errors, master
// rows, and the unprocessable registry.
type Store interface {
	// Documents
	CreateDocument(ctx context.Context, doc *model.Document) (*model.Document, error)
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	UpdateDocument(ctx context.Context, doc *model.Document) error
	UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus, detail model.StatusDetail) error
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, *model.StatusCounts, error)
	DeleteDocument(ctx context.Context, id string) error
	FilenameExists(ctx context.Context, foldedFilename string) (bool, error)

	// Validation errors
	CreateValidationErrors(ctx context.Context, errs []model.ValidationError) error
	GetValidationError(ctx context.Context, id string) (*model.ValidationError, error)
	ListValidationErrors(ctx context.Context, documentID string) ([]model.ValidationError, error)
	ResolveValidationError(ctx context.Context, id string, resolution model.Resolution, corrected *model.Value, notes string) error

	// Master rows
	GetMasterRow(ctx context.Context, id string) (*model.MasterRow, error)
	GetMasterRowByDocument(ctx context.Context, documentID string) (*model.MasterRow, error)
	InsertMasterRow(ctx context.Context, row *model.MasterRow) (*model.MasterRow, error)
	UpdateMasterRow(ctx context.Context, row *model.MasterRow) error
	DeleteMasterRows(ctx context.Context, ids []string) ([]string, error)
	ListMasterRows(ctx context.Context, limit int) ([]model.MasterRow, error)
	NextRowNumber(ctx context.Context) (int, error)

	// Unprocessable registry
	CreateUnprocessable(ctx context.Context, entry *model.UnprocessableEntry) (*model.UnprocessableEntry, error)
	GetUnprocessable(ctx context.Context, id string) (*model.UnprocessableEntry, error)
	ListUnprocessable(ctx context.Context, filter UnprocessableFilter) ([]model.UnprocessableEntry, error)
	DeleteUnprocessable(ctx context.Context, id string) error
	IncrementUnprocessableRetry(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
