package model

import "time"

// RejectionCategory tags why a document could not reach review.
type RejectionCategory string

const (
	CategoryMissingReference RejectionCategory = "missing-reference"
	CategoryIllegible        RejectionCategory = "illegible"
	CategoryIncomplete       RejectionCategory = "incomplete"
	CategoryDuplicate        RejectionCategory = "duplicate"
	CategoryCriticalError    RejectionCategory = "critical-error"
	CategoryInvalidFormat    RejectionCategory = "invalid-format"
	CategoryAnnulled         RejectionCategory = "manually-annulled"
)

// CrossRefs holds case identifiers recovered from a document before it
// failed, so registry entries stay searchable against the reference dataset.
type CrossRefs struct {
	Expediente string `json:"expediente,omitempty"`
	Accion     string `json:"accion,omitempty"`
	Grupo      string `json:"grupo,omitempty"`
}

// Empty reports whether no identifier was recovered.
func (c CrossRefs) Empty() bool {
	return c.Expediente == "" && c.Accion == "" && c.Grupo == ""
}

// CrossRefsFromFields recovers case identifiers from whatever extracted
// data survived a failure.
func CrossRefsFromFields(f *Fields) CrossRefs {
	var c CrossRefs
	if f == nil {
		return c
	}
	if v, ok := f.Get("expediente"); ok {
		c.Expediente = v.Render()
	}
	if v, ok := f.Get("accion"); ok {
		c.Accion = v.Render()
	}
	if v, ok := f.Get("grupo"); ok {
		c.Grupo = v.Render()
	}
	return c
}

// UnprocessableEntry records a document that failed extraction or was
// manually annulled. Entries stay visible until deleted or promoted back
// into review.
type UnprocessableEntry struct {
	ID         string            `json:"id"`
	Filename   string            `json:"filename"`
	Category   RejectionCategory `json:"category"`
	Reason     string            `json:"reason"`
	CrossRefs  CrossRefs         `json:"cross_refs"`
	Fields     *Fields           `json:"fields,omitempty"`
	RetryCount int               `json:"retry_count"`
	MaxRetries int               `json:"max_retries"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// CanRetry reports whether the entry is still eligible for another
// extraction attempt.
func (e *UnprocessableEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}
