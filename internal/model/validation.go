package model

import "time"

// Severity grades how serious a validation error is. Critical errors block
// approval unless explicitly overridden.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Resolution is the lifecycle state of a validation error.
type Resolution string

const (
	ResolutionOpen    Resolution = "open"
	ResolutionFixed   Resolution = "fixed"
	ResolutionIgnored Resolution = "ignored"
)

// ValidationError is one field-level problem found in a document's
// extracted data. It belongs to exactly one document.
type ValidationError struct {
	ID             string     `json:"id"`
	DocumentID     string     `json:"document_id"`
	Field          string     `json:"field"`
	Type           string     `json:"type"`
	Message        string     `json:"message"`
	Severity       Severity   `json:"severity"`
	RawValue       string     `json:"raw_value,omitempty"`
	ExpectedFormat string     `json:"expected_format,omitempty"`
	Resolution     Resolution `json:"resolution"`
	CorrectedValue *Value     `json:"corrected_value,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// Open reports whether the error still needs attention.
func (e *ValidationError) Open() bool {
	return e.Resolution == ResolutionOpen
}
