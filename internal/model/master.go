package model

import "time"

// MasterRow is one consolidated, versioned, exportable record derived from
// an approved document. At most one row exists per document; re-approval
// bumps Version instead of inserting a duplicate.
type MasterRow struct {
	ID                   string         `json:"id"`
	DocumentID           string         `json:"document_id"`
	Row                  *Fields        `json:"row"`
	RowNumber            int            `json:"row_number"`
	Filename             string         `json:"filename"`
	StatusSnapshot       DocumentStatus `json:"validation_status"`
	CrossValidationMatch bool           `json:"cross_validation_match"`
	DiscrepancyCount     int            `json:"discrepancy_count"`
	Version              int            `json:"version"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// CrossValidation is caller-supplied bookkeeping stored verbatim on append.
// The engine never computes discrepancies itself.
type CrossValidation struct {
	Match            bool `json:"match"`
	DiscrepancyCount int  `json:"discrepancy_count"`
}
