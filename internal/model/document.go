package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// DocumentStatus is the review lifecycle state of a document.
type DocumentStatus string

const (
	StatusPending     DocumentStatus = "pending"
	StatusProcessing  DocumentStatus = "processing"
	StatusValid       DocumentStatus = "valid"
	StatusNeedsReview DocumentStatus = "needs_review"
	StatusApproved    DocumentStatus = "approved"
	StatusRejected    DocumentStatus = "rejected"
	StatusError       DocumentStatus = "error"
)

// Terminal reports whether no further review transitions are allowed.
func (s DocumentStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Valid reports whether s is a known status.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusValid, StatusNeedsReview,
		StatusApproved, StatusRejected, StatusError:
		return true
	}
	return false
}

// StatusDetail carries the data that only exists in a particular status.
// A rejection reason cannot exist outside rejected, nor a master row
// reference outside approved.
type StatusDetail struct {
	Rejected *RejectedDetail `json:"rejected,omitempty"`
	Approved *ApprovedDetail `json:"approved,omitempty"`
	Failed   *FailedDetail   `json:"failed,omitempty"`
}

// RejectedDetail records why a document was rejected.
type RejectedDetail struct {
	Reason string `json:"reason"`
}

// ApprovedDetail links an approved document to its master row.
type ApprovedDetail struct {
	MasterRowID string `json:"master_row_id"`
}

// FailedDetail records the extraction failure message for error status.
type FailedDetail struct {
	Message string `json:"message"`
}

// DetailFor validates that a detail matches its status and returns the
// detail to store. Statuses without extra data get an empty detail.
func DetailFor(status DocumentStatus, detail StatusDetail) (StatusDetail, error) {
	switch status {
	case StatusRejected:
		if detail.Rejected == nil || detail.Rejected.Reason == "" {
			return StatusDetail{}, eris.New("model: rejected status requires a reason")
		}
		return StatusDetail{Rejected: detail.Rejected}, nil
	case StatusApproved:
		if detail.Approved == nil || detail.Approved.MasterRowID == "" {
			return StatusDetail{}, eris.New("model: approved status requires a master row id")
		}
		return StatusDetail{Approved: detail.Approved}, nil
	case StatusError:
		if detail.Failed == nil {
			return StatusDetail{}, eris.New("model: error status requires a failure message")
		}
		return StatusDetail{Failed: detail.Failed}, nil
	default:
		return StatusDetail{}, nil
	}
}

// Document is one submitted file and its extraction/review lifecycle record.
type Document struct {
	ID             string         `json:"id"`
	Filename       string         `json:"filename"`
	ByteSize       int64          `json:"byte_size"`
	MediaType      string         `json:"media_type"`
	PageCount      int            `json:"page_count,omitempty"`
	Fields         *Fields        `json:"fields"`
	Confidence     *float64       `json:"confidence,omitempty"`
	Method         string         `json:"method,omitempty"`
	Status         DocumentStatus `json:"status"`
	Detail         StatusDetail   `json:"detail"`
	OpenErrorCount int            `json:"open_error_count"`
	Corrected      bool           `json:"corrected"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// RejectionReason returns the reason when rejected, "" otherwise.
func (d *Document) RejectionReason() string {
	if d.Detail.Rejected != nil {
		return d.Detail.Rejected.Reason
	}
	return ""
}

// MarshalDetail encodes the status detail for storage.
func (d *Document) MarshalDetail() ([]byte, error) {
	b, err := json.Marshal(d.Detail)
	return b, eris.Wrap(err, "model: marshal status detail")
}

// StatusCounts aggregates documents per status for list responses.
type StatusCounts struct {
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Processing  int `json:"processing"`
	Valid       int `json:"valid"`
	NeedsReview int `json:"needs_review"`
	Approved    int `json:"approved"`
	Rejected    int `json:"rejected"`
	Errored     int `json:"error"`
}

// Add counts one document with the given status.
func (c *StatusCounts) Add(s DocumentStatus, n int) {
	c.Total += n
	switch s {
	case StatusPending:
		c.Pending += n
	case StatusProcessing:
		c.Processing += n
	case StatusValid:
		c.Valid += n
	case StatusNeedsReview:
		c.NeedsReview += n
	case StatusApproved:
		c.Approved += n
	case StatusRejected:
		c.Rejected += n
	case StatusError:
		c.Errored += n
	}
}
