package storage

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

type IssueWindowDraft struct {
	ID             int64           `json:"id"`
	RequisitionIDs []int64         `json:"requisition_ids"`
	Bars           []BarAssignment `json:"bars"`
	Status         DraftStatus     `json:"status"`
	Version        int             `json:"version"`
	SavedBy        string          `json:"saved_by"`
	IssuedBy       string          `json:"issued_by"`
	ReceivedBy     string          `json:"received_by"`
	IssuedAt       *time.Time      `json:"issued_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// RequisitionKey is the canonical form of a requisition set: sorted, unique,
// comma joined. Drafts are upserted by this key.
func RequisitionKey(ids []int64) string {
	sorted := NormalizeIDs(ids)
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func NormalizeIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

type IssueOutcome string

const (
	OutcomeIssued        IssueOutcome = "issued"
	OutcomeAlreadyIssued IssueOutcome = "already_issued"
	OutcomeFailed        IssueOutcome = "failed"
)

type RequisitionIssueResult struct {
	RequisitionID int64        `json:"requisition_id"`
	Outcome       IssueOutcome `json:"outcome"`
	IssueNo       string       `json:"issue_no,omitempty"`
	Error         string       `json:"error,omitempty"`
}

type DraftIssueReport struct {
	DraftID   int64                    `json:"draft_id"`
	Status    DraftStatus              `json:"status"`
	Results   []RequisitionIssueResult `json:"results"`
	Remnants  []int64                  `json:"remnant_piece_ids"`
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
}

// DraftStatusUpdate moves a draft from one status to the next. The update
// only applies while the draft is still in From.
type DraftStatusUpdate struct {
	ID         int64
	From       DraftStatus
	To         DraftStatus
	IssuedBy   string
	ReceivedBy string
	IssuedAt   *time.Time
}
