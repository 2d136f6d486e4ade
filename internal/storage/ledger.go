package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// IssuanceEntry is the ledger record handed to the issuance module for one
// requisition. PieceIDs are the pieces issued to the requisition itself;
// SharedPieceIDs are pieces it was cut from that another requisition of the
// same draft holds. TotalLengthMM is the consumed length: whole pieces for a
// FIFO issue, the requisition's cuts for a draft issue.
type IssuanceEntry struct {
	ID             int64           `json:"id"`
	IssueNo        string          `json:"issue_no"`
	RequisitionID  int64           `json:"requisition_id"`
	JobCardID      *int64          `json:"job_card_id"`
	PieceIDs       []int64         `json:"piece_ids"`
	SharedPieceIDs []int64         `json:"shared_piece_ids"`
	PieceCount     int             `json:"piece_count"`
	TotalLengthMM  int             `json:"total_length_mm"`
	ScrapMM        int             `json:"scrap_mm"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	IssuedBy       string          `json:"issued_by"`
	ReceivedBy     string          `json:"received_by"`
	IssuedAt       time.Time       `json:"issued_at"`
}

// CutUsage is what one requisition consumed from the bars of a draft.
type CutUsage struct {
	CutLengthMM    int
	ScrapMM        int
	SharedPieceIDs []int64
}

type AllocationResult struct {
	RequisitionID    int64   `json:"requisition_id"`
	PieceIDs         []int64 `json:"piece_ids"`
	AllocatedMM      int     `json:"allocated_mm"`
	RequiredLengthMM int     `json:"required_length_mm"`
}
