package storage

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MaterialSpec identifies which pieces can serve a cut. Cuts of different
// specs never share a bar.
type MaterialSpec struct {
	MaterialID int64   `json:"material_id"`
	Grade      string  `json:"grade"`
	Diameter   float64 `json:"diameter"`
}

func (m MaterialSpec) Valid() bool {
	return m.MaterialID > 0 && m.Diameter >= 0
}

func (m MaterialSpec) String() string {
	return fmt.Sprintf("%d/%s/%g", m.MaterialID, m.Grade, m.Diameter)
}

// Less orders specs for stable output.
func (m MaterialSpec) Less(o MaterialSpec) bool {
	if m.MaterialID != o.MaterialID {
		return m.MaterialID < o.MaterialID
	}
	if m.Grade != o.Grade {
		return m.Grade < o.Grade
	}
	return m.Diameter < o.Diameter
}

type MaterialPiece struct {
	ID int64 `json:"id"`
	MaterialSpec
	CurrentLengthMM  int             `json:"current_length_mm"`
	OriginalLengthMM int             `json:"original_length_mm"`
	Status           PieceStatus     `json:"status"`
	Location         string          `json:"location"`
	ReceivedAt       time.Time       `json:"received_at"`
	SourceDocID      *int64          `json:"source_doc_id"`
	SourceDocNo      string          `json:"source_doc_no"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	RequisitionID    *int64          `json:"requisition_id"`
	JobCardID        *int64          `json:"job_card_id"`
	IssuedAt         *time.Time      `json:"issued_at"`
	IssuedBy         string          `json:"issued_by"`
}

// FIFOLess orders pieces oldest receipt first, then by id.
func FIFOLess(a, b MaterialPiece) bool {
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		return a.ReceivedAt.Before(b.ReceivedAt)
	}
	return a.ID < b.ID
}

// RemnantDocNo is the source document number of an offcut returned to stock.
func RemnantDocNo(parentID int64) string {
	return fmt.Sprintf("REM-%d", parentID)
}
