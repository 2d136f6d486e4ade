package storage

import "time"

type MaterialRequisition struct {
	ID         int64             `json:"id"`
	ReqNo      string            `json:"req_no"`
	OrderNo    string            `json:"order_no"`
	Status     RequisitionStatus `json:"status"`
	JobCardID  *int64            `json:"job_card_id"`
	IssuedBy   string            `json:"issued_by"`
	ReceivedBy string            `json:"received_by"`
	IssuedAt   *time.Time        `json:"issued_at"`
	Items      []RequisitionItem `json:"items"`
}

type RequisitionItem struct {
	ID            int64 `json:"id"`
	RequisitionID int64 `json:"requisition_id"`
	MaterialSpec
	PartName         string     `json:"part_name"`
	RequiredLengthMM int        `json:"required_length_mm"`
	NumberOfPieces   int        `json:"number_of_pieces"`
	SelectedPieces   []PieceCut `json:"selected_pieces"`
}

// PieceCut records which physical piece served one cut of an item, in cut order.
type PieceCut struct {
	PieceID     int64 `json:"piece_id"`
	CutLengthMM int   `json:"cut_length_mm"`
}
