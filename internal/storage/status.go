package storage

import "fmt"

type PieceStatus string

const (
	PieceAvailable PieceStatus = "available"
	PieceAllocated PieceStatus = "allocated"
	PieceIssued    PieceStatus = "issued"
	PieceConsumed  PieceStatus = "consumed"
	PieceScrap     PieceStatus = "scrap"
)

var pieceTransitions = map[PieceStatus][]PieceStatus{
	PieceAvailable: {PieceAllocated, PieceScrap},
	PieceAllocated: {PieceAvailable, PieceIssued},
	PieceIssued:    {PieceConsumed, PieceScrap},
	PieceConsumed:  {},
	PieceScrap:     {},
}

func (s PieceStatus) Valid() bool {
	_, ok := pieceTransitions[s]
	return ok
}

// CanTransitionTo reports whether a piece may move from s to next.
func (s PieceStatus) CanTransitionTo(next PieceStatus) bool {
	for _, allowed := range pieceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func ParsePieceStatus(v string) (PieceStatus, error) {
	s := PieceStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown piece status %q", ErrValidation, v)
	}
	return s, nil
}

type RequisitionStatus string

const (
	RequisitionPending  RequisitionStatus = "pending"
	RequisitionApproved RequisitionStatus = "approved"
	RequisitionRejected RequisitionStatus = "rejected"
	RequisitionIssued   RequisitionStatus = "issued"
)

var requisitionTransitions = map[RequisitionStatus][]RequisitionStatus{
	RequisitionPending:  {RequisitionApproved, RequisitionRejected},
	RequisitionApproved: {RequisitionIssued},
	RequisitionRejected: {},
	RequisitionIssued:   {},
}

func (s RequisitionStatus) Valid() bool {
	_, ok := requisitionTransitions[s]
	return ok
}

func (s RequisitionStatus) CanTransitionTo(next RequisitionStatus) bool {
	for _, allowed := range requisitionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func ParseRequisitionStatus(v string) (RequisitionStatus, error) {
	s := RequisitionStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown requisition status %q", ErrValidation, v)
	}
	return s, nil
}

type DraftStatus string

const (
	DraftOpen      DraftStatus = "draft"
	DraftFinalized DraftStatus = "finalized"
	DraftIssued    DraftStatus = "issued"
)

// Finalized drafts cannot go back to Draft.
var draftTransitions = map[DraftStatus][]DraftStatus{
	DraftOpen:      {DraftFinalized},
	DraftFinalized: {DraftIssued},
	DraftIssued:    {},
}

func (s DraftStatus) Valid() bool {
	_, ok := draftTransitions[s]
	return ok
}

func (s DraftStatus) CanTransitionTo(next DraftStatus) bool {
	for _, allowed := range draftTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func ParseDraftStatus(v string) (DraftStatus, error) {
	s := DraftStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown draft status %q", ErrValidation, v)
	}
	return s, nil
}
