package storage

import "fmt"

// ScrapThresholdMM is the shortest offcut that goes back to stock.
const ScrapThresholdMM = 300

type Strategy string

const (
	StrategyMinWaste    Strategy = "min_waste"
	StrategyFewestBars  Strategy = "fewest_bars"
	StrategyGroupBySize Strategy = "group_by_size"
)

// Strategies lists the heuristics in the order plans are reported.
var Strategies = []Strategy{StrategyMinWaste, StrategyFewestBars, StrategyGroupBySize}

type CutLabels struct {
	ReqNo    string `json:"req_no"`
	OrderNo  string `json:"order_no"`
	PartName string `json:"part_name"`
}

// CutDemandRow is one physical cut derived from a requisition item.
type CutDemandRow struct {
	RequisitionItemID int64     `json:"requisition_item_id"`
	RequisitionID     int64     `json:"requisition_id"`
	CutIndex          int       `json:"cut_index"`
	CutLengthMM       int       `json:"cut_length_mm"`
	MaterialID        int64     `json:"material_id"`
	Labels            CutLabels `json:"display_labels"`
}

type MaterialDemand struct {
	Spec MaterialSpec   `json:"spec"`
	Cuts []CutDemandRow `json:"cuts"`
}

type BarAssignment struct {
	PieceID     int64          `json:"piece_id"`
	BarLengthMM int            `json:"bar_length_mm"`
	TotalCutMM  int            `json:"total_cut_mm"`
	RemainingMM int            `json:"remaining_mm"`
	IsScrap     bool           `json:"is_scrap"`
	Cuts        []CutDemandRow `json:"cuts"`
}

// Recalculate refreshes the derived totals from the bar's cuts.
func (b *BarAssignment) Recalculate() {
	total := 0
	for _, c := range b.Cuts {
		total += c.CutLengthMM
	}
	b.TotalCutMM = total
	b.RemainingMM = b.BarLengthMM - total
	b.IsScrap = b.RemainingMM < ScrapThresholdMM
}

// CheckPiece verifies that bar can be cut from p: the bar is planned on the
// piece's current length and every cut is of the piece's exact material spec.
// itemSpecs maps requisition item id to the item's spec; cuts of items missing
// from it are rejected.
func (b BarAssignment) CheckPiece(p MaterialPiece, itemSpecs map[int64]MaterialSpec) error {
	if b.BarLengthMM != p.CurrentLengthMM {
		return fmt.Errorf("%w: bar is planned on %dmm, piece %d has %dmm", ErrConflict, b.BarLengthMM, p.ID, p.CurrentLengthMM)
	}

	total := 0
	for _, c := range b.Cuts {
		spec, ok := itemSpecs[c.RequisitionItemID]
		if !ok {
			return fmt.Errorf("%w: cut of unknown item %d on piece %d", ErrValidation, c.RequisitionItemID, p.ID)
		}
		if spec != p.MaterialSpec {
			return fmt.Errorf("%w: piece %d is %s, item %d needs %s", ErrValidation, p.ID, p.MaterialSpec, c.RequisitionItemID, spec)
		}
		total += c.CutLengthMM
	}
	if total > p.CurrentLengthMM {
		return fmt.Errorf("%w: piece %d has %dmm, cuts need %dmm", ErrValidation, p.ID, p.CurrentLengthMM, total)
	}

	return nil
}

// ItemSpecs maps every item of reqs to its material spec.
func ItemSpecs(reqs ...MaterialRequisition) map[int64]MaterialSpec {
	specs := make(map[int64]MaterialSpec)
	for _, r := range reqs {
		for _, it := range r.Items {
			specs[it.ID] = it.MaterialSpec
		}
	}
	return specs
}

type CuttingPlan struct {
	Strategy             Strategy        `json:"strategy"`
	Spec                 MaterialSpec    `json:"spec"`
	TotalBars            int             `json:"total_bars"`
	TotalScrapMM         int             `json:"total_scrap_mm"`
	TotalStockReturnMM   int             `json:"total_stock_return_mm"`
	TotalBarLengthUsedMM int             `json:"total_bar_length_used_mm"`
	IsComplete           bool            `json:"is_complete"`
	Bars                 []BarAssignment `json:"bars"`
	Unassigned           []CutDemandRow  `json:"unassigned"`
}

type MaterialPlans struct {
	Spec      MaterialSpec  `json:"spec"`
	CutCount  int           `json:"cut_count"`
	PoolCount int           `json:"pool_count"`
	Plans     []CuttingPlan `json:"plans"`
}
