package cutting

import (
	"sort"

	"cutting-erp/internal/storage"
)

// Optimize produces one plan per strategy for a single material group. Each
// strategy draws from its own copy of pool, so plans never share a piece
// decision. The result is a heuristic; identical input gives identical plans.
func Optimize(spec storage.MaterialSpec, cuts []storage.CutDemandRow, pool []storage.MaterialPiece) []storage.CuttingPlan {
	plans := make([]storage.CuttingPlan, 0, len(storage.Strategies))
	for _, strategy := range storage.Strategies {
		plans = append(plans, Run(strategy, spec, cuts, pool))
	}
	return plans
}

type openBar struct {
	piece     storage.MaterialPiece
	remaining int
	cuts      []storage.CutDemandRow
}

// Run packs cuts onto pieces with one strategy.
//
//	min_waste:     best-fit over open bars, new bar = smallest piece that fits
//	fewest_bars:   first-fit over open bars, new bar = largest piece
//	group_by_size: first-fit over open bars, new bar = smallest piece that fits
func Run(strategy storage.Strategy, spec storage.MaterialSpec, cuts []storage.CutDemandRow, pool []storage.MaterialPiece) storage.CuttingPlan {
	plan := storage.CuttingPlan{
		Strategy:   strategy,
		Spec:       spec,
		Bars:       []storage.BarAssignment{},
		Unassigned: []storage.CutDemandRow{},
	}

	stock := newStock(pool)
	var bars []*openBar

	for _, cut := range orderCuts(cuts) {
		length := cut.CutLengthMM
		if length <= 0 {
			plan.Unassigned = append(plan.Unassigned, cut)
			continue
		}

		var bar *openBar
		if strategy == storage.StrategyMinWaste {
			bar = bestFit(bars, length)
		} else {
			bar = firstFit(bars, length)
		}

		if bar == nil {
			var (
				piece storage.MaterialPiece
				ok    bool
			)
			if strategy == storage.StrategyFewestBars {
				piece, ok = stock.takeLargest(length)
			} else {
				piece, ok = stock.takeSmallest(length)
			}
			if !ok {
				plan.Unassigned = append(plan.Unassigned, cut)
				continue
			}

			bar = &openBar{piece: piece, remaining: piece.CurrentLengthMM}
			bars = append(bars, bar)
		}

		bar.cuts = append(bar.cuts, cut)
		bar.remaining -= length
	}

	for _, b := range bars {
		assignment := storage.BarAssignment{
			PieceID:     b.piece.ID,
			BarLengthMM: b.piece.CurrentLengthMM,
			Cuts:        b.cuts,
		}
		assignment.Recalculate()
		plan.Bars = append(plan.Bars, assignment)
	}

	Summarize(&plan)

	return plan
}

// Summarize recomputes the plan-level totals from its bars.
func Summarize(plan *storage.CuttingPlan) {
	plan.TotalBars = len(plan.Bars)
	plan.TotalScrapMM = 0
	plan.TotalStockReturnMM = 0
	plan.TotalBarLengthUsedMM = 0

	for _, b := range plan.Bars {
		plan.TotalBarLengthUsedMM += b.BarLengthMM
		if b.IsScrap {
			plan.TotalScrapMM += b.RemainingMM
		} else {
			plan.TotalStockReturnMM += b.RemainingMM
		}
	}

	plan.IsComplete = len(plan.Unassigned) == 0
}

// orderCuts sorts longest first; ties by item then cut index.
func orderCuts(cuts []storage.CutDemandRow) []storage.CutDemandRow {
	ordered := make([]storage.CutDemandRow, len(cuts))
	copy(ordered, cuts)

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.CutLengthMM != b.CutLengthMM {
			return a.CutLengthMM > b.CutLengthMM
		}
		if a.RequisitionItemID != b.RequisitionItemID {
			return a.RequisitionItemID < b.RequisitionItemID
		}
		return a.CutIndex < b.CutIndex
	})

	return ordered
}

// bestFit returns the open bar with the least remaining capacity that still
// holds length. The earliest opened bar wins a tie.
func bestFit(bars []*openBar, length int) *openBar {
	var best *openBar
	for _, b := range bars {
		if b.remaining < length {
			continue
		}
		if best == nil || b.remaining < best.remaining {
			best = b
		}
	}
	return best
}

func firstFit(bars []*openBar, length int) *openBar {
	for _, b := range bars {
		if b.remaining >= length {
			return b
		}
	}
	return nil
}

// stock is a private copy of the pool sorted by length ascending, equal
// lengths in FIFO order.
type stock struct {
	pieces []storage.MaterialPiece
}

func newStock(pool []storage.MaterialPiece) *stock {
	pieces := make([]storage.MaterialPiece, 0, len(pool))
	for _, p := range pool {
		if p.Status != "" && p.Status != storage.PieceAvailable {
			continue
		}
		if p.CurrentLengthMM <= 0 {
			continue
		}
		pieces = append(pieces, p)
	}

	sort.SliceStable(pieces, func(i, j int) bool {
		if pieces[i].CurrentLengthMM != pieces[j].CurrentLengthMM {
			return pieces[i].CurrentLengthMM < pieces[j].CurrentLengthMM
		}
		return storage.FIFOLess(pieces[i], pieces[j])
	})

	return &stock{pieces: pieces}
}

func (s *stock) takeSmallest(length int) (storage.MaterialPiece, bool) {
	idx := sort.Search(len(s.pieces), func(i int) bool {
		return s.pieces[i].CurrentLengthMM >= length
	})
	if idx == len(s.pieces) {
		return storage.MaterialPiece{}, false
	}
	return s.take(idx), true
}

// takeLargest picks the oldest of the longest pieces, provided it holds length.
func (s *stock) takeLargest(length int) (storage.MaterialPiece, bool) {
	if len(s.pieces) == 0 {
		return storage.MaterialPiece{}, false
	}

	longest := s.pieces[len(s.pieces)-1].CurrentLengthMM
	if longest < length {
		return storage.MaterialPiece{}, false
	}

	idx := sort.Search(len(s.pieces), func(i int) bool {
		return s.pieces[i].CurrentLengthMM >= longest
	})
	return s.take(idx), true
}

func (s *stock) take(idx int) storage.MaterialPiece {
	piece := s.pieces[idx]
	s.pieces = append(s.pieces[:idx], s.pieces[idx+1:]...)
	return piece
}
