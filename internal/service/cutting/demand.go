package cutting

import (
	"sort"

	"cutting-erp/internal/storage"
)

// Aggregate expands the items of approved requisitions into one row per
// physical cut and groups the rows by exact material spec. Items without a
// spec, with a non-positive length or with no pieces produce no rows.
// Groups come back ordered by spec.
func Aggregate(requisitions []storage.MaterialRequisition) []storage.MaterialDemand {
	groups := make(map[storage.MaterialSpec][]storage.CutDemandRow)

	for _, req := range requisitions {
		if req.Status != storage.RequisitionApproved {
			continue
		}

		for _, item := range req.Items {
			if !item.MaterialSpec.Valid() || item.RequiredLengthMM <= 0 || item.NumberOfPieces <= 0 {
				continue
			}

			labels := storage.CutLabels{
				ReqNo:    req.ReqNo,
				OrderNo:  req.OrderNo,
				PartName: item.PartName,
			}

			for i := 0; i < item.NumberOfPieces; i++ {
				groups[item.MaterialSpec] = append(groups[item.MaterialSpec], storage.CutDemandRow{
					RequisitionItemID: item.ID,
					RequisitionID:     req.ID,
					CutIndex:          i,
					CutLengthMM:       item.RequiredLengthMM,
					MaterialID:        item.MaterialID,
					Labels:            labels,
				})
			}
		}
	}

	specs := make([]storage.MaterialSpec, 0, len(groups))
	for spec := range groups {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Less(specs[j]) })

	demand := make([]storage.MaterialDemand, 0, len(specs))
	for _, spec := range specs {
		demand = append(demand, storage.MaterialDemand{Spec: spec, Cuts: groups[spec]})
	}

	return demand
}
